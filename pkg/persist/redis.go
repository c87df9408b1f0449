package persist

import (
	"context"
	"fmt"
	"strconv"

	"github.com/go-redis/redis/v8"
)

// RedisStore implements Store as one Redis hash per robot.
type RedisStore struct {
	client *redis.Client
	key    string
}

// RedisOptions configures a RedisStore.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	RobotID  string
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(ctx context.Context, opts RedisOptions) (*RedisStore, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	if _, err := rdb.Ping(ctx).Result(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedisStoreFromClient(rdb, opts.RobotID), nil
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(client *redis.Client, robotID string) *RedisStore {
	return &RedisStore{
		client: client,
		key:    fmt.Sprintf("weedbot:config:%s", robotID),
	}
}

// Key returns the hash key used for this robot.
func (s *RedisStore) Key() string {
	return s.key
}

// Load implements Store.
func (s *RedisStore) Load(ctx context.Context) (Record, error) {
	fields, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		return Record{}, fmt.Errorf("failed to read config from Redis: %w", err)
	}
	if len(fields) == 0 {
		return Record{}, ErrNotFound
	}
	return recordFromFields(fields)
}

// Save implements Store.
func (s *RedisStore) Save(ctx context.Context, rec Record) error {
	if err := s.client.HSet(ctx, s.key, fieldsFromRecord(rec)).Err(); err != nil {
		return fmt.Errorf("failed to save config to Redis: %w", err)
	}
	return nil
}

// Close releases the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func fieldsFromRecord(rec Record) map[string]interface{} {
	f := func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
	return map[string]interface{}{
		"motor_speed":                f(rec.MotorSpeed),
		"pump_detection_duration":    f(rec.PumpDetectionDuration),
		"water_per_spray_ml":         f(rec.WaterPerSprayMl),
		"water_tank_capacity_ml":     f(rec.WaterTankCapacityMl),
		"current_water_level_ml":     f(rec.CurrentWaterLevelMl),
		"detection_cooldown_s":       f(rec.DetectionCooldownS),
		"motor_pause_on_detection_s": f(rec.MotorPauseOnDetectionS),
	}
}

func recordFromFields(fields map[string]string) (Record, error) {
	rec := Defaults()
	targets := map[string]*float64{
		"motor_speed":                &rec.MotorSpeed,
		"pump_detection_duration":    &rec.PumpDetectionDuration,
		"water_per_spray_ml":         &rec.WaterPerSprayMl,
		"water_tank_capacity_ml":     &rec.WaterTankCapacityMl,
		"current_water_level_ml":     &rec.CurrentWaterLevelMl,
		"detection_cooldown_s":       &rec.DetectionCooldownS,
		"motor_pause_on_detection_s": &rec.MotorPauseOnDetectionS,
	}
	for key, dst := range targets {
		raw, ok := fields[key]
		if !ok {
			continue
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return Record{}, fmt.Errorf("field %s: %w", key, err)
		}
		*dst = v
	}
	return rec, nil
}
