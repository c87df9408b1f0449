package persist

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testFileStore(t *testing.T) *FileStore {
	t.Helper()
	store, err := NewFileStore(filepath.Join(t.TempDir(), "robot", "config.json"))
	require.NoError(t, err)
	return store
}

func TestFileStore_NotFound(t *testing.T) {
	store := testFileStore(t)
	_, err := store.Load(context.Background())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFileStore_SaveLoad(t *testing.T) {
	store := testFileStore(t)
	ctx := context.Background()

	rec := Defaults()
	rec.CurrentWaterLevelMl = 120
	rec.DetectionCooldownS = 2.5
	require.NoError(t, store.Save(ctx, rec))

	got, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, rec, got)

	// No temp file left behind.
	_, err = os.Stat(store.Path() + ".tmp")
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestFileStore_MissingKeysFallBack(t *testing.T) {
	store := testFileStore(t)
	require.NoError(t, os.WriteFile(store.Path(), []byte(`{"water_per_spray_ml": 12.5}`), 0o644))

	got, err := store.Load(context.Background())
	require.NoError(t, err)

	want := Defaults()
	want.WaterPerSprayMl = 12.5
	assert.Equal(t, want, got)
}

func TestFileStore_Corrupt(t *testing.T) {
	store := testFileStore(t)
	require.NoError(t, os.WriteFile(store.Path(), []byte(`{"motor_speed": "fast"`), 0o644))

	_, err := store.Load(context.Background())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestRecordFields_RoundTrip(t *testing.T) {
	rec := Defaults()
	rec.WaterTankCapacityMl = 350
	rec.MotorSpeed = 0

	fields := map[string]string{}
	for k, v := range fieldsFromRecord(rec) {
		fields[k] = v.(string)
	}
	got, err := recordFromFields(fields)
	require.NoError(t, err)
	assert.Equal(t, rec, got)
}

func TestRecordFromFields_PartialAndInvalid(t *testing.T) {
	got, err := recordFromFields(map[string]string{"detection_cooldown_s": "4"})
	require.NoError(t, err)
	want := Defaults()
	want.DetectionCooldownS = 4
	assert.Equal(t, want, got)

	_, err = recordFromFields(map[string]string{"motor_speed": "abc"})
	assert.Error(t, err)
}

func TestMemoryStore(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	_, err := m.Load(ctx)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, m.Save(ctx, Defaults()))
	got, err := m.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, Defaults(), got)
	assert.Equal(t, 1, m.Saves())

	boom := errors.New("disk gone")
	m.SetLoadError(boom)
	_, err = m.Load(ctx)
	assert.ErrorIs(t, err, boom)
}

func TestWatcher_IgnoresOwnWritesAndReportsEdits(t *testing.T) {
	store := testFileStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := make(chan Record, 4)
	w, err := NewWatcher(store, func(r Record) { changes <- r }, nil)
	require.NoError(t, err)
	w.SetDebounce(20 * time.Millisecond)
	require.NoError(t, w.Start(ctx))
	defer w.Close()

	require.NoError(t, store.Save(ctx, Defaults()))
	select {
	case r := <-changes:
		t.Fatalf("own write reported as edit: %+v", r)
	case <-time.After(200 * time.Millisecond):
	}

	require.NoError(t, os.WriteFile(store.Path(), []byte(`{"detection_cooldown_s": 7}`), 0o644))
	select {
	case r := <-changes:
		assert.Equal(t, 7.0, r.DetectionCooldownS)
		assert.Equal(t, Defaults().WaterPerSprayMl, r.WaterPerSprayMl)
	case <-time.After(2 * time.Second):
		t.Fatal("external edit not reported")
	}
}

func TestWatcher_HandlerPanicIsContained(t *testing.T) {
	store := testFileStore(t)
	w, err := NewWatcher(store, func(Record) { panic("handler bug") }, nil)
	require.NoError(t, err)
	defer w.Close()

	assert.NotPanics(t, func() { w.deliver(Defaults()) })
}
