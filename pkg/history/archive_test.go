package history

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/go-weedbot/pkg/actuation"
)

func openTest(t *testing.T) *Archive {
	t.Helper()
	a, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func spray(id string, at time.Time, kind actuation.SprayKind, amount, level float64) actuation.SprayEvent {
	return actuation.SprayEvent{
		Entry:   actuation.LogEntry{ID: id, Time: at, DurationS: 0.2, AmountMl: amount, Kind: kind},
		LevelMl: level,
	}
}

func TestArchive_RecordAndRecent(t *testing.T) {
	a := openTest(t)
	ctx := context.Background()
	base := time.UnixMilli(1_700_000_000_000)

	for i := 0; i < 5; i++ {
		ev := spray(fmt.Sprintf("s%d", i), base.Add(time.Duration(i)*time.Second), actuation.SprayAuto, 10, 200-float64(i+1)*10)
		require.NoError(t, a.Record(ctx, ev))
	}
	require.NoError(t, a.Record(ctx, spray("s0", base, actuation.SprayAuto, 10, 190)), "duplicate ignored")

	got, err := a.Recent(ctx, 3)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "s4", got[0].ID)
	assert.Equal(t, "s2", got[2].ID)
	assert.Equal(t, 150.0, got[0].LevelAfter)
	assert.True(t, got[0].At.Equal(base.Add(4*time.Second)))
}

func TestArchive_Summary(t *testing.T) {
	a := openTest(t)
	ctx := context.Background()
	base := time.UnixMilli(1_700_000_000_000)

	empty, err := a.Summary(ctx)
	require.NoError(t, err)
	assert.Zero(t, empty.Count)
	assert.Nil(t, empty.First)

	require.NoError(t, a.Record(ctx, spray("a", base, actuation.SprayAuto, 10, 190)))
	require.NoError(t, a.Record(ctx, spray("b", base.Add(time.Second), actuation.SprayAuto, 10, 180)))
	require.NoError(t, a.Record(ctx, spray("c", base.Add(2*time.Second), actuation.SprayTest, 5, 175)))

	sum, err := a.Summary(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, sum.Count)
	assert.Equal(t, 25.0, sum.TotalMl)
	assert.Equal(t, KindSummary{Count: 2, TotalMl: 20}, sum.ByKind["Auto"])
	assert.Equal(t, KindSummary{Count: 1, TotalMl: 5}, sum.ByKind["Test"])
	require.NotNil(t, sum.First)
	assert.True(t, sum.First.Equal(base))
	assert.True(t, sum.Last.Equal(base.Add(2*time.Second)))
}

func TestArchive_RunDrainsQueue(t *testing.T) {
	a := openTest(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		a.Run(ctx)
		close(done)
	}()

	base := time.UnixMilli(1_700_000_000_000)
	for i := 0; i < 10; i++ {
		a.OnSpray(spray(fmt.Sprintf("q%d", i), base.Add(time.Duration(i)*time.Millisecond), actuation.SprayAuto, 1, 0))
	}
	a.OnRefusal(actuation.RefusalBusy)
	cancel()
	<-done

	got, err := a.Recent(context.Background(), 100)
	require.NoError(t, err)
	assert.Len(t, got, 10)
	assert.Zero(t, a.Dropped())
}

func TestArchive_DropsWhenQueueFull(t *testing.T) {
	a := openTest(t)
	for i := 0; i < queueSize+3; i++ {
		a.OnSpray(spray(fmt.Sprintf("d%d", i), time.Now(), actuation.SprayAuto, 1, 0))
	}
	assert.Equal(t, int64(3), a.Dropped())
}

func TestArchive_PersistsOnDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	ctx := context.Background()

	a, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, a.Record(ctx, spray("p1", time.UnixMilli(1_700_000_000_000), actuation.SprayTest, 10, 190)))
	require.NoError(t, a.Close())

	b, err := Open(path)
	require.NoError(t, err)
	defer func() { _ = b.Close() }()
	got, err := b.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Test", got[0].Kind)
}
