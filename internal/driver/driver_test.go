package driver

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"

	"github.com/lk2023060901/circuit-go/internal/registry"
	"github.com/lk2023060901/circuit-go/pkg/log"
	"github.com/lk2023060901/circuit-go/pkg/util/merr"
)

func populate(t *testing.T, reg *registry.Registry, sessions, perSession int, hits *atomic.Int32) {
	t.Helper()
	for i := 0; i < sessions; i++ {
		id := fmt.Sprintf("s-%d", i)
		reg.OnSessionOpened(id)
		for j := 0; j < perSession; j++ {
			require.NoError(t, reg.AddComponent(id, registry.NewComponent(registry.RefreshFunc(func() { hits.Inc() })), nil))
		}
	}
}

func TestNewValidates(t *testing.T) {
	_, err := New(registry.New(), Config{})
	assert.ErrorIs(t, err, merr.ErrParameterInvalid)

	_, err = New(registry.New(), Config{Interval: time.Second, Concurrency: -1})
	assert.ErrorIs(t, err, merr.ErrParameterInvalid)

	_, err = New(registry.New(), Config{Interval: time.Second, WorkerExpiry: -time.Second})
	assert.ErrorIs(t, err, merr.ErrParameterInvalid)
}

func TestInvokeNowBroadcast(t *testing.T) {
	log.SetupTestLogger(t, &log.Config{Level: "debug"})
	var hits atomic.Int32
	reg := registry.New()
	populate(t, reg, 3, 2, &hits)
	require.NoError(t, reg.SetSessionState("s-1", true))

	d, err := New(reg, Config{Interval: time.Second})
	require.NoError(t, err)
	defer d.Close()

	assert.Equal(t, 4, d.InvokeNow(context.Background()))
	assert.Equal(t, int32(4), hits.Load())
}

func TestInvokeNowFanout(t *testing.T) {
	log.SetupTestLogger(t, &log.Config{Level: "debug"})
	var hits atomic.Int32
	reg := registry.New()
	populate(t, reg, 8, 3, &hits)
	require.NoError(t, reg.SetSessionState("s-0", true))

	d, err := New(reg, Config{Interval: time.Second, Concurrency: 4, PreAlloc: true, WorkerExpiry: time.Minute})
	require.NoError(t, err)
	defer d.Close()

	assert.Equal(t, 21, d.InvokeNow(context.Background()))
	assert.Equal(t, int32(21), hits.Load())
}

func TestFanoutKeepsComponentOrder(t *testing.T) {
	reg := registry.New()
	var (
		mu    sync.Mutex
		order = map[string][]int{}
	)
	for _, id := range []string{"a", "b", "c"} {
		reg.OnSessionOpened(id)
		for j := 0; j < 5; j++ {
			id, j := id, j
			require.NoError(t, reg.AddComponent(id, registry.NewComponent(registry.RefreshFunc(func() {
				mu.Lock()
				order[id] = append(order[id], j)
				mu.Unlock()
			})), nil))
		}
	}

	d, err := New(reg, Config{Interval: time.Second, Concurrency: 3})
	require.NoError(t, err)
	defer d.Close()

	assert.Equal(t, 15, d.InvokeNow(context.Background()))
	for _, id := range []string{"a", "b", "c"} {
		assert.Equal(t, []int{0, 1, 2, 3, 4}, order[id])
	}
}

func TestRunTicksUntilCanceled(t *testing.T) {
	var hits atomic.Int32
	reg := registry.New()
	populate(t, reg, 1, 1, &hits)

	d, err := New(reg, Config{Interval: 5 * time.Millisecond})
	require.NoError(t, err)
	defer d.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	assert.Eventually(t, func() bool { return hits.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("driver did not stop")
	}
}

func TestTrigger(t *testing.T) {
	var hits atomic.Int32
	reg := registry.New()
	populate(t, reg, 1, 1, &hits)

	d, err := New(reg, Config{Interval: time.Hour})
	require.NoError(t, err)
	defer d.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = d.Run(ctx) }()

	d.Trigger()
	d.Trigger()
	assert.Eventually(t, func() bool { return hits.Load() >= 1 }, 2*time.Second, 5*time.Millisecond)
}
