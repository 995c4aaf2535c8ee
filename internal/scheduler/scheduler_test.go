package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"
)

func TestEvery_RunsImmediatelyAndOnTicks(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx, cancel := context.WithCancel(context.Background())
	var calls atomic.Int32
	done := make(chan struct{})
	go func() {
		defer close(done)
		Every(ctx, zaptest.NewLogger(t), 5*time.Millisecond, "test", func(context.Context) error {
			if calls.Add(1) == 2 {
				return errors.New("logged, not fatal")
			}
			return nil
		})
	}()

	require.Eventually(t, func() bool { return calls.Load() >= 3 }, 2*time.Second, time.Millisecond)
	cancel()
	<-done
}

func TestCron_InvalidSpec(t *testing.T) {
	err := Cron(context.Background(), zaptest.NewLogger(t), "not a schedule", "test", func(context.Context) error { return nil })
	assert.Error(t, err)
}

func TestCron_StopsOnCancel(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		errc <- Cron(ctx, zaptest.NewLogger(t), "@hourly", "test", func(context.Context) error { return nil })
	}()
	cancel()

	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("cron did not stop")
	}
}
