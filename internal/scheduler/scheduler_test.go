package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"quill/api/internal/logging"
)

func TestAddRejectsBadSpecAndDuplicates(t *testing.T) {
	s := New(zap.NewNop(), time.Second)
	noop := func(context.Context) error { return nil }

	require.NoError(t, s.Add("publish-due", "@every 1m", noop))
	assert.Error(t, s.Add("publish-due", "@every 1m", noop))
	assert.Error(t, s.Add("broken", "not a cron spec", noop))
}

func TestRunNowLogsFailures(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	s := New(zap.New(core), time.Second)

	boom := errors.New("db unavailable")
	require.NoError(t, s.Add("publish-due", "@every 1m", func(context.Context) error { return boom }))

	err := s.RunNow(context.Background(), "publish-due")
	assert.ErrorIs(t, err, boom)
	require.Equal(t, 1, logs.FilterMessage("scheduled job failed").Len())
	assert.Equal(t, "publish-due", logs.All()[0].ContextMap()["job"])

	assert.Error(t, s.RunNow(context.Background(), "missing"))
}

func TestJobsLogThroughSchedulerLogger(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	s := New(zap.New(core), time.Second)
	require.NoError(t, s.Add("publish-due", "@every 1m", func(ctx context.Context) error {
		logging.FromContext(ctx).Warn("article load failed")
		return nil
	}))

	require.NoError(t, s.RunNow(context.Background(), "publish-due"))
	entries := logs.FilterMessage("article load failed").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "publish-due", entries[0].ContextMap()["job"])
}

func TestRunNowAppliesTimeout(t *testing.T) {
	s := New(zap.NewNop(), 20*time.Millisecond)
	require.NoError(t, s.Add("slow", "@every 1m", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}))
	assert.ErrorIs(t, s.RunNow(context.Background(), "slow"), context.DeadlineExceeded)
}

func TestStartRunsJobsOnSchedule(t *testing.T) {
	s := New(zap.NewNop(), time.Second)
	var runs atomic.Int32
	fired := make(chan struct{}, 1)
	require.NoError(t, s.Add("tick", "@every 1s", func(context.Context) error {
		if runs.Add(1) == 1 {
			fired <- struct{}{}
		}
		return nil
	}))

	s.Start()
	select {
	case <-fired:
	case <-time.After(3 * time.Second):
		t.Fatal("job did not run within 3s")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
}
