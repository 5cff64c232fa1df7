package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeReaper struct {
	calls   int
	maxIdle time.Duration
}

func (f *fakeReaper) Reap(_ context.Context, maxIdle time.Duration) int {
	f.calls++
	f.maxIdle = maxIdle
	return 2
}

type fakeSweeper struct{ calls int }

func (f *fakeSweeper) Sweep() int {
	f.calls++
	return 1
}

type fakeSessions struct {
	calls int
	err   error
}

func (f *fakeSessions) ExpireSessions(context.Context) (int64, error) {
	f.calls++
	return 1, f.err
}

func TestSpecsParse(t *testing.T) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	for _, spec := range []string{ReapSpec, SweepSpec, SessionsSpec} {
		_, err := parser.Parse(spec)
		assert.NoError(t, err, spec)
	}
}

func TestStartRegistersOnlyGivenJobs(t *testing.T) {
	s := NewScheduler(nil, 0, nil)
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()
	assert.Empty(t, s.cron.Entries())

	full := NewScheduler(&fakeReaper{}, time.Hour, &fakeSessions{}, &fakeSweeper{}, &fakeSweeper{})
	require.NoError(t, full.Start(context.Background()))
	defer full.Stop()
	assert.Len(t, full.cron.Entries(), 3)
}

func TestJobBodies(t *testing.T) {
	ctx := context.Background()
	reaper := &fakeReaper{}
	sw1, sw2 := &fakeSweeper{}, &fakeSweeper{}
	sessions := &fakeSessions{}
	s := NewScheduler(reaper, 6*time.Hour, sessions, sw1, sw2)

	s.reapSessions(ctx)
	assert.Equal(t, 1, reaper.calls)
	assert.Equal(t, 6*time.Hour, reaper.maxIdle)

	s.sweep()
	assert.Equal(t, 1, sw1.calls)
	assert.Equal(t, 1, sw2.calls)

	s.expireSessions(ctx)
	sessions.err = errors.New("db down")
	s.expireSessions(ctx)
	assert.Equal(t, 2, sessions.calls)
}
