package alerts

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingRunner struct {
	days []time.Time
}

func (r *countingRunner) Run(_ context.Context, today time.Time) (Summary, error) {
	r.days = append(r.days, today)
	return Summary{}, nil
}

type stubGuard struct {
	acquired bool
	err      error
	calls    int
}

func (g *stubGuard) Acquire(context.Context, time.Time) (bool, error) {
	g.calls++
	return g.acquired, g.err
}

func at(day, hour int) time.Time {
	return time.Date(2026, time.March, day, hour, 30, 0, 0, time.UTC)
}

func TestSchedulerRunsOncePerDayAfterHour(t *testing.T) {
	runner := &countingRunner{}
	s := NewScheduler(runner, nil, 9, zerolog.Nop())
	ctx := context.Background()

	clock := at(10, 8)
	s.now = func() time.Time { return clock }

	assert.False(t, s.tick(ctx), "before the alert hour")

	clock = at(10, 9)
	assert.True(t, s.tick(ctx))

	clock = at(10, 17)
	assert.False(t, s.tick(ctx), "already ran today")

	clock = at(11, 3)
	assert.False(t, s.tick(ctx))

	clock = at(11, 12)
	assert.True(t, s.tick(ctx))

	require.Len(t, runner.days, 2)
	assert.Equal(t, at(10, 9), runner.days[0])
	assert.Equal(t, at(11, 12), runner.days[1])
}

func TestSchedulerRespectsGuard(t *testing.T) {
	runner := &countingRunner{}
	guard := &stubGuard{acquired: false}
	s := NewScheduler(runner, guard, 0, zerolog.Nop())
	s.now = func() time.Time { return at(10, 9) }

	assert.False(t, s.tick(context.Background()))
	assert.False(t, s.tick(context.Background()))
	assert.Empty(t, runner.days)
	assert.Equal(t, 1, guard.calls)
}

func TestSchedulerRunsWhenGuardFails(t *testing.T) {
	runner := &countingRunner{}
	s := NewScheduler(runner, &stubGuard{err: errors.New("connection refused")}, 0, zerolog.Nop())
	s.now = func() time.Time { return at(10, 9) }

	assert.True(t, s.tick(context.Background()))
	assert.Len(t, runner.days, 1)
}

type flakyRunner struct {
	failures int
	calls    int
}

func (r *flakyRunner) Run(context.Context, time.Time) (Summary, error) {
	r.calls++
	if r.calls <= r.failures {
		return Summary{}, errors.New("database is locked")
	}
	return Summary{}, nil
}

func TestSchedulerRetriesFailedRunSameDay(t *testing.T) {
	runner := &flakyRunner{failures: 1}
	guard := &stubGuard{acquired: true}
	s := NewScheduler(runner, guard, 9, zerolog.Nop())
	ctx := context.Background()

	clock := at(10, 9)
	s.now = func() time.Time { return clock }
	assert.True(t, s.tick(ctx))

	clock = at(10, 10)
	assert.True(t, s.tick(ctx), "failed run is retried")

	clock = at(10, 23)
	assert.False(t, s.tick(ctx), "retry succeeded")

	assert.Equal(t, 2, runner.calls)
	assert.Equal(t, 1, guard.calls, "held claim is not re-acquired")
}

func TestSchedulerStartStopsOnCancel(t *testing.T) {
	runner := &countingRunner{}
	s := NewScheduler(runner, nil, 0, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Start(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}

type fakeRedis struct {
	key   string
	value interface{}
	ttl   time.Duration
	ok    bool
	err   error
}

func (f *fakeRedis) SetNX(_ context.Context, key string, value interface{}, ttl time.Duration) *redis.BoolCmd {
	f.key, f.value, f.ttl = key, value, ttl
	return redis.NewBoolResult(f.ok, f.err)
}

func TestRedisGuard(t *testing.T) {
	fake := &fakeRedis{ok: true}
	g := NewRedisGuard(fake, "instance-a")
	day := time.Date(2026, time.March, 10, 0, 0, 0, 0, time.UTC)

	ok, err := g.Acquire(context.Background(), day)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "returnradar:alerts:2026-03-10", fake.key)
	assert.Equal(t, "instance-a", fake.value)
	assert.Equal(t, 26*time.Hour, fake.ttl)

	fake.ok = false
	ok, err = g.Acquire(context.Background(), day)
	require.NoError(t, err)
	assert.False(t, ok)

	fake.err = errors.New("READONLY")
	_, err = g.Acquire(context.Background(), day)
	assert.Error(t, err)
}

func TestNewRedisGuardFromURL(t *testing.T) {
	g, client, err := NewRedisGuardFromURL("redis://localhost:6379/2", "x")
	require.NoError(t, err)
	defer client.Close()
	assert.NotNil(t, g)
	assert.Equal(t, 2, client.Options().DB)

	_, _, err = NewRedisGuardFromURL("http://nope", "x")
	assert.Error(t, err)
}
