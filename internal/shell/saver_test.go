package shell

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"canvas/api/internal/client"
	"canvas/api/internal/workspace"
)

var errOffline = fmt.Errorf("%w: dial tcp: connection refused", client.ErrNetwork)

type persistRecorder struct {
	mu    sync.Mutex
	names []string
	fails []error
}

func (r *persistRecorder) persist(_ context.Context, _ string, patch workspace.Patch) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.names = append(r.names, *patch.Name)
	if len(r.fails) > 0 {
		err := r.fails[0]
		r.fails = r.fails[1:]
		return err
	}
	return nil
}

func (r *persistRecorder) calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.names...)
}

func (r *persistRecorder) count() int { return len(r.calls()) }

func named(name string) workspace.Patch {
	return workspace.Patch{Name: &name}
}

func newTestSaver(rec *persistRecorder, opts SaverOptions) (*Saver, *clockwork.FakeClock) {
	clock := clockwork.NewFakeClock()
	opts.Clock = clock
	opts.Logger = zerolog.Nop()
	return NewSaver(rec.persist, opts), clock
}

func TestSaverWritesLatestStateOnce(t *testing.T) {
	rec := &persistRecorder{}
	s, clock := newTestSaver(rec, SaverOptions{})

	s.Schedule("ws", named("t0"))
	clock.Advance(200 * time.Millisecond)
	s.Schedule("ws", named("t200"))
	clock.Advance(200 * time.Millisecond)
	s.Schedule("ws", named("t400"))

	clock.Advance(999 * time.Millisecond)
	assert.Never(t, func() bool { return rec.count() > 0 }, 50*time.Millisecond, 5*time.Millisecond)

	clock.Advance(time.Millisecond)
	require.Eventually(t, func() bool { return rec.count() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"t400"}, rec.calls())
	assert.False(t, s.Pending("ws"))
}

func TestSaverRetriesWithBackoff(t *testing.T) {
	rec := &persistRecorder{fails: []error{errOffline, errOffline}}
	s, clock := newTestSaver(rec, SaverOptions{})

	s.Schedule("ws", named("draft"))
	clock.Advance(time.Second)
	require.Eventually(t, func() bool { return rec.count() == 1 }, time.Second, 5*time.Millisecond)

	clock.BlockUntil(1)
	assert.True(t, s.Pending("ws"))
	clock.Advance(499 * time.Millisecond)
	assert.Never(t, func() bool { return rec.count() > 1 }, 50*time.Millisecond, 5*time.Millisecond)
	clock.Advance(time.Millisecond)
	require.Eventually(t, func() bool { return rec.count() == 2 }, time.Second, 5*time.Millisecond)

	clock.BlockUntil(1)
	clock.Advance(time.Second)
	require.Eventually(t, func() bool { return rec.count() == 3 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"draft", "draft", "draft"}, rec.calls())
	assert.Eventually(t, func() bool { return !s.Pending("ws") }, time.Second, 5*time.Millisecond)
}

func TestSaverGivesUpAfterMaxAttempts(t *testing.T) {
	rec := &persistRecorder{fails: []error{errOffline, errOffline, errOffline}}
	dropped := make(chan error, 1)
	s, clock := newTestSaver(rec, SaverOptions{
		MaxAttempts: 2,
		OnError:     func(_ string, err error) { dropped <- err },
	})

	s.Schedule("ws", named("draft"))
	clock.Advance(time.Second)
	require.Eventually(t, func() bool { return rec.count() == 1 }, time.Second, 5*time.Millisecond)
	clock.BlockUntil(1)
	clock.Advance(500 * time.Millisecond)

	select {
	case err := <-dropped:
		assert.ErrorIs(t, err, client.ErrNetwork)
	case <-time.After(time.Second):
		t.Fatal("write was not dropped")
	}
	assert.Equal(t, 2, rec.count())
	assert.False(t, s.Pending("ws"))
}

func TestSaverDoesNotRetryClientErrors(t *testing.T) {
	rejected := &client.APIError{Status: 400, Code: "VALIDATION_ERROR", Message: "Name is required"}
	rec := &persistRecorder{fails: []error{rejected}}
	dropped := make(chan error, 1)
	s, clock := newTestSaver(rec, SaverOptions{OnError: func(_ string, err error) { dropped <- err }})

	s.Schedule("ws", named(""))
	clock.Advance(time.Second)

	select {
	case err := <-dropped:
		assert.Same(t, rejected, err)
	case <-time.After(time.Second):
		t.Fatal("write was not dropped")
	}
	assert.Equal(t, 1, rec.count())
}

func TestSaverNewerScheduleSupersedesRetry(t *testing.T) {
	rec := &persistRecorder{fails: []error{errOffline}}
	s, clock := newTestSaver(rec, SaverOptions{})

	s.Schedule("ws", named("old"))
	clock.Advance(time.Second)
	require.Eventually(t, func() bool { return rec.count() == 1 }, time.Second, 5*time.Millisecond)
	clock.BlockUntil(1)

	s.Schedule("ws", named("new"))
	clock.Advance(time.Second)
	require.Eventually(t, func() bool { return rec.count() == 2 }, time.Second, 5*time.Millisecond)
	assert.Never(t, func() bool { return rec.count() > 2 }, 50*time.Millisecond, 5*time.Millisecond)
	assert.Equal(t, []string{"old", "new"}, rec.calls())
}

func TestSaverFlushWritesImmediately(t *testing.T) {
	rec := &persistRecorder{}
	s, clock := newTestSaver(rec, SaverOptions{})

	s.Schedule("a", named("a1"))
	s.Schedule("b", named("b1"))
	require.NoError(t, s.Flush(context.Background(), "a"))
	assert.Equal(t, []string{"a1"}, rec.calls())
	assert.False(t, s.Pending("a"))
	assert.True(t, s.Pending("b"))

	require.NoError(t, s.FlushAll(context.Background()))
	assert.Equal(t, []string{"a1", "b1"}, rec.calls())

	clock.Advance(2 * time.Second)
	assert.Never(t, func() bool { return rec.count() > 2 }, 50*time.Millisecond, 5*time.Millisecond)
}

func TestSaverFlushAllWaitsForTimerWrite(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	clock := clockwork.NewFakeClock()
	s := NewSaver(func(context.Context, string, workspace.Patch) error {
		close(started)
		<-release
		return nil
	}, SaverOptions{Clock: clock, Logger: zerolog.Nop()})

	s.Schedule("ws", named("slow"))
	clock.Advance(time.Second)
	<-started
	assert.False(t, s.Pending("ws"))

	flushed := make(chan error, 1)
	go func() { flushed <- s.FlushAll(context.Background()) }()
	assert.Never(t, func() bool { return len(flushed) > 0 }, 50*time.Millisecond, 5*time.Millisecond)

	close(release)
	select {
	case err := <-flushed:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("FlushAll did not return after the write finished")
	}
}

func TestSaverFlushHonoursContextWhileWaiting(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	defer close(release)
	clock := clockwork.NewFakeClock()
	s := NewSaver(func(context.Context, string, workspace.Patch) error {
		close(started)
		<-release
		return nil
	}, SaverOptions{Clock: clock, Logger: zerolog.Nop()})

	s.Schedule("ws", named("slow"))
	clock.Advance(time.Second)
	<-started

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, s.Flush(ctx, "ws"), context.Canceled)
}

func TestSaverCancel(t *testing.T) {
	rec := &persistRecorder{}
	s, clock := newTestSaver(rec, SaverOptions{})

	s.Schedule("ws", named("doomed"))
	s.Cancel("ws")
	assert.False(t, s.Pending("ws"))
	clock.Advance(2 * time.Second)
	assert.Never(t, func() bool { return rec.count() > 0 }, 50*time.Millisecond, 5*time.Millisecond)
	require.NoError(t, s.Flush(context.Background(), "ws"))
	assert.Zero(t, rec.count())
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(errOffline))
	assert.True(t, Retryable(&client.APIError{Status: 503}))
	assert.True(t, Retryable(&client.APIError{Status: 429}))
	assert.False(t, Retryable(&client.APIError{Status: 404}))
	assert.False(t, Retryable(errors.New("boom")))
}
