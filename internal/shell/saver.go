package shell

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"canvas/api/internal/client"
	"canvas/api/internal/workspace"
)

// PersistFunc writes one patch for a workspace.
type PersistFunc func(ctx context.Context, id string, patch workspace.Patch) error

type SaverOptions struct {
	Window         time.Duration
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	MaxAttempts    int
	// Timeout bounds each timer-driven write.
	Timeout   time.Duration
	Retryable func(error) bool
	// OnError is called once a write is dropped.
	OnError func(id string, err error)
	Clock   clockwork.Clock
	Logger  zerolog.Logger
}

func (o SaverOptions) withDefaults() SaverOptions {
	if o.Window <= 0 {
		o.Window = DefaultSaveWindow
	}
	if o.InitialBackoff <= 0 {
		o.InitialBackoff = 500 * time.Millisecond
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = 30 * time.Second
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 5
	}
	if o.Timeout <= 0 {
		o.Timeout = 30 * time.Second
	}
	if o.Retryable == nil {
		o.Retryable = Retryable
	}
	if o.Clock == nil {
		o.Clock = clockwork.NewRealClock()
	}
	return o
}

// Retryable reports whether a failed write may succeed if sent again:
// transport failures, throttling and server errors.
func Retryable(err error) bool {
	if client.IsNetwork(err) {
		return true
	}
	var apiErr *client.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status == http.StatusTooManyRequests || apiErr.Status >= 500
	}
	return false
}

type queuedWrite struct {
	gen     uint64
	patch   workspace.Patch
	attempt int
}

// Saver debounces workspace patches and retries failed writes with
// exponential backoff. A newer Schedule for the same id supersedes any
// queued write or retry.
type Saver struct {
	persist  PersistFunc
	opts     SaverOptions
	debounce *Debouncer

	mu      sync.Mutex
	gens    map[string]uint64
	queued  map[string]queuedWrite
	retries map[string]clockwork.Timer
	// closed when the write taken from queued has finished
	inflight map[string]chan struct{}

	// serializes writes so a superseded patch never lands after a newer one
	writeMu sync.Mutex
}

func NewSaver(persist PersistFunc, opts SaverOptions) *Saver {
	opts = opts.withDefaults()
	return &Saver{
		persist:  persist,
		opts:     opts,
		debounce: NewDebouncer(opts.Clock, opts.Window),
		gens:     make(map[string]uint64),
		queued:   make(map[string]queuedWrite),
		retries:  make(map[string]clockwork.Timer),
		inflight: make(map[string]chan struct{}),
	}
}

// Schedule queues patch as the next write for id.
func (s *Saver) Schedule(id string, patch workspace.Patch) {
	s.mu.Lock()
	s.gens[id]++
	gen := s.gens[id]
	s.queued[id] = queuedWrite{gen: gen, patch: patch, attempt: 1}
	s.stopRetryLocked(id)
	s.debounce.Schedule(id, func() { s.fire(id, gen) })
	s.mu.Unlock()
}

// Flush writes the queued patch for id now, skipping the debounce window
// or a pending retry delay. A write already taken by the timer is waited
// for instead.
func (s *Saver) Flush(ctx context.Context, id string) error {
	s.debounce.Cancel(id)
	s.mu.Lock()
	w, ok := s.queued[id]
	var done chan struct{}
	if ok {
		done = s.takeLocked(id)
	} else {
		done = s.inflight[id]
	}
	s.mu.Unlock()

	if ok {
		defer s.finish(id, done)
		return s.attempt(ctx, id, w)
	}
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// FlushAll flushes every queued write and waits for those in flight.
func (s *Saver) FlushAll(ctx context.Context) error {
	s.mu.Lock()
	ids := make([]string, 0, len(s.queued)+len(s.inflight))
	for id := range s.queued {
		ids = append(ids, id)
	}
	for id := range s.inflight {
		if _, ok := s.queued[id]; !ok {
			ids = append(ids, id)
		}
	}
	s.mu.Unlock()

	var errs []error
	for _, id := range ids {
		if err := s.Flush(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Cancel drops the queued write and any retry for id.
func (s *Saver) Cancel(id string) {
	s.mu.Lock()
	s.gens[id]++
	delete(s.queued, id)
	s.stopRetryLocked(id)
	s.mu.Unlock()
	s.debounce.Cancel(id)
}

// Pending reports whether a write for id is waiting on the window or a
// retry delay.
func (s *Saver) Pending(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.queued[id]
	return ok
}

func (s *Saver) fire(id string, gen uint64) {
	s.mu.Lock()
	w, ok := s.queued[id]
	if !ok || w.gen != gen {
		s.mu.Unlock()
		return
	}
	done := s.takeLocked(id)
	s.mu.Unlock()
	defer s.finish(id, done)

	ctx, cancel := context.WithTimeout(context.Background(), s.opts.Timeout)
	defer cancel()
	_ = s.attempt(ctx, id, w)
}

// takeLocked removes the queued write for id and marks it in flight.
func (s *Saver) takeLocked(id string) chan struct{} {
	delete(s.queued, id)
	s.stopRetryLocked(id)
	done := make(chan struct{})
	s.inflight[id] = done
	return done
}

func (s *Saver) finish(id string, done chan struct{}) {
	s.mu.Lock()
	if s.inflight[id] == done {
		delete(s.inflight, id)
	}
	s.mu.Unlock()
	close(done)
}

func (s *Saver) attempt(ctx context.Context, id string, w queuedWrite) error {
	s.writeMu.Lock()
	if !s.current(id, w.gen) {
		s.writeMu.Unlock()
		return nil
	}
	err := s.persist(ctx, id, w.patch)
	s.writeMu.Unlock()
	if err == nil {
		return nil
	}

	log := s.opts.Logger.With().Str("workspace_id", id).Int("attempt", w.attempt).Logger()
	if !s.opts.Retryable(err) || w.attempt >= s.opts.MaxAttempts {
		log.Error().Err(err).Msg("auto-save dropped")
		if s.opts.OnError != nil {
			s.opts.OnError(id, err)
		}
		return err
	}

	delay := s.backoff(w.attempt)
	log.Warn().Err(err).Dur("retry_in", delay).Msg("auto-save failed")

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gens[id] != w.gen {
		return err
	}
	next := w
	next.attempt++
	s.queued[id] = next
	s.retries[id] = s.opts.Clock.AfterFunc(delay, func() { s.fire(id, next.gen) })
	return err
}

func (s *Saver) current(id string, gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gens[id] == gen
}

func (s *Saver) backoff(attempt int) time.Duration {
	d := s.opts.InitialBackoff << (attempt - 1)
	if d <= 0 || d > s.opts.MaxBackoff {
		return s.opts.MaxBackoff
	}
	return d
}

func (s *Saver) stopRetryLocked(id string) {
	if t, ok := s.retries[id]; ok {
		t.Stop()
		delete(s.retries, id)
	}
}
