package leads

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

var ErrSendInFlight = errors.New("send already in flight")

// Logger is the minimal logging surface components accept; nil is silent.
type Logger interface {
	Printf(format string, args ...any)
}

type FetchFunc func(ctx context.Context) ([]Lead, error)

// SendFunc issues one outreach send. An empty templateName means the
// backend's default template.
type SendFunc func(ctx context.Context, propertyID, templateName string) error

type StoreOptions struct {
	// Name identifies the logical resource key ("new", "history") for
	// logging and metrics.
	Name     string
	Fetch    FetchFunc
	Send     SendFunc
	Interval time.Duration
	Logger   Logger
	// OnChange fires after every successful refresh, outside the store lock.
	OnChange func()
}

// Store owns the authoritative local copy of one lead collection. The
// snapshot is replaced wholesale on each successful refresh; a failed
// refresh retains the previous snapshot and records the error. Overlapping
// refresh requests collapse into the single in-flight call.
type Store struct {
	name     string
	fetch    FetchFunc
	send     SendFunc
	interval time.Duration
	logger   Logger
	onChange func()

	mu       sync.Mutex
	snapshot []Lead
	lastErr  error
	version  uint64
	inflight *refreshCall
	pending  map[string]struct{}

	kick chan struct{}
}

type refreshCall struct {
	done chan struct{}
	err  error
}

func NewStore(opts StoreOptions) (*Store, error) {
	if opts.Fetch == nil {
		return nil, fmt.Errorf("fetch func is required")
	}
	name := opts.Name
	if name == "" {
		name = "default"
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Store{
		name:     name,
		fetch:    opts.Fetch,
		send:     opts.Send,
		interval: interval,
		logger:   opts.Logger,
		onChange: opts.OnChange,
		pending:  map[string]struct{}{},
		kick:     make(chan struct{}, 1),
	}, nil
}

// Refresh fetches the collection and replaces the snapshot on success. If a
// refresh is already in flight the caller shares its outcome instead of
// issuing a second network call.
func (s *Store) Refresh(ctx context.Context) error {
	s.mu.Lock()
	if call := s.inflight; call != nil {
		s.mu.Unlock()
		refreshCollapsed.WithLabelValues(s.name).Inc()
		select {
		case <-call.done:
			return call.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	call := &refreshCall{done: make(chan struct{})}
	s.inflight = call
	s.mu.Unlock()

	collection, err := s.fetch(ctx)

	s.mu.Lock()
	s.inflight = nil
	if err != nil {
		s.lastErr = err
		refreshTotal.WithLabelValues(s.name, "failure").Inc()
	} else {
		s.snapshot = collection
		s.lastErr = nil
		s.version++
		refreshTotal.WithLabelValues(s.name, "success").Inc()
		snapshotSize.WithLabelValues(s.name).Set(float64(len(collection)))
	}
	onChange := s.onChange
	s.mu.Unlock()

	call.err = err
	close(call.done)

	if err != nil {
		s.logf("refresh %s failed: %v", s.name, err)
	} else if onChange != nil {
		onChange()
	}
	return err
}

// SetOnChange installs the hook fired after every successful refresh,
// replacing any hook supplied at construction.
func (s *Store) SetOnChange(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = fn
}

// Run polls on the configured interval until the context is cancelled.
// Kick wakes the loop for an immediate refresh.
func (s *Store) Run(ctx context.Context) {
	if err := s.Refresh(ctx); err != nil && ctx.Err() != nil {
		return
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-s.kick:
		}
		_ = s.Refresh(ctx)
	}
}

// Kick requests an immediate poll, e.g. when the console regains focus.
// Kicks collapse; a pending one is enough.
func (s *Store) Kick() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

// Snapshot returns a copy of the current collection.
func (s *Store) Snapshot() []Lead {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Lead, len(s.snapshot))
	copy(out, s.snapshot)
	return out
}

// LastError returns the error of the most recent failed refresh, or nil
// after a successful one.
func (s *Store) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Version increments on every successful refresh.
func (s *Store) Version() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

// Refreshing reports whether a refresh call is currently in flight.
func (s *Store) Refreshing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inflight != nil
}

// Send issues a single outreach send with pending tracking: the id joins
// the pending set before the network call and leaves it regardless of
// outcome. A send for an id already pending is rejected.
func (s *Store) Send(ctx context.Context, propertyID, templateName string) error {
	if s.send == nil {
		return fmt.Errorf("send func is not configured")
	}
	if !s.beginSend(propertyID) {
		return ErrSendInFlight
	}
	defer s.endSend(propertyID)

	err := s.send(ctx, propertyID, templateName)
	if err != nil {
		sendTotal.WithLabelValues("failure").Inc()
		return err
	}
	sendTotal.WithLabelValues("success").Inc()
	_ = s.Refresh(ctx)
	return nil
}

// Pending reports whether an outbound action for the id is in flight.
func (s *Store) Pending(propertyID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.pending[propertyID]
	return ok
}

// PendingIDs returns the current pending set.
func (s *Store) PendingIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.pending))
	for id := range s.pending {
		ids = append(ids, id)
	}
	return ids
}

func (s *Store) beginSend(propertyID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pending[propertyID]; ok {
		return false
	}
	s.pending[propertyID] = struct{}{}
	return true
}

func (s *Store) endSend(propertyID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, propertyID)
}

func (s *Store) markAllPending(ids []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		s.pending[id] = struct{}{}
	}
}

func (s *Store) clearPending() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = map[string]struct{}{}
}

func (s *Store) logf(format string, args ...any) {
	if s.logger == nil {
		return
	}
	s.logger.Printf(format, args...)
}

// PruneSelection intersects an externally-held selection set with the ids
// present in the visible collection, removing ids no longer shown.
func PruneSelection(selected map[string]struct{}, visible []Lead) {
	if len(selected) == 0 {
		return
	}
	present := make(map[string]struct{}, len(visible))
	for _, lead := range visible {
		present[lead.PropertyID] = struct{}{}
	}
	for id := range selected {
		if _, ok := present[id]; !ok {
			delete(selected, id)
		}
	}
}
