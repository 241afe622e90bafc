package leads

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func newTestStore(t *testing.T, fetch FetchFunc, send SendFunc) *Store {
	t.Helper()
	store, err := NewStore(StoreOptions{Name: "test", Fetch: fetch, Send: send})
	if err != nil {
		t.Fatalf("new store failed: %v", err)
	}
	return store
}

func TestRefreshReplacesSnapshotWholesale(t *testing.T) {
	batches := [][]Lead{
		{{PropertyID: "a"}, {PropertyID: "b"}},
		{{PropertyID: "c"}},
	}
	var calls int
	store := newTestStore(t, func(ctx context.Context) ([]Lead, error) {
		batch := batches[calls]
		calls++
		return batch, nil
	}, nil)

	if err := store.Refresh(context.Background()); err != nil {
		t.Fatalf("first refresh failed: %v", err)
	}
	if got := store.Snapshot(); len(got) != 2 {
		t.Fatalf("expected 2 leads, got %d", len(got))
	}
	if err := store.Refresh(context.Background()); err != nil {
		t.Fatalf("second refresh failed: %v", err)
	}
	got := store.Snapshot()
	if len(got) != 1 || got[0].PropertyID != "c" {
		t.Fatalf("expected the snapshot replaced wholesale, got %+v", got)
	}
	if store.Version() != 2 {
		t.Fatalf("expected version 2, got %d", store.Version())
	}
}

func TestFailedRefreshRetainsPreviousSnapshot(t *testing.T) {
	var fail bool
	store := newTestStore(t, func(ctx context.Context) ([]Lead, error) {
		if fail {
			return nil, errors.New("backend down")
		}
		return []Lead{{PropertyID: "a"}}, nil
	}, nil)

	if err := store.Refresh(context.Background()); err != nil {
		t.Fatalf("seed refresh failed: %v", err)
	}
	fail = true
	if err := store.Refresh(context.Background()); err == nil {
		t.Fatalf("expected refresh error")
	}
	if got := store.Snapshot(); len(got) != 1 || got[0].PropertyID != "a" {
		t.Fatalf("expected previous snapshot retained, got %+v", got)
	}
	if store.LastError() == nil {
		t.Fatalf("expected last error recorded")
	}
	if store.Version() != 1 {
		t.Fatalf("failed refresh must not advance the version")
	}

	fail = false
	if err := store.Refresh(context.Background()); err != nil {
		t.Fatalf("recovery refresh failed: %v", err)
	}
	if store.LastError() != nil {
		t.Fatalf("expected last error cleared after success")
	}
}

func TestOverlappingRefreshesCollapse(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	var fetches int32
	store := newTestStore(t, func(ctx context.Context) ([]Lead, error) {
		atomic.AddInt32(&fetches, 1)
		close(entered)
		<-release
		return []Lead{{PropertyID: "a"}}, nil
	}, nil)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	wg.Add(1)
	go func() {
		defer wg.Done()
		errs[0] = store.Refresh(context.Background())
	}()
	<-entered

	wg.Add(1)
	go func() {
		defer wg.Done()
		errs[1] = store.Refresh(context.Background())
	}()
	// Give the second caller time to join the in-flight call.
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if errs[0] != nil || errs[1] != nil {
		t.Fatalf("expected both callers to share the successful outcome: %v, %v", errs[0], errs[1])
	}
	if n := atomic.LoadInt32(&fetches); n != 1 {
		t.Fatalf("expected a single fetch, saw %d", n)
	}
	if store.Version() != 1 {
		t.Fatalf("expected one applied refresh, got version %d", store.Version())
	}
}

func TestSendTracksPendingAndRefreshesOnSuccess(t *testing.T) {
	var fetches int32
	started := make(chan struct{})
	release := make(chan struct{})
	store := newTestStore(t, func(ctx context.Context) ([]Lead, error) {
		atomic.AddInt32(&fetches, 1)
		return []Lead{{PropertyID: "p1", Status: StatusReachedOut}}, nil
	}, func(ctx context.Context, propertyID, templateName string) error {
		close(started)
		<-release
		return nil
	})

	done := make(chan error, 1)
	go func() { done <- store.Send(context.Background(), "p1", "") }()

	<-started
	if !store.Pending("p1") {
		t.Fatalf("expected p1 pending while the send is in flight")
	}
	if err := store.Send(context.Background(), "p1", ""); !errors.Is(err, ErrSendInFlight) {
		t.Fatalf("expected ErrSendInFlight, got %v", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if store.Pending("p1") {
		t.Fatalf("expected pending cleared after the send")
	}
	if n := atomic.LoadInt32(&fetches); n != 1 {
		t.Fatalf("expected one post-send refresh, saw %d", n)
	}
}

func TestFailedSendSkipsRefresh(t *testing.T) {
	var fetches int32
	store := newTestStore(t, func(ctx context.Context) ([]Lead, error) {
		atomic.AddInt32(&fetches, 1)
		return nil, nil
	}, func(ctx context.Context, propertyID, templateName string) error {
		return errors.New("recipient unreachable")
	})

	if err := store.Send(context.Background(), "p1", ""); err == nil {
		t.Fatalf("expected send error")
	}
	if store.Pending("p1") {
		t.Fatalf("expected pending cleared after a failed send")
	}
	if n := atomic.LoadInt32(&fetches); n != 0 {
		t.Fatalf("a failed send must not trigger a refresh, saw %d", n)
	}
}

func TestSetOnChangeFiresAfterSuccessfulRefresh(t *testing.T) {
	var fail bool
	store := newTestStore(t, func(ctx context.Context) ([]Lead, error) {
		if fail {
			return nil, errors.New("down")
		}
		return nil, nil
	}, nil)

	var notified int32
	store.SetOnChange(func() { atomic.AddInt32(&notified, 1) })

	_ = store.Refresh(context.Background())
	fail = true
	_ = store.Refresh(context.Background())

	if n := atomic.LoadInt32(&notified); n != 1 {
		t.Fatalf("expected a single change notification, saw %d", n)
	}
}

func TestPruneSelectionDropsHiddenIDs(t *testing.T) {
	selected := map[string]struct{}{"a": {}, "b": {}, "c": {}}
	visible := []Lead{{PropertyID: "a"}, {PropertyID: "c"}}
	PruneSelection(selected, visible)
	if len(selected) != 2 {
		t.Fatalf("expected 2 survivors, got %d", len(selected))
	}
	if _, ok := selected["b"]; ok {
		t.Fatalf("expected hidden id pruned")
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	store := newTestStore(t, func(ctx context.Context) ([]Lead, error) {
		return nil, nil
	}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		store.Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("expected Run to stop after cancellation")
	}
}
