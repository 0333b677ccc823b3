package indexer

import (
	"context"
	"sync"

	"logscope/internal/chain"
	"logscope/internal/model"
)

type fakeSource struct {
	backfill   []model.Event
	fetchErrs  []error
	subErr     error
	live       chan model.Event
	fetchCalls int
	mu         sync.Mutex
	subscribed chan struct{}
	subClosed  bool
}

func newFakeSource(backfill ...model.Event) *fakeSource {
	return &fakeSource{
		backfill:   backfill,
		live:       make(chan model.Event, 16),
		subscribed: make(chan struct{}),
	}
}

func (f *fakeSource) FetchRange(_ context.Context, _ chain.Filter, fromBlock uint64) ([]model.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	call := f.fetchCalls
	f.fetchCalls++
	if call < len(f.fetchErrs) && f.fetchErrs[call] != nil {
		return nil, f.fetchErrs[call]
	}

	out := make([]model.Event, 0, len(f.backfill))
	for _, event := range f.backfill {
		if event.BlockNumber >= fromBlock {
			out = append(out, event)
		}
	}
	return out, nil
}

func (f *fakeSource) SubscribeLive(context.Context, chain.Filter) (chain.Subscription, error) {
	if f.subErr != nil {
		return nil, f.subErr
	}
	close(f.subscribed)
	return &fakeSubscription{source: f}, nil
}

func (f *fakeSource) Close() {}

func (f *fakeSource) closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subClosed
}

type fakeSubscription struct {
	source *fakeSource
}

func (s *fakeSubscription) Next(ctx context.Context) (model.Event, error) {
	select {
	case <-ctx.Done():
		return model.Event{}, ctx.Err()
	case event, ok := <-s.source.live:
		if !ok {
			return model.Event{}, chain.ErrSubscriptionClosed
		}
		return event, nil
	}
}

func (s *fakeSubscription) Close() {
	s.source.mu.Lock()
	s.source.subClosed = true
	s.source.mu.Unlock()
}

type fakeWriter struct {
	mu        sync.Mutex
	ensured   []string
	rows      []model.Event
	ensureErr error
	insertErr error
	failAfter int
}

func (w *fakeWriter) EnsureTable(_ context.Context, stream string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.ensured = append(w.ensured, stream)
	return w.ensureErr
}

func (w *fakeWriter) Insert(ctx context.Context, _ string, event model.Event) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	if w.insertErr != nil && len(w.rows) >= w.failAfter {
		return w.insertErr
	}
	w.rows = append(w.rows, event)
	return nil
}

func (w *fakeWriter) Close() {}

func (w *fakeWriter) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.rows)
}

func (w *fakeWriter) snapshot() []model.Event {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]model.Event(nil), w.rows...)
}
