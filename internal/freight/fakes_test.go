package freight

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/freightquote/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func ptr(v float64) *float64 { return &v }

type quoteReply struct {
	opts []domain.RawQuoteOption
	err  error
}

// fakeQuotes replays scripted replies in order and repeats the last one.
type fakeQuotes struct {
	mu      sync.Mutex
	replies []quoteReply
	calls   int
}

func (f *fakeQuotes) Quote(_ context.Context, _, _ string) (domain.QuoteResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.replies) == 0 {
		return domain.QuoteResponse{}, errors.New("no scripted reply")
	}
	idx := f.calls - 1
	if idx >= len(f.replies) {
		idx = len(f.replies) - 1
	}
	r := f.replies[idx]
	if r.err != nil {
		return domain.QuoteResponse{}, r.err
	}
	return domain.QuoteResponse{Options: r.opts, Raw: []byte(`{"options":[]}`)}, nil
}

func (f *fakeQuotes) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeListings struct {
	free  bool
	err   error
	calls int
}

func (f *fakeListings) GetListing(_ context.Context, id string) (domain.Listing, error) {
	f.calls++
	if f.err != nil {
		return domain.Listing{}, f.err
	}
	return domain.Listing{ID: id, FreeShipping: f.free}, nil
}

type fakeBlobs struct {
	paths []string
	err   error
}

func (f *fakeBlobs) Put(_ context.Context, path string, r io.Reader, _ string) error {
	if _, err := io.ReadAll(r); err != nil {
		return err
	}
	f.paths = append(f.paths, path)
	return f.err
}

// recordingObserver counts events of all computations.
type recordingObserver struct {
	mu         sync.Mutex
	begins     int
	lookups    []string
	classified int
	attempts   int
	consensus  int
	failed     int
	ended      int
}

func (o *recordingObserver) Begin(string, string) domain.Computation {
	o.mu.Lock()
	o.begins++
	o.mu.Unlock()
	return &recordingComputation{o: o}
}

type recordingComputation struct{ o *recordingObserver }

func (c *recordingComputation) CacheLookup(tier string, hit bool) {
	c.o.mu.Lock()
	defer c.o.mu.Unlock()
	state := "miss"
	if hit {
		state = "hit"
	}
	c.o.lookups = append(c.o.lookups, tier+":"+state)
}

func (c *recordingComputation) Classified(domain.ProcessedOption) {
	c.o.mu.Lock()
	c.o.classified++
	c.o.mu.Unlock()
}

func (c *recordingComputation) Attempt(domain.CallAttempt) {
	c.o.mu.Lock()
	c.o.attempts++
	c.o.mu.Unlock()
}

func (c *recordingComputation) Consensus(domain.ConsensusResult) {
	c.o.mu.Lock()
	c.o.consensus++
	c.o.mu.Unlock()
}

func (c *recordingComputation) Failed(error) {
	c.o.mu.Lock()
	c.o.failed++
	c.o.mu.Unlock()
}

func (c *recordingComputation) End(time.Duration) {
	c.o.mu.Lock()
	c.o.ended++
	c.o.mu.Unlock()
}

type fakeLocks struct {
	held     map[string]bool
	acquired int
}

func (f *fakeLocks) Acquire(_ context.Context, key string, _ time.Duration) (func(), error) {
	if f.held == nil {
		f.held = make(map[string]bool)
	}
	if f.held[key] {
		return nil, domain.ErrLockHeld
	}
	f.held[key] = true
	f.acquired++
	return func() { delete(f.held, key) }, nil
}
