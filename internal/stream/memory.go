package stream

import (
	"context"
	"fmt"
	"sync"
	"time"
)

const defaultMemoryMaxLen = 4096

// MemoryBroker is a bounded in-process log with Redis-stream ID semantics.
// It backs deployments without a broker URL and the test suite.
type MemoryBroker struct {
	mu      sync.Mutex
	entries []Entry
	maxLen  int
	lastMS  int64
	lastSeq int64
	notify  chan struct{}
	closed  bool
}

// NewMemoryBroker creates a broker bounded to maxLen entries.
func NewMemoryBroker(maxLen int64) *MemoryBroker {
	if maxLen <= 0 {
		maxLen = defaultMemoryMaxLen
	}
	return &MemoryBroker{
		maxLen: int(maxLen),
		notify: make(chan struct{}),
	}
}

// Publish appends the event and wakes blocked readers.
func (b *MemoryBroker) Publish(_ context.Context, event string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return "", ErrClosed
	}

	// Bump the sequence within a millisecond (or across a clock step back)
	// so IDs stay strictly increasing.
	ms := time.Now().UnixMilli()
	if ms <= b.lastMS {
		b.lastSeq++
	} else {
		b.lastMS = ms
		b.lastSeq = 0
	}
	id := fmt.Sprintf("%d-%d", b.lastMS, b.lastSeq)

	b.entries = append(b.entries, Entry{ID: id, Event: event})
	if len(b.entries) > b.maxLen {
		b.entries = b.entries[len(b.entries)-b.maxLen:]
	}

	close(b.notify)
	b.notify = make(chan struct{})
	return id, nil
}

// Read returns up to count entries after afterID, waiting up to block when
// none are available yet.
func (b *MemoryBroker) Read(ctx context.Context, afterID string, block time.Duration, count int64) ([]Entry, error) {
	deadline := time.Now().Add(block)
	for {
		b.mu.Lock()
		if b.closed {
			b.mu.Unlock()
			return nil, ErrClosed
		}
		batch := b.collectLocked(afterID, count)
		notify := b.notify
		b.mu.Unlock()

		if len(batch) > 0 {
			return batch, nil
		}

		remaining := time.Until(deadline)
		if block <= 0 || remaining <= 0 {
			return nil, nil
		}

		timer := time.NewTimer(remaining)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
			return nil, nil
		case <-notify:
			timer.Stop()
		}
	}
}

func (b *MemoryBroker) collectLocked(afterID string, count int64) []Entry {
	var batch []Entry
	for _, entry := range b.entries {
		if CompareIDs(entry.ID, afterID) <= 0 {
			continue
		}
		batch = append(batch, entry)
		if count > 0 && int64(len(batch)) >= count {
			break
		}
	}
	return batch
}

// LatestID returns the newest assigned ID, or ZeroID when nothing has been
// published yet.
func (b *MemoryBroker) LatestID(_ context.Context) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return "", ErrClosed
	}
	if len(b.entries) == 0 {
		return ZeroID, nil
	}
	return b.entries[len(b.entries)-1].ID, nil
}

// Close wakes blocked readers and rejects further use.
func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	close(b.notify)
	return nil
}
