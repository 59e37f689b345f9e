// Package stream provides the ordered multi-consumer event log behind the
// live fan-out. Redis Streams back it when a broker URL is configured; a
// bounded in-memory log stands in otherwise.
package stream

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"
)

// ZeroID is the cursor before the first entry of any stream.
const ZeroID = "0-0"

// ErrClosed is returned by operations on a closed broker.
var ErrClosed = errors.New("stream: broker closed")

// Entry is one published record: an XADD-style ID and the event JSON.
type Entry struct {
	ID    string
	Event string
}

// Broker is an append-only log with tail-follow reads.
//
// IDs are "<ms>-<seq>" strings whose numeric order matches publish order.
// The log may be bounded; on overflow the oldest entries are dropped so tail
// consumers never lose the newest.
type Broker interface {
	// Publish appends the event JSON and returns its assigned ID.
	Publish(ctx context.Context, event string) (string, error)
	// Read returns up to count entries after afterID. When none are
	// available it waits up to block (non-positive: return immediately)
	// and returns an empty result on timeout.
	Read(ctx context.Context, afterID string, block time.Duration, count int64) ([]Entry, error)
	// LatestID returns the newest assigned ID, or ZeroID for an empty stream.
	LatestID(ctx context.Context) (string, error)
	Close() error
}

// CompareIDs orders stream IDs numerically by millisecond part, then sequence
// part. Lexicographic comparison would misorder IDs of different widths.
func CompareIDs(a, b string) int {
	ams, aseq := splitID(a)
	bms, bseq := splitID(b)
	if ams != bms {
		if ams < bms {
			return -1
		}
		return 1
	}
	if aseq != bseq {
		if aseq < bseq {
			return -1
		}
		return 1
	}
	return 0
}

func splitID(id string) (int64, int64) {
	ms, seq, _ := strings.Cut(id, "-")
	msN, _ := strconv.ParseInt(ms, 10, 64)
	seqN, _ := strconv.ParseInt(seq, 10, 64)
	return msN, seqN
}
