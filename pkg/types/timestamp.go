package types

import (
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Timestamp is a consensus timestamp as assigned by the ledger.
type Timestamp struct {
	Seconds int64 `json:"seconds"`
	Nanos   int32 `json:"nanos"`
}

// FromTime converts a wall-clock time to a Timestamp.
func FromTime(t time.Time) Timestamp {
	return Timestamp{Seconds: t.Unix(), Nanos: int32(t.Nanosecond())}
}

// ParseTimestamp parses the "<seconds>.<nanos>" form used by mirror nodes.
func ParseTimestamp(s string) (Timestamp, error) {
	secStr, nanoStr, hasNanos := strings.Cut(s, ".")
	sec, err := strconv.ParseInt(secStr, 10, 64)
	if err != nil {
		return Timestamp{}, fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	if !hasNanos {
		return Timestamp{Seconds: sec}, nil
	}
	if nanoStr == "" || len(nanoStr) > 9 {
		return Timestamp{}, fmt.Errorf("invalid timestamp %q: bad nanos", s)
	}
	// right-pad so "1.5" means half a second
	nanoStr += strings.Repeat("0", 9-len(nanoStr))
	nanos, err := strconv.ParseInt(nanoStr, 10, 32)
	if err != nil {
		return Timestamp{}, fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	return Timestamp{Seconds: sec, Nanos: int32(nanos)}, nil
}

// Time returns the timestamp as a UTC time.Time.
func (t Timestamp) Time() time.Time {
	return time.Unix(t.Seconds, int64(t.Nanos)).UTC()
}

func (t Timestamp) String() string {
	return fmt.Sprintf("%d.%09d", t.Seconds, t.Nanos)
}

func (t Timestamp) IsZero() bool {
	return t.Seconds == 0 && t.Nanos == 0
}

// Compare returns -1, 0 or +1.
func (t Timestamp) Compare(o Timestamp) int {
	switch {
	case t.Seconds < o.Seconds:
		return -1
	case t.Seconds > o.Seconds:
		return 1
	case t.Nanos < o.Nanos:
		return -1
	case t.Nanos > o.Nanos:
		return 1
	}
	return 0
}

func (t Timestamp) Before(o Timestamp) bool { return t.Compare(o) < 0 }
func (t Timestamp) After(o Timestamp) bool  { return t.Compare(o) > 0 }

// Plus returns t advanced by d.
func (t Timestamp) Plus(d time.Duration) Timestamp {
	return FromTime(t.Time().Add(d))
}

// TimestampGenerator produces unique, slightly back-dated timestamps used as
// transaction valid-start times. Each generator keeps its own record of
// issued values; share one instance where uniqueness must span callers.
type TimestampGenerator struct {
	mu   sync.Mutex
	seen map[Timestamp]struct{}
	now  func() time.Time
}

const (
	minBackdate = 8 * time.Second
	maxBackdate = 13 * time.Second
)

// NewTimestampGenerator returns a generator reading the system clock.
func NewTimestampGenerator() *TimestampGenerator {
	return NewTimestampGeneratorWithClock(time.Now)
}

// NewTimestampGeneratorWithClock returns a generator using the given clock.
func NewTimestampGeneratorWithClock(now func() time.Time) *TimestampGenerator {
	return &TimestampGenerator{
		seen: make(map[Timestamp]struct{}),
		now:  now,
	}
}

// Generate returns a timestamp between 8 and 13 seconds in the past that
// this generator has not returned before.
func (g *TimestampGenerator) Generate() Timestamp {
	g.mu.Lock()
	defer g.mu.Unlock()

	for {
		jitter := minBackdate + rand.N(maxBackdate-minBackdate)
		ts := FromTime(g.now().Add(-jitter))
		if _, dup := g.seen[ts]; dup {
			continue
		}
		g.seen[ts] = struct{}{}
		return ts
	}
}
