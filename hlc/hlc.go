// Package hlc implements hybrid logical clocks: timestamps that are
// lexicographically comparable, monotonic within one process, and mergeable
// with timestamps observed from peers.
package hlc

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Timestamp is the wire form: "<RFC3339 UTC with a fixed nine-digit
// fraction>_<logical-counter>". Two timestamps compare correctly with plain
// string comparison as long as their logical counters have the same number
// of digits; the counter is written without padding.
type Timestamp string

// isoLayout is RFC3339 in UTC with the fraction always written as nine
// digits, so the ISO part has a fixed width and sorts byte-wise.
const isoLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Zero is the empty timestamp, used as a "no timestamp yet" sentinel.
const Zero Timestamp = ""

// Clock issues Timestamps that are strictly greater than any Timestamp it
// has previously issued or merged in. Not safe across processes; ordering
// across nodes is established by consensus, not by clock agreement.
type Clock struct {
	mu       sync.Mutex
	lastWall int64 // unix nanoseconds
	counter  uint64
}

// New creates a Clock with no prior observations.
func New() *Clock {
	return &Clock{}
}

// Now returns a Timestamp strictly greater than every Timestamp previously
// returned by Now or passed to Merge on this Clock.
func (c *Clock) Now() Timestamp {
	c.mu.Lock()
	defer c.mu.Unlock()

	wall := time.Now().UnixNano()
	if wall <= c.lastWall {
		c.counter++
	} else {
		c.lastWall = wall
		c.counter = 0
	}
	return format(c.lastWall, c.counter)
}

// Merge folds an observed peer Timestamp into the clock's notion of
// "last seen", so that subsequent Now() calls stay ahead of it.
func (c *Clock) Merge(observed Timestamp) error {
	wall, counter, err := parse(observed)
	if err != nil {
		return fmt.Errorf("hlc: merge: %w", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if wall > c.lastWall || (wall == c.lastWall && counter > c.counter) {
		c.lastWall = wall
		c.counter = counter
	}
	return nil
}

// Nanos parses the ISO-8601 portion of ts and returns nanoseconds since the
// Unix epoch, ignoring the logical counter suffix. Used as a committed
// block's height.
func Nanos(ts Timestamp) (uint64, error) {
	wall, _, err := parse(ts)
	if err != nil {
		return 0, err
	}
	if wall < 0 {
		return 0, fmt.Errorf("hlc: negative wall time in %q", ts)
	}
	return uint64(wall), nil
}

func format(wall int64, counter uint64) Timestamp {
	iso := time.Unix(0, wall).UTC().Format(isoLayout)
	return Timestamp(fmt.Sprintf("%s_%d", iso, counter))
}

func parse(ts Timestamp) (wall int64, counter uint64, err error) {
	s := string(ts)
	idx := strings.LastIndexByte(s, '_')
	if idx < 0 {
		return 0, 0, fmt.Errorf("hlc: malformed timestamp %q", ts)
	}
	isoPart, counterPart := s[:idx], s[idx+1:]
	t, err := time.Parse(time.RFC3339Nano, isoPart)
	if err != nil {
		return 0, 0, fmt.Errorf("hlc: parse iso part %q: %w", isoPart, err)
	}
	counter, err = strconv.ParseUint(counterPart, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("hlc: parse counter %q: %w", counterPart, err)
	}
	return t.UnixNano(), counter, nil
}

// Less reports whether a sorts strictly before b under byte-wise comparison.
func Less(a, b Timestamp) bool { return a < b }

// Compare returns -1, 0, or 1 as a is less than, equal to, or greater than b.
func Compare(a, b Timestamp) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
