package ws

import (
	"sort"
	"sync"
	"time"
)

const (
	defaultReplayLen = 1000
	defaultReplayAge = time.Hour
)

// replayBuffer keeps the most recent events, bounded by count and age.
type replayBuffer struct {
	mu     sync.RWMutex
	events []Event
	maxLen int
	maxAge time.Duration
	now    func() time.Time
}

func newReplayBuffer(maxLen int, maxAge time.Duration) *replayBuffer {
	return &replayBuffer{maxLen: maxLen, maxAge: maxAge, now: time.Now}
}

func (b *replayBuffer) append(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	cutoff := b.now().Add(-b.maxAge)
	start := 0
	for start < len(b.events) && b.events[start].Time.Before(cutoff) {
		start++
	}

	buf := append(b.events[start:], e)
	if len(buf) > b.maxLen {
		buf = buf[len(buf)-b.maxLen:]
	}

	b.events = buf
}

// since returns a copy of the events with ID > lastID. ok is false when some
// of those events were already evicted, or lastID is ahead of latest, which
// happens after a restart.
func (b *replayBuffer) since(lastID, latest uint64) (events []Event, ok bool) {
	if lastID > latest {
		return nil, false
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if len(b.events) == 0 {
		return nil, lastID == latest
	}

	if lastID+1 < b.events[0].ID {
		return nil, false
	}

	i := sort.Search(len(b.events), func(i int) bool { return b.events[i].ID > lastID })
	out := make([]Event, len(b.events)-i)
	copy(out, b.events[i:])

	return out, true
}
