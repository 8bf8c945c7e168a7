package ledger

import (
	"container/heap"
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	subject   string
	expiresAt time.Time
}

// expiryQueue is a min-heap of registrations by deadline. Items whose entry
// was consumed, revoked or re-registered since are skipped when popped.
type expiryQueue []expiryItem

type expiryItem struct {
	id string
	at time.Time
}

func (q expiryQueue) Len() int           { return len(q) }
func (q expiryQueue) Less(i, j int) bool { return q[i].at.Before(q[j].at) }
func (q expiryQueue) Swap(i, j int)      { q[i], q[j] = q[j], q[i] }
func (q *expiryQueue) Push(x any)        { *q = append(*q, x.(expiryItem)) }
func (q *expiryQueue) Pop() any {
	old := *q
	item := old[len(old)-1]
	*q = old[:len(old)-1]
	return item
}

// MemoryOption configures a MemoryLedger.
type MemoryOption func(*MemoryLedger)

// WithClock overrides the time source used for expiry.
func WithClock(now func() time.Time) MemoryOption {
	return func(l *MemoryLedger) {
		if now != nil {
			l.now = now
		}
	}
}

// MemoryLedger is a process-local ledger for single-instance deployments and
// tests. Reads check expiry against the clock; every Register also drops the
// entries whose deadline has passed, so abandoned tokens do not accumulate.
type MemoryLedger struct {
	mu      sync.Mutex
	now     func() time.Time
	entries map[string]memoryEntry
	index   map[string]map[string]struct{}
	expiry  expiryQueue
}

// NewMemoryLedger returns an empty MemoryLedger.
func NewMemoryLedger(opts ...MemoryOption) *MemoryLedger {
	l := &MemoryLedger{
		now:     time.Now,
		entries: make(map[string]memoryEntry),
		index:   make(map[string]map[string]struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *MemoryLedger) Register(ctx context.Context, id, subject string, ttl time.Duration) error {
	if err := validateEntry(id, subject, ttl); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.sweepLocked(now)

	if prev, ok := l.entries[id]; ok && prev.subject != subject {
		l.unindexLocked(prev.subject, id)
	}
	entry := memoryEntry{subject: subject, expiresAt: now.Add(ttl)}
	l.entries[id] = entry
	heap.Push(&l.expiry, expiryItem{id: id, at: entry.expiresAt})
	ids, ok := l.index[subject]
	if !ok {
		ids = make(map[string]struct{})
		l.index[subject] = ids
	}
	ids[id] = struct{}{}
	return nil
}

func (l *MemoryLedger) Consume(ctx context.Context, id string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.entries[id]
	if !ok {
		return "", false, nil
	}
	l.deleteLocked(id, entry)
	if !l.live(entry) {
		return "", false, nil
	}
	return entry.subject, true, nil
}

func (l *MemoryLedger) Revoke(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if entry, ok := l.entries[id]; ok {
		l.deleteLocked(id, entry)
	}
	return nil
}

func (l *MemoryLedger) RevokeAll(ctx context.Context, subject string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for id := range l.index[subject] {
		entry, ok := l.entries[id]
		if !ok {
			continue
		}
		if l.live(entry) {
			removed++
		}
		delete(l.entries, id)
	}
	delete(l.index, subject)
	return removed, nil
}

// ActiveIDs returns the unexpired ids indexed under subject.
func (l *MemoryLedger) ActiveIDs(_ context.Context, subject string) ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]string, 0, len(l.index[subject]))
	for id := range l.index[subject] {
		if entry, ok := l.entries[id]; ok && l.live(entry) {
			out = append(out, id)
		}
	}
	return out, nil
}

// Len returns the number of stored entries. Expired entries are counted until
// the next Register or access of that id.
func (l *MemoryLedger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// sweepLocked removes every entry whose deadline is not after now.
func (l *MemoryLedger) sweepLocked(now time.Time) {
	for len(l.expiry) > 0 && !now.Before(l.expiry[0].at) {
		item := heap.Pop(&l.expiry).(expiryItem)
		if entry, ok := l.entries[item.id]; ok && entry.expiresAt.Equal(item.at) {
			l.deleteLocked(item.id, entry)
		}
	}
}

func (l *MemoryLedger) live(entry memoryEntry) bool {
	return l.now().Before(entry.expiresAt)
}

func (l *MemoryLedger) deleteLocked(id string, entry memoryEntry) {
	delete(l.entries, id)
	l.unindexLocked(entry.subject, id)
}

func (l *MemoryLedger) unindexLocked(subject, id string) {
	ids, ok := l.index[subject]
	if !ok {
		return
	}
	delete(ids, id)
	if len(ids) == 0 {
		delete(l.index, subject)
	}
}
