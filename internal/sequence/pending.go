package sequence

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/thrillee/smppengine/internal/pdu"
)

// ErrInFlight is returned when a sequence number is registered twice before
// its response arrived.
var ErrInFlight = errors.New("sequence number already in flight")

// Entry is a request awaiting its response.
type Entry struct {
	Sequence  uint32
	CommandID pdu.CommandID
	SentAt    time.Time
}

// Pending correlates responses with requests by sequence number.
// It is safe for concurrent use.
type Pending struct {
	mu      sync.Mutex
	entries map[uint32]Entry
}

func NewPending() *Pending {
	return &Pending{entries: make(map[uint32]Entry)}
}

// Register records e. A zero SentAt is set to now.
func (p *Pending) Register(e Entry) error {
	if e.SentAt.IsZero() {
		e.SentAt = time.Now()
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.entries[e.Sequence]; ok {
		return ErrInFlight
	}
	p.entries[e.Sequence] = e
	return nil
}

// Resolve removes and returns the entry for seq.
func (p *Pending) Resolve(seq uint32) (Entry, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.entries[seq]
	if ok {
		delete(p.entries, seq)
	}
	return e, ok
}

// Expire removes and returns every entry sent before cutoff, oldest first.
func (p *Pending) Expire(cutoff time.Time) []Entry {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []Entry
	for seq, e := range p.entries {
		if e.SentAt.Before(cutoff) {
			out = append(out, e)
			delete(p.entries, seq)
		}
	}
	sortEntries(out)
	return out
}

// FailAll empties the table and returns what it held, oldest first.
func (p *Pending) FailAll() []Entry {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Entry, 0, len(p.entries))
	for _, e := range p.entries {
		out = append(out, e)
	}
	p.entries = make(map[uint32]Entry)
	sortEntries(out)
	return out
}

func (p *Pending) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

func sortEntries(es []Entry) {
	sort.Slice(es, func(i, j int) bool {
		if !es[i].SentAt.Equal(es[j].SentAt) {
			return es[i].SentAt.Before(es[j].SentAt)
		}
		return es[i].Sequence < es[j].Sequence
	})
}
