package multipart

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// DefaultTTL is how long an incomplete group is kept.
const DefaultTTL = 10 * time.Minute

// Fragment is a detected part together with the envelope it arrived in.
type Fragment struct {
	Source      string
	Destination string
	DataCoding  byte
	Part        Part
}

// Message is a fully reassembled payload.
type Message struct {
	Source      string
	Destination string
	DataCoding  byte // as declared on the first fragment seen
	Kind        Kind
	Reference   uint16
	Parts       int
	Payload     []byte
}

type groupKey struct {
	source    string
	reference uint16
}

type group struct {
	first     Fragment
	total     int
	parts     map[int][]byte
	firstSeen time.Time
}

// Reassembler accumulates fragments keyed by (source, reference).
// It is safe for concurrent use.
type Reassembler struct {
	mu     sync.Mutex
	ttl    time.Duration
	now    func() time.Time
	groups map[groupKey]*group
}

// NewReassembler creates a reassembler dropping groups older than ttl.
// A ttl <= 0 uses DefaultTTL.
func NewReassembler(ttl time.Duration) *Reassembler {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Reassembler{
		ttl:    ttl,
		now:    time.Now,
		groups: make(map[groupKey]*group),
	}
}

// Add stores a fragment. When the group holds every part number it is
// removed and the payloads are returned concatenated in part order.
// Repeated part numbers keep the first payload received.
func (r *Reassembler) Add(f Fragment) (Message, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := groupKey{source: f.Source, reference: f.Part.Reference}
	g, ok := r.groups[key]
	if !ok {
		g = &group{
			first:     f,
			total:     f.Part.Total,
			parts:     make(map[int][]byte, f.Part.Total),
			firstSeen: r.now(),
		}
		r.groups[key] = g
	}

	n := f.Part.Number
	if n < 1 || n > g.total {
		slog.Warn("Dropping multipart fragment outside group range",
			slog.String("source", f.Source),
			slog.Int("ref", int(f.Part.Reference)),
			slog.Int("part", n),
			slog.Int("total", g.total))
		return Message{}, false
	}
	if _, dup := g.parts[n]; !dup {
		g.parts[n] = f.Part.Payload
	}
	if len(g.parts) < g.total {
		return Message{}, false
	}

	delete(r.groups, key)
	return g.assemble(), true
}

func (g *group) assemble() Message {
	numbers := make([]int, 0, len(g.parts))
	size := 0
	for n, p := range g.parts {
		numbers = append(numbers, n)
		size += len(p)
	}
	sort.Ints(numbers)

	payload := make([]byte, 0, size)
	for _, n := range numbers {
		payload = append(payload, g.parts[n]...)
	}
	return Message{
		Source:      g.first.Source,
		Destination: g.first.Destination,
		DataCoding:  g.first.DataCoding,
		Kind:        g.first.Part.Kind,
		Reference:   g.first.Part.Reference,
		Parts:       g.total,
		Payload:     payload,
	}
}

// Pending returns the number of incomplete groups.
func (r *Reassembler) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.groups)
}

// Sweep drops groups first seen more than ttl ago and returns how many were
// dropped. Its signature matches workers.WorkerFunc.
func (r *Reassembler) Sweep(ctx context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-r.ttl)
	dropped := 0
	for key, g := range r.groups {
		if g.firstSeen.Before(cutoff) {
			slog.InfoContext(ctx, "Expiring incomplete multipart group",
				slog.String("source", key.source),
				slog.Int("ref", int(key.reference)),
				slog.Int("received", len(g.parts)),
				slog.Int("total", g.total))
			delete(r.groups, key)
			dropped++
		}
	}
	return dropped, nil
}
