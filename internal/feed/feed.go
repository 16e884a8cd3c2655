// Package feed turns the ticket_changes outbox into a push stream:
// changes are polled after a persisted offset and dispatched, in commit
// order, to per-ticket subscribers and to registered sinks.
package feed

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/astroniennn/com7-queue-flow/internal/store"

	"github.com/google/uuid"
)

type Config struct {
	Interval  time.Duration
	BatchSize int
}

type Poller struct {
	store     store.ChangeStore
	interval  time.Duration
	batchSize int

	mu    sync.RWMutex
	subs  map[int]map[string]chan store.Change
	sinks []func(store.Change)

	offset store.ChangeOffset
}

func New(changeStore store.ChangeStore, cfg Config) *Poller {
	interval := cfg.Interval
	if interval <= 0 {
		interval = time.Second
	}
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = 100
	}
	return &Poller{
		store:     changeStore,
		interval:  interval,
		batchSize: batch,
		subs:      make(map[int]map[string]chan store.Change),
	}
}

// OnChange registers a sink receiving every change. Register sinks
// before calling Run.
func (p *Poller) OnChange(fn func(store.Change)) {
	p.sinks = append(p.sinks, fn)
}

// Subscribe returns a channel of changes for one ticket and a cancel
// function. Cancel always releases the subscription, whichever path the
// caller exits on.
func (p *Poller) Subscribe(ticketNumber int) (<-chan store.Change, func()) {
	id := uuid.NewString()
	ch := make(chan store.Change, 16)

	p.mu.Lock()
	if p.subs[ticketNumber] == nil {
		p.subs[ticketNumber] = make(map[string]chan store.Change)
	}
	p.subs[ticketNumber][id] = ch
	p.mu.Unlock()

	cancel := func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		subs, ok := p.subs[ticketNumber]
		if !ok {
			return
		}
		if _, ok := subs[id]; !ok {
			return
		}
		delete(subs, id)
		if len(subs) == 0 {
			delete(p.subs, ticketNumber)
		}
		close(ch)
	}
	return ch, cancel
}

func (p *Poller) Run(ctx context.Context) {
	offset, err := p.store.GetChangeOffset(ctx)
	if err != nil {
		log.Printf("feed load offset error: %v", err)
	}
	p.offset = offset

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.poll(ctx)
		}
	}
}

func (p *Poller) poll(ctx context.Context) {
	changes, err := p.store.ListChanges(ctx, p.offset, p.batchSize)
	if err != nil {
		log.Printf("feed list changes error: %v", err)
		return
	}
	if len(changes) == 0 {
		return
	}

	for _, change := range changes {
		p.offset.LastChangeTime = change.CreatedAt
		p.offset.LastChangeID = change.ChangeID
		p.dispatch(change)
	}

	if err := p.store.UpdateChangeOffset(ctx, p.offset); err != nil {
		log.Printf("feed update offset error: %v", err)
	}
}

func (p *Poller) dispatch(change store.Change) {
	for _, sink := range p.sinks {
		sink(change)
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	for id, ch := range p.subs[change.TicketNumber] {
		select {
		case ch <- change:
		default:
			log.Printf("feed drop change for subscriber %s ticket=%d", id, change.TicketNumber)
		}
	}
}
