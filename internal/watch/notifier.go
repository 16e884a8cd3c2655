// Package watch maintains a live view of one ticket from its change
// stream: status merges in arrival order, user-facing alerts for the
// almost and serving transitions, and position refresh when the ticket
// re-enters the queue.
package watch

import (
	"context"
	"log"
	"sync"

	"github.com/astroniennn/com7-queue-flow/internal/models"
	"github.com/astroniennn/com7-queue-flow/internal/queue"
	"github.com/astroniennn/com7-queue-flow/internal/store"
)

// Alert is a user-facing notification for a status transition.
// Duration zero means the alert stays until dismissed.
type Alert struct {
	TicketNumber int           `json:"ticket_number"`
	Status       models.Status `json:"status"`
	Title        string        `json:"title"`
	Message      string        `json:"message"`
	DurationMS   int64         `json:"duration_ms"`
	SoundURL     string        `json:"sound_url,omitempty"`
}

type Alerter interface {
	Show(alert Alert)
}

type PositionResolver interface {
	Resolve(ctx context.Context, ticketNumber int) (queue.Position, error)
}

// View is the watcher's current picture of the ticket.
type View struct {
	Ticket   models.Ticket `json:"ticket"`
	Position int           `json:"position"`
}

type Watcher struct {
	number    int
	resolver  PositionResolver
	alerter   Alerter
	sounds    *SoundCache
	soundURLs map[models.Status]string

	mu       sync.Mutex
	ticket   models.Ticket
	position int
	seq      uint64

	inflight sync.WaitGroup
}

func NewWatcher(ticket models.Ticket, position int, resolver PositionResolver, alerter Alerter, sounds *SoundCache, soundURLs map[models.Status]string) *Watcher {
	return &Watcher{
		number:    ticket.TicketNumber,
		resolver:  resolver,
		alerter:   alerter,
		sounds:    sounds,
		soundURLs: soundURLs,
		ticket:    ticket,
		position:  position,
	}
}

// Run applies changes until the channel closes or the context is
// cancelled, then waits for any in-flight position refresh.
func (w *Watcher) Run(ctx context.Context, changes <-chan store.Change) {
	defer w.inflight.Wait()
	for {
		select {
		case <-ctx.Done():
			return
		case change, ok := <-changes:
			if !ok {
				return
			}
			w.Apply(ctx, change)
		}
	}
}

// Apply merges one change event. Merges happen in call order; each
// merge bumps a sequence number so a position refresh started by an
// older event can never overwrite state written by a newer one.
func (w *Watcher) Apply(ctx context.Context, change store.Change) {
	if change.New.Status == change.Old.Status {
		return
	}
	newStatus := change.New.Status

	w.mu.Lock()
	if current := w.ticket.Status; current.Terminal() {
		w.mu.Unlock()
		log.Printf("watch stale change dropped ticket=%d status=%s current=%s", w.number, newStatus, current)
		return
	}
	w.seq++
	seq := w.seq
	w.ticket.Status = newStatus
	w.ticket.CompletedAt = change.New.CompletedAt
	w.mu.Unlock()

	info := newStatus.Info()
	if info.Alert {
		alert := Alert{
			TicketNumber: w.number,
			Status:       newStatus,
			Title:        info.Title,
			Message:      info.Description,
			DurationMS:   info.AlertDuration.Milliseconds(),
		}
		if info.Sound {
			alert.SoundURL = w.soundURLs[newStatus]
		}
		w.alerter.Show(alert)
		if alert.SoundURL != "" {
			w.sounds.Play(alert.SoundURL)
		}
	}

	if newStatus == models.StatusWaiting {
		w.inflight.Add(1)
		go func() {
			defer w.inflight.Done()
			w.refreshPosition(ctx, seq)
		}()
	}
}

func (w *Watcher) refreshPosition(ctx context.Context, seq uint64) {
	pos, err := w.resolver.Resolve(ctx, w.number)
	if err != nil {
		// Last-known position stays in place on failure.
		log.Printf("watch position refresh error ticket=%d: %v", w.number, err)
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.seq != seq || w.ticket.Status != models.StatusWaiting {
		return
	}
	w.position = pos.Position
}

func (w *Watcher) Snapshot() View {
	w.mu.Lock()
	defer w.mu.Unlock()
	return View{Ticket: w.ticket, Position: w.position}
}
