// Package queue derives a waiting ticket's queue position. Position is
// never stored; it is recomputed from the set of waiting tickets with a
// lower ticket number.
package queue

import (
	"context"
	"time"

	"github.com/astroniennn/com7-queue-flow/internal/models"
)

type Store interface {
	GetTicket(ctx context.Context, ticketNumber int) (models.Ticket, error)
	CountWaitingBefore(ctx context.Context, ticketNumber int) (int, error)
}

type Position struct {
	TicketNumber         int           `json:"ticket_number"`
	Position             int           `json:"position"`
	EstimatedWaitMinutes int           `json:"estimated_wait_minutes"`
	RemainingWait        time.Duration `json:"-"`
	Status               models.Status `json:"status"`
}

type Resolver struct {
	store Store
}

func NewResolver(store Store) *Resolver {
	return &Resolver{store: store}
}

// Resolve computes the 1-based rank of the ticket among waiting tickets
// ordered by ticket number. The remaining wait is the linear estimate
// position * the ticket's own service estimate; it does not account for
// the service types of the tickets ahead.
func (r *Resolver) Resolve(ctx context.Context, ticketNumber int) (Position, error) {
	ticket, err := r.store.GetTicket(ctx, ticketNumber)
	if err != nil {
		return Position{}, err
	}

	count, err := r.store.CountWaitingBefore(ctx, ticketNumber)
	if err != nil {
		return Position{}, err
	}

	position := count + 1
	return Position{
		TicketNumber:         ticketNumber,
		Position:             position,
		EstimatedWaitMinutes: ticket.EstimatedWaitMinutes,
		RemainingWait:        time.Duration(position*ticket.EstimatedWaitMinutes) * time.Minute,
		Status:               ticket.Status,
	}, nil
}
