package store

import (
	"context"
	"time"

	"github.com/astroniennn/com7-queue-flow/internal/models"
)

// Change is one row-level ticket update, written to the ticket_changes
// outbox in the same transaction as the update itself.
type Change struct {
	ChangeID     string        `json:"change_id"`
	TicketNumber int           `json:"ticket_number"`
	Old          models.Ticket `json:"old"`
	New          models.Ticket `json:"new"`
	CreatedAt    time.Time     `json:"created_at"`
}

// ChangeOffset marks the last dispatched change. The id breaks ties
// between rows sharing a timestamp.
type ChangeOffset struct {
	LastChangeTime time.Time
	LastChangeID   string
}

type ChangeStore interface {
	ListChanges(ctx context.Context, offset ChangeOffset, limit int) ([]Change, error)
	GetChangeOffset(ctx context.Context) (ChangeOffset, error)
	UpdateChangeOffset(ctx context.Context, offset ChangeOffset) error
}
