package store

import (
	"context"
	"time"

	"github.com/astroniennn/com7-queue-flow/internal/models"
)

type RegisterTicketInput struct {
	RequestID    string
	Name         string
	Phone        string
	ServiceID    string
	RegisteredAt time.Time
}

type StatusActionInput struct {
	RequestID    string
	TicketNumber int
	Action       string
	OccurredAt   time.Time
}

type ServiceInput struct {
	Name                 string
	EstimatedWaitMinutes int
	Active               bool
}

type StatsSummary struct {
	Waiting              int     `json:"waiting"`
	Serving              int     `json:"serving"`
	CompletedToday       int     `json:"completed_today"`
	CancelledToday       int     `json:"cancelled_today"`
	AvgServiceMinutes    float64 `json:"avg_service_minutes"`
	AvgRegisteredPerHour float64 `json:"avg_registered_per_hour"`
}

type TicketStore interface {
	RegisterTicket(ctx context.Context, input RegisterTicketInput) (models.Ticket, error)
	GetTicket(ctx context.Context, ticketNumber int) (models.Ticket, error)
	FindTicketByPhone(ctx context.Context, phone string) (models.Ticket, error)
	CountWaitingBefore(ctx context.Context, ticketNumber int) (int, error)
	ApplyAction(ctx context.Context, input StatusActionInput) (models.Ticket, error)
	ListTickets(ctx context.Context, status models.Status) ([]models.Ticket, error)

	ListServices(ctx context.Context, activeOnly bool) ([]models.Service, error)
	CreateService(ctx context.Context, input ServiceInput) (models.Service, error)
	UpdateService(ctx context.Context, serviceID string, input ServiceInput) (models.Service, error)
	DeleteService(ctx context.Context, serviceID string) error

	ListSounds(ctx context.Context) ([]models.NotificationSound, error)
	GetStatsSummary(ctx context.Context, dayStart time.Time) (StatsSummary, error)
}
