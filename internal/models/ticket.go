package models

import "time"

type Ticket struct {
	TicketNumber         int        `json:"ticket_number"`
	Name                 string     `json:"name"`
	Phone                string     `json:"phone"`
	ServiceID            string     `json:"service_id"`
	ServiceType          string     `json:"service_type"`
	Status               Status     `json:"status"`
	RegisteredAt         time.Time  `json:"registered_at"`
	CompletedAt          *time.Time `json:"completed_at,omitempty"`
	EstimatedWaitMinutes int        `json:"estimated_wait_minutes"`
}
