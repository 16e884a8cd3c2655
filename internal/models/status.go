package models

import (
	"fmt"
	"time"
)

// Status is the closed set of ticket lifecycle states. Unknown wire
// values are rejected at parse time rather than falling through to a
// default display branch.
type Status string

const (
	StatusWaiting   Status = "waiting"
	StatusAlmost    Status = "almost"
	StatusServing   Status = "serving"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusSkipped   Status = "skipped"
)

func ParseStatus(value string) (Status, error) {
	status := Status(value)
	if _, ok := statusInfo[status]; !ok {
		return "", fmt.Errorf("unknown status %q", value)
	}
	return status, nil
}

// Terminal reports whether no further transitions are allowed.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusSkipped:
		return true
	}
	return false
}

// StatusInfo is the display and alert behavior for one status.
// AlertDuration applies when Alert is true; zero means the alert must
// be dismissed explicitly.
type StatusInfo struct {
	Title         string
	Description   string
	Color         string
	Alert         bool
	AlertDuration time.Duration
	Sound         bool
}

var statusInfo = map[Status]StatusInfo{
	StatusWaiting: {
		Title:       "Waiting",
		Description: "You are in the queue. Please wait for your turn.",
		Color:       "amber",
	},
	StatusAlmost: {
		Title:         "Almost your turn",
		Description:   "Please come to the waiting area, you will be called shortly.",
		Color:         "blue",
		Alert:         true,
		AlertDuration: 10 * time.Second,
		Sound:         true,
	},
	StatusServing: {
		Title:       "Now serving",
		Description: "Please proceed to the service counter immediately.",
		Color:       "primary",
		Alert:       true,
		Sound:       true,
	},
	StatusCompleted: {
		Title:       "Service completed",
		Description: "Thank you for visiting.",
		Color:       "green",
	},
	StatusCancelled: {
		Title:       "Cancelled",
		Description: "Your queue entry has been cancelled.",
		Color:       "red",
	},
	StatusSkipped: {
		Title:       "Skipped",
		Description: "Your queue entry was skipped. Please contact the staff.",
		Color:       "purple",
	},
}

func (s Status) Info() StatusInfo {
	return statusInfo[s]
}
