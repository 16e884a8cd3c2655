package store

import (
	"testing"

	"github.com/astroniennn/com7-queue-flow/internal/models"
)

func TestValidTransition(t *testing.T) {
	cases := []struct {
		action string
		from   models.Status
		valid  bool
	}{
		{"almost", models.StatusWaiting, true},
		{"almost", models.StatusServing, false},
		{"serve", models.StatusWaiting, true},
		{"serve", models.StatusAlmost, true},
		{"serve", models.StatusCompleted, false},
		{"complete", models.StatusServing, true},
		{"complete", models.StatusAlmost, false},
		{"cancel", models.StatusWaiting, true},
		{"cancel", models.StatusAlmost, true},
		{"cancel", models.StatusServing, true},
		{"cancel", models.StatusCompleted, false},
		{"skip", models.StatusWaiting, true},
		{"skip", models.StatusServing, false},
		{"unknown", models.StatusWaiting, false},
	}

	for _, tt := range cases {
		if got := ValidTransition(tt.action, tt.from); got != tt.valid {
			t.Fatalf("ValidTransition(%q, %q)=%v, want %v", tt.action, tt.from, got, tt.valid)
		}
	}
}

func TestTargetStatus(t *testing.T) {
	if target, ok := TargetStatus("complete"); !ok || target != models.StatusCompleted {
		t.Fatalf("TargetStatus(complete)=%v,%v", target, ok)
	}
	if _, ok := TargetStatus("promote"); ok {
		t.Fatal("TargetStatus accepted unknown action")
	}
}
