package store

import "github.com/astroniennn/com7-queue-flow/internal/models"

var transitionMap = map[string]struct {
	from []models.Status
	to   models.Status
}{
	"almost":   {from: []models.Status{models.StatusWaiting}, to: models.StatusAlmost},
	"serve":    {from: []models.Status{models.StatusWaiting, models.StatusAlmost}, to: models.StatusServing},
	"complete": {from: []models.Status{models.StatusServing}, to: models.StatusCompleted},
	"cancel":   {from: []models.Status{models.StatusWaiting, models.StatusAlmost, models.StatusServing}, to: models.StatusCancelled},
	"skip":     {from: []models.Status{models.StatusWaiting}, to: models.StatusSkipped},
}

func ValidTransition(action string, fromStatus models.Status) bool {
	entry, ok := transitionMap[action]
	if !ok {
		return false
	}
	for _, status := range entry.from {
		if status == fromStatus {
			return true
		}
	}
	return false
}

func TargetStatus(action string) (models.Status, bool) {
	entry, ok := transitionMap[action]
	if !ok {
		return "", false
	}
	return entry.to, true
}
