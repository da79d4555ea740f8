package store

import "queuematic/internal/models"

var transitionMap = map[string][]string{
	"call_next":     {models.StatusWaiting},
	"start_serving": {models.StatusCalled},
	"complete":      {models.StatusCalled, models.StatusServing},
	"cancel":        {models.StatusWaiting},
	"force_cancel":  {models.StatusCalled, models.StatusServing},
}

// ValidTransition reports whether an action may be applied to a ticket in
// fromStatus. Completed and cancelled never appear as a source state:
// terminal statuses stay terminal.
func ValidTransition(action, fromStatus string) bool {
	allowed, ok := transitionMap[action]
	if !ok {
		return false
	}
	for _, status := range allowed {
		if status == fromStatus {
			return true
		}
	}
	return false
}
