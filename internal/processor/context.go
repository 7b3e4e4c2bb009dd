package processor

import "github.com/xaenox/dump-bot/internal/models"

// BuildContext returns up to window of the most recent entries, oldest first,
// leaving out excludeID (the entry being processed).
func BuildContext(entries []*models.Entry, excludeID string, window int) []models.ContextEntry {
	if window <= 0 {
		window = DefaultContextWindow
	}

	kept := make([]*models.Entry, 0, len(entries))
	for _, e := range entries {
		if e.ID != excludeID {
			kept = append(kept, e)
		}
	}
	if len(kept) > window {
		kept = kept[len(kept)-window:]
	}

	result := make([]models.ContextEntry, len(kept))
	for i, e := range kept {
		result[i] = models.ContextEntry{Type: e.Type, Content: e.Content}
	}
	return result
}
