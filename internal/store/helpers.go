package store

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/habitcoach/habitcoach/internal/models"
)

// applyFields merges a partial field map into a record by round-tripping
// through its JSON form, so field names resolve exactly as the models.Field*
// constants do on the document backends.
func applyFields(rec *models.UserRecord, fields map[string]interface{}) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}
	var doc map[string]interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("failed to decode record document: %w", err)
	}
	for k, v := range fields {
		// Dotted keys address one level into a map field, matching the
		// document-operator form "progress_log.<date>".
		if parent, child, ok := strings.Cut(k, "."); ok {
			inner, _ := doc[parent].(map[string]interface{})
			if inner == nil {
				inner = make(map[string]interface{})
			}
			inner[child] = v
			doc[parent] = inner
			continue
		}
		doc[k] = v
	}
	merged, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to re-encode record document: %w", err)
	}
	if err := json.Unmarshal(merged, rec); err != nil {
		return fmt.Errorf("failed to apply field update: %w", err)
	}
	if _, ok := fields[models.FieldPhase]; ok && !models.IsValidPhase(rec.Phase) {
		return fmt.Errorf("%w: unknown phase %q", models.ErrInvalidPhaseChange, rec.Phase)
	}
	return nil
}

// encodeRecord serializes a record for the SQL backends' JSON document column.
func encodeRecord(rec models.UserRecord) (string, error) {
	raw, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("failed to encode user record %s: %w", rec.UserID, err)
	}
	return string(raw), nil
}

// decodeRecord deserializes a record from the SQL backends' document column.
func decodeRecord(raw string) (*models.UserRecord, error) {
	var rec models.UserRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, fmt.Errorf("failed to decode user record: %w", err)
	}
	if rec.ProgressLog == nil {
		rec.ProgressLog = make(map[string]models.ProgressEntry)
	}
	if rec.ExerciseHistory == nil {
		rec.ExerciseHistory = make(map[string][]models.ExercisePerformance)
	}
	return &rec, nil
}
