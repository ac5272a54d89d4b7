package repository

import (
	"encoding/json"
	"fmt"
	"time"

	"PatternScan/internal/domain/models"
	applogger "PatternScan/pkg/logger"
)

// SchemaVersion is the library blob layout written by EncodeLibrary.
const SchemaVersion = 1

type libraryEnvelope struct {
	SchemaVersion int               `json:"schema_version"`
	SavedAt       time.Time         `json:"saved_at"`
	Patterns      []*models.Pattern `json:"patterns"`
}

// EncodeLibrary serializes patterns into a versioned JSON blob. Derived
// representations and the index are not written.
func EncodeLibrary(patterns []*models.Pattern, savedAt time.Time) ([]byte, error) {
	env := libraryEnvelope{
		SchemaVersion: SchemaVersion,
		SavedAt:       savedAt.UTC(),
		Patterns:      patterns,
	}
	if env.Patterns == nil {
		env.Patterns = []*models.Pattern{}
	}
	b, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode library: %w", err)
	}
	return b, nil
}

// DecodeLibrary parses a blob written by EncodeLibrary. Unknown fields are
// ignored. A newer schema version is read best-effort and logged at Warn.
func DecodeLibrary(data []byte, l *applogger.Logger) ([]*models.Pattern, error) {
	var env libraryEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode library: %w", err)
	}
	if env.SchemaVersion < 1 {
		return nil, fmt.Errorf("decode library: missing schema_version")
	}
	if env.SchemaVersion > SchemaVersion && l != nil {
		l.Warn("library schema newer than supported",
			applogger.Int("schema_version", env.SchemaVersion),
			applogger.Int("supported", SchemaVersion),
		)
	}
	out := make([]*models.Pattern, 0, len(env.Patterns))
	for _, p := range env.Patterns {
		if p != nil {
			out = append(out, p)
		}
	}
	return out, nil
}
