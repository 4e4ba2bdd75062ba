package core

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// RunID identifies one harness run over a method list. Run IDs are UUIDv7
// strings, so lexical order follows creation time.
type RunID string

// NewRunID creates a time-ordered run identifier
func NewRunID() RunID {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return RunID(id.String())
}

func (id RunID) String() string { return string(id) }

func (id RunID) IsEmpty() bool { return id == "" }

// ParseRunID accepts any UUID spelling and returns its canonical form.
func ParseRunID(s string) (RunID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", fmt.Errorf("run ID cannot be empty")
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return "", fmt.Errorf("invalid run ID %q: %w", s, err)
	}
	return RunID(id.String()), nil
}
