package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors. Callers wrap them with context and match with errors.Is.
var (
	// ErrNotFound reports a missing symbol, pool or data file.
	ErrNotFound = errors.New("not found")

	// ErrInsufficientData reports too few bars or months for a computation.
	ErrInsufficientData = errors.New("insufficient data")

	// ErrConfiguration reports an unknown name, unsupported kind or malformed
	// parameter.
	ErrConfiguration = errors.New("configuration error")
)

// ParseStatementKind validates s against the supported statement kinds.
func ParseStatementKind(s string) (StatementKind, error) {
	k := StatementKind(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range StatementKinds {
		if k == known {
			return k, nil
		}
	}
	return "", fmt.Errorf("unsupported statement kind %q: %w", s, ErrConfiguration)
}
