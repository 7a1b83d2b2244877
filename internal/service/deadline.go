package service

import (
	"fmt"
	"strings"
	"time"

	"github.com/mtlprog/swarmmarket/internal/domain"
)

// deadlineLayouts are the accepted deadline formats. Timestamps without a zone are UTC.
var deadlineLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02",
}

// ParseDeadline parses an optional task deadline.
// Returns nil for an empty value and ErrInvalidDeadline for anything unparseable.
func ParseDeadline(raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}

	for _, layout := range deadlineLayouts {
		if deadline, err := time.Parse(layout, raw); err == nil {
			deadline = deadline.UTC()
			return &deadline, nil
		}
	}

	return nil, fmt.Errorf("%w: %q is not an ISO 8601 timestamp", domain.ErrInvalidDeadline, raw)
}
