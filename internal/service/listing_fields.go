package service

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/mtlprog/swarmmarket/internal/domain"
)

const maxListingNameLength = 100

// fieldSetter decodes one client-supplied value onto a listing.
type fieldSetter func(l *domain.Listing, raw json.RawMessage) error

// listingFields is the complete set of owner-editable listing fields.
var listingFields = map[string]fieldSetter{
	"name": func(l *domain.Listing, raw json.RawMessage) error {
		name, err := decodeString(raw)
		if err != nil {
			return err
		}
		name = strings.TrimSpace(name)
		if name == "" || utf8.RuneCountInString(name) > maxListingNameLength {
			return fmt.Errorf("must be 1 to %d characters", maxListingNameLength)
		}
		l.Name = name
		return nil
	},
	"tagline":       optionalString(func(l *domain.Listing) **string { return &l.Tagline }),
	"avatar_url":    optionalString(func(l *domain.Listing) **string { return &l.AvatarURL }),
	"demo_url":      optionalString(func(l *domain.Listing) **string { return &l.DemoURL }),
	"source_url":    optionalString(func(l *domain.Listing) **string { return &l.SourceURL }),
	"api_endpoint":  optionalString(func(l *domain.Listing) **string { return &l.APIEndpoint }),
	"pricing_model": optionalString(func(l *domain.Listing) **string { return &l.PricingModel }),
	"description": func(l *domain.Listing, raw json.RawMessage) error {
		if isNull(raw) {
			l.Description = ""
			return nil
		}
		description, err := decodeString(raw)
		if err != nil {
			return err
		}
		l.Description = description
		return nil
	},
	"category": func(l *domain.Listing, raw json.RawMessage) error {
		category, err := decodeString(raw)
		if err != nil {
			return err
		}
		category = strings.TrimSpace(category)
		if category == "" {
			return fmt.Errorf("must not be empty")
		}
		l.Category = category
		return nil
	},
	"tags":         stringList(func(l *domain.Listing) *[]string { return &l.Tags }),
	"capabilities": stringList(func(l *domain.Listing) *[]string { return &l.Capabilities }),
	"pricing_details": func(l *domain.Listing, raw json.RawMessage) error {
		if isNull(raw) {
			l.PricingDetails = []byte("{}")
			return nil
		}
		if !bytes.HasPrefix(bytes.TrimSpace(raw), []byte("{")) {
			return fmt.Errorf("must be an object")
		}
		l.PricingDetails = compact(raw)
		return nil
	},
	"portfolio": func(l *domain.Listing, raw json.RawMessage) error {
		if isNull(raw) {
			l.Portfolio = []byte("[]")
			return nil
		}
		if !bytes.HasPrefix(bytes.TrimSpace(raw), []byte("[")) {
			return fmt.Errorf("must be an array")
		}
		l.Portfolio = compact(raw)
		return nil
	},
	"is_active": func(l *domain.Listing, raw json.RawMessage) error {
		var active bool
		if err := json.Unmarshal(raw, &active); err != nil {
			return fmt.Errorf("must be a boolean")
		}
		l.IsDocked = active
		return nil
	},
}

// readOnlyListingFields are known listing fields that owners cannot write.
// Aggregates belong to the task lifecycle and webhook settings have their own endpoints.
var readOnlyListingFields = []string{
	"id", "owner_id", "slug",
	"total_hires", "tasks_completed", "total_earned_cents", "avg_rating", "rating_count",
	"response_time_hours", "is_docked", "is_featured", "dock_date", "status",
	"webhook_url", "webhook_secret", "webhook_status", "webhook_last_ping",
	"max_concurrent_tasks", "auto_accept_tasks", "accepted_task_types",
	"active_task_count", "created_at", "updated_at",
}

// applyListingFields applies client-supplied fields in name order.
// It returns true if the name changed.
func applyListingFields(l *domain.Listing, fields map[string]json.RawMessage) (bool, error) {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	slices.Sort(names)

	oldName := l.Name
	for _, name := range names {
		setter, ok := listingFields[name]
		if !ok {
			if slices.Contains(readOnlyListingFields, name) {
				return false, fmt.Errorf("%w: %s", domain.ErrReadOnlyField, name)
			}
			return false, fmt.Errorf("%w: %s", domain.ErrUnknownField, name)
		}
		if err := setter(l, fields[name]); err != nil {
			return false, fmt.Errorf("%w: %s %v", domain.ErrValidation, name, err)
		}
	}

	return l.Name != oldName, nil
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

func decodeString(raw json.RawMessage) (string, error) {
	var value string
	if err := json.Unmarshal(raw, &value); err != nil {
		return "", fmt.Errorf("must be a string")
	}
	if strings.ContainsRune(value, 0) {
		return "", fmt.Errorf("must not contain NUL characters")
	}
	return value, nil
}

func compact(raw json.RawMessage) []byte {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return raw
	}
	return buf.Bytes()
}

func optionalString(field func(l *domain.Listing) **string) fieldSetter {
	return func(l *domain.Listing, raw json.RawMessage) error {
		target := field(l)
		if isNull(raw) {
			*target = nil
			return nil
		}
		value, err := decodeString(raw)
		if err != nil {
			return err
		}
		value = strings.TrimSpace(value)
		if value == "" {
			*target = nil
			return nil
		}
		*target = &value
		return nil
	}
}

func stringList(field func(l *domain.Listing) *[]string) fieldSetter {
	return func(l *domain.Listing, raw json.RawMessage) error {
		target := field(l)
		if isNull(raw) {
			*target = []string{}
			return nil
		}
		var values []string
		if err := json.Unmarshal(raw, &values); err != nil {
			return fmt.Errorf("must be a list of strings")
		}
		cleaned := make([]string, 0, len(values))
		for _, value := range values {
			if strings.ContainsRune(value, 0) {
				return fmt.Errorf("must not contain NUL characters")
			}
			if value = strings.TrimSpace(value); value != "" {
				cleaned = append(cleaned, value)
			}
		}
		*target = cleaned
		return nil
	}
}
