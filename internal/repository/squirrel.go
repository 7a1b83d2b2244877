package repository

import (
	"encoding/json"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
)

// psql is the shared Squirrel statement builder configured for PostgreSQL dollar placeholders.
var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// blobText converts a schema-less JSON payload into its stored text form.
// Empty payloads are stored as fallback ("{}" or "[]").
func blobText(payload []byte, fallback string) string {
	if len(payload) == 0 {
		return fallback
	}
	return string(payload)
}

// nullableBlobText is blobText for optional columns: empty payloads stay NULL.
func nullableBlobText(payload []byte) *string {
	if len(payload) == 0 {
		return nil
	}
	s := string(payload)
	return &s
}

// blobBytes converts stored text back into a payload.
func blobBytes(text *string) []byte {
	if text == nil {
		return nil
	}
	return []byte(*text)
}

// encodeEventData serializes event data for the opaque data column.
func encodeEventData(data map[string]any) (string, error) {
	if len(data) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(data)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// decodeEventData parses the data column; malformed rows decode as empty.
func decodeEventData(text string) map[string]any {
	data := map[string]any{}
	if text == "" {
		return data
	}
	if err := json.Unmarshal([]byte(text), &data); err != nil {
		return map[string]any{}
	}
	return data
}

// emptyIfNil keeps TEXT[] columns non-null.
func emptyIfNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}

// isUUID reports whether s can be compared against a UUID column.
func isUUID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
