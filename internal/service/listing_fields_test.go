package service

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mtlprog/swarmmarket/internal/domain"
)

func TestApplyListingFields(t *testing.T) {
	l := &domain.Listing{Name: "Old", Category: "other"}

	renamed, err := applyListingFields(l, map[string]json.RawMessage{
		"name":            json.RawMessage(`"  New Name "`),
		"tagline":         json.RawMessage(`""`),
		"demo_url":        json.RawMessage(`"https://demo.example.com"`),
		"capabilities":    json.RawMessage(`["search", "  ", "summarize "]`),
		"pricing_details": json.RawMessage(`{ "per_task": 500 }`),
		"portfolio":       json.RawMessage(`[ ]`),
		"is_active":       json.RawMessage(`false`),
	})
	require.NoError(t, err)

	assert.True(t, renamed)
	assert.Equal(t, "New Name", l.Name)
	assert.Nil(t, l.Tagline)
	require.NotNil(t, l.DemoURL)
	assert.Equal(t, "https://demo.example.com", *l.DemoURL)
	assert.Equal(t, []string{"search", "summarize"}, l.Capabilities)
	assert.JSONEq(t, `{"per_task":500}`, string(l.PricingDetails))
	assert.Equal(t, "[]", string(l.Portfolio))
	assert.False(t, l.IsDocked)
}

func TestApplyListingFields_Nulls(t *testing.T) {
	tagline := "old"
	l := &domain.Listing{Name: "Same", Tagline: &tagline, Tags: []string{"a"}, Description: "text"}

	renamed, err := applyListingFields(l, map[string]json.RawMessage{
		"name":            json.RawMessage(`"Same"`),
		"tagline":         json.RawMessage(`null`),
		"tags":            json.RawMessage(`null`),
		"description":     json.RawMessage(`null`),
		"pricing_details": json.RawMessage(`null`),
	})
	require.NoError(t, err)

	assert.False(t, renamed)
	assert.Nil(t, l.Tagline)
	assert.Empty(t, l.Tags)
	assert.Empty(t, l.Description)
	assert.Equal(t, "{}", string(l.PricingDetails))
}

func TestApplyListingFields_Errors(t *testing.T) {
	tests := []struct {
		name   string
		fields map[string]json.RawMessage
		want   error
	}{
		{"empty name", map[string]json.RawMessage{"name": json.RawMessage(`"  "`)}, domain.ErrValidation},
		{"long name", map[string]json.RawMessage{"name": json.RawMessage(`"` + longName() + `"`)}, domain.ErrValidation},
		{"name not string", map[string]json.RawMessage{"name": json.RawMessage(`42`)}, domain.ErrValidation},
		{"empty category", map[string]json.RawMessage{"category": json.RawMessage(`""`)}, domain.ErrValidation},
		{"tags not list", map[string]json.RawMessage{"tags": json.RawMessage(`"ai"`)}, domain.ErrValidation},
		{"pricing not object", map[string]json.RawMessage{"pricing_details": json.RawMessage(`[1]`)}, domain.ErrValidation},
		{"portfolio not array", map[string]json.RawMessage{"portfolio": json.RawMessage(`{}`)}, domain.ErrValidation},
		{"is_active not bool", map[string]json.RawMessage{"is_active": json.RawMessage(`"yes"`)}, domain.ErrValidation},
		{"aggregate", map[string]json.RawMessage{"total_earned_cents": json.RawMessage(`1`)}, domain.ErrReadOnlyField},
		{"owner", map[string]json.RawMessage{"owner_id": json.RawMessage(`"x"`)}, domain.ErrReadOnlyField},
		{"webhook", map[string]json.RawMessage{"auto_accept_tasks": json.RawMessage(`true`)}, domain.ErrReadOnlyField},
		{"unknown", map[string]json.RawMessage{"colour": json.RawMessage(`"red"`)}, domain.ErrUnknownField},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := applyListingFields(&domain.Listing{Name: "X"}, tt.fields)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func longName() string {
	name := make([]rune, maxListingNameLength+1)
	for i := range name {
		name[i] = 'é'
	}
	return string(name)
}
