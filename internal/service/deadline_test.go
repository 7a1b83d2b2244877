package service_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mtlprog/swarmmarket/internal/domain"
	"github.com/mtlprog/swarmmarket/internal/service"
)

func TestParseDeadline(t *testing.T) {
	tests := []struct {
		raw  string
		want time.Time
	}{
		{"2026-03-01T12:30:00Z", time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC)},
		{"2026-03-01T14:30:00+02:00", time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC)},
		{"2026-03-01T12:30:00.5Z", time.Date(2026, 3, 1, 12, 30, 0, 500_000_000, time.UTC)},
		{"2026-03-01T12:30:00", time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC)},
		{"2026-03-01T12:30", time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC)},
		{" 2026-03-01 ", time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := service.ParseDeadline(tt.raw)
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.True(t, tt.want.Equal(*got), "got %s", got)
			assert.Equal(t, time.UTC, got.Location())
		})
	}
}

func TestParseDeadline_Empty(t *testing.T) {
	got, err := service.ParseDeadline("   ")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestParseDeadline_Invalid(t *testing.T) {
	for _, raw := range []string{"tomorrow", "2026-13-01", "01/03/2026", "2026-03-01T25:00:00Z"} {
		_, err := service.ParseDeadline(raw)
		assert.ErrorIs(t, err, domain.ErrInvalidDeadline, raw)
	}
}

func TestSlugify(t *testing.T) {
	tests := map[string]string{
		"Research Bot":       "research-bot",
		"  GPT--4 Helper!! ": "gpt-4-helper",
		"Ünïcode Agent":      "n-code-agent",
		"***":                "agent",
		"":                   "agent",
	}

	for name, want := range tests {
		assert.Equal(t, want, service.Slugify(name), name)
	}
}
