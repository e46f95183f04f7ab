package pubdate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	hk := time.FixedZone("HKT", 8*60*60)

	tests := []struct {
		name string
		raw  string
		want time.Time
	}{
		{"rfc3339", "2024-01-15T09:00:00Z", time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)},
		{"rfc1123z", "Mon, 15 Jan 2024 17:00:00 +0800", time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)},
		{"naive in location", "2024-01-15 17:00:00", time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)},
		{"day first slash", "15/01/2024 17:00", time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)},
		{"lenient fallback", "Mon Jan 15 17:00:00 2024", time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Parse(tt.raw, hk)
			require.True(t, ok)
			assert.True(t, tt.want.Equal(got), "got %s want %s", got, tt.want)
			assert.Equal(t, time.UTC, got.Location())
		})
	}
}

func TestParse_Rejects(t *testing.T) {
	for _, raw := range []string{"", "   ", "not a date"} {
		_, ok := Parse(raw, nil)
		assert.False(t, ok, "raw %q", raw)
	}
}
