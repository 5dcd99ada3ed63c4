package freshness

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"barwatch/internal/domain"
)

func TestClassify(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	cadence := 90 * time.Second

	cases := []struct {
		name string
		age  time.Duration
		want domain.FreshnessState
	}{
		{"fresh", 30 * time.Second, domain.FreshGreen},
		{"exactly cadence", 90 * time.Second, domain.FreshGreen},
		{"just past cadence", 91 * time.Second, domain.FreshRed},
		{"gap below amber window", 135 * time.Second, domain.FreshRed},
		{"amber window opens", 136 * time.Second, domain.FreshAmber},
		{"mid amber", 200 * time.Second, domain.FreshAmber},
		{"amber window closes", 269 * time.Second, domain.FreshAmber},
		{"exactly triple cadence", 270 * time.Second, domain.FreshRed},
		{"far stale", time.Hour, domain.FreshRed},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			barTime := now.Add(-tc.age)
			got := Classify(&barTime, now, cadence)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestClassifyNoBar(t *testing.T) {
	now := time.Now().UTC()
	require.Equal(t, domain.FreshRed, Classify(nil, now, time.Minute))
}

func TestClassifyFutureBar(t *testing.T) {
	now := time.Now().UTC()
	future := now.Add(30 * time.Second)
	require.Equal(t, domain.FreshGreen, Classify(&future, now, time.Minute))
}

func TestCadencesFor(t *testing.T) {
	c := Cadences{"1m": 90 * time.Second}

	d, err := c.For("1m")
	require.NoError(t, err)
	require.Equal(t, 90*time.Second, d)

	_, err = c.For("7m")
	require.Error(t, err)
}
