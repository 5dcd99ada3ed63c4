package version

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestString(t *testing.T) {
	got := String()
	require.Contains(t, got, "barwatch")
	require.Contains(t, got, Version)
	require.Contains(t, got, Commit)
	require.Contains(t, got, BuildDate)
}
