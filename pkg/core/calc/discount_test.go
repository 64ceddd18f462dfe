package calc

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGordonTerminalValue(t *testing.T) {
	tv, ok := GordonTerminalValue(100, 0.10, 0.02)
	assert.True(t, ok)
	assert.InDelta(t, 1275.0, tv, 1e-9)

	_, ok = GordonTerminalValue(100, 0.05, 0.08)
	assert.False(t, ok)
	_, ok = GordonTerminalValue(100, 0.06, 0.06)
	assert.False(t, ok)
}

func TestPresentValue(t *testing.T) {
	assert.InDelta(t, 100.0, PresentValue(121, 0.10, 2), 1e-9)
	assert.Equal(t, 50.0, PresentValue(50, 0.10, 0))
}
