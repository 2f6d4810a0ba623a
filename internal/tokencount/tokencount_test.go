package tokencount

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEmptyIsZero(t *testing.T) {
	e := NewEstimator()
	assert.Zero(t, e.Count(""))
}

func TestCountIsPositive(t *testing.T) {
	e := NewEstimator()
	assert.GreaterOrEqual(t, e.Count("a"), 1)
	assert.GreaterOrEqual(t, e.Count("hello world"), 1)
}

func TestCountGrowsWithText(t *testing.T) {
	e := NewEstimator()
	short := e.Count("hello")
	long := e.Count(strings.Repeat("hello world ", 100))
	assert.Greater(t, long, short)
}

func TestFallbackRatio(t *testing.T) {
	// Force the heuristic path regardless of encoding availability.
	e := NewEstimator()
	e.once.Do(func() {})

	assert.Equal(t, 25, e.Count(strings.Repeat("x", 100)))
	assert.Equal(t, 1, e.Count("ab"))
}
