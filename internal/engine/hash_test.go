package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContentHashStable(t *testing.T) {
	a := ContentHash("Fix login", "Users cannot log in")
	b := ContentHash("Fix login", "Users cannot log in")
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
}

func TestContentHashSensitiveToEitherField(t *testing.T) {
	base := ContentHash("Fix login", "Users cannot log in")
	assert.NotEqual(t, base, ContentHash("Fix login!", "Users cannot log in"))
	assert.NotEqual(t, base, ContentHash("Fix login", "Users cannot log in."))
}

func TestContentHashFieldBoundary(t *testing.T) {
	// Without a separator these two would collide.
	assert.NotEqual(t, ContentHash("ab", "c"), ContentHash("a", "bc"))
}
