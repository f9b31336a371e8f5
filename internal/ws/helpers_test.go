package ws

import (
	"regexp"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConnIDIsUUID(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 100; i++ {
		id := newConnID()
		_, err := uuid.Parse(id)
		require.NoError(t, err, id)
		seen[id] = struct{}{}
	}
	assert.Len(t, seen, 100)
}

func TestRandomColorFormat(t *testing.T) {
	pattern := regexp.MustCompile(`^#[0-9A-F]{6}$`)
	for i := 0; i < 20; i++ {
		assert.Regexp(t, pattern, randomColor())
	}
}
