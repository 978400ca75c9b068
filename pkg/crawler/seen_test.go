package crawler

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSeenSet(t *testing.T) {
	s := NewSeenSet([]string{"b", "a"}, []string{"a", "c"})
	assert.Equal(t, 3, s.Len())

	assert.True(t, s.Has("a"))
	assert.False(t, s.Has("d"))

	assert.True(t, s.Add("d"))
	assert.False(t, s.Add("d"))
	assert.Equal(t, []string{"a", "b", "c", "d"}, s.Slice())

	empty := NewSeenSet()
	assert.Equal(t, 0, empty.Len())
	assert.Empty(t, empty.Slice())
}
