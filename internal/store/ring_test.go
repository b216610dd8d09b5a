package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRing_PushAndEvict(t *testing.T) {
	r := NewRing[int](3)

	for i := 1; i <= 3; i++ {
		_, evicted := r.Push(i)
		assert.False(t, evicted, "push %d MUST NOT evict before capacity is reached", i)
	}
	assert.Equal(t, []int{1, 2, 3}, r.Slice())

	old, evicted := r.Push(4)
	assert.True(t, evicted)
	assert.Equal(t, 1, old)
	assert.Equal(t, []int{2, 3, 4}, r.Slice())
	assert.Equal(t, 3, r.Len())
	assert.Equal(t, 3, r.Cap())
}

func TestRing_Reset(t *testing.T) {
	r := NewRing[string](2)
	r.Push("a")
	r.Push("b")
	r.Push("c")

	r.Reset()

	assert.Equal(t, 0, r.Len())
	assert.Empty(t, r.Slice())

	r.Push("d")
	assert.Equal(t, []string{"d"}, r.Slice())
}

func TestRing_InvalidCapacity(t *testing.T) {
	assert.Panics(t, func() { NewRing[int](0) })
}
