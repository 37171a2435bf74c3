package clock

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestManual(t *testing.T) {
	c := NewManual(100)
	assert.Equal(t, uint64(100), c.Now())
	c.Advance(5)
	assert.Equal(t, uint64(105), c.Now())
	c.Set(50)
	assert.Equal(t, uint64(105), c.Now())
	c.Set(200)
	assert.Equal(t, uint64(200), c.Now())
}

func TestSystemIsMonotonic(t *testing.T) {
	c := NewSystem()
	first := c.Now()
	c.last = first + 1000
	assert.Equal(t, first+1000, c.Now())
}
