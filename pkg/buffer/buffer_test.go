package buffer

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestNew(t *testing.T) {
	rb := New[int](4, zap.NewNop())
	assert.Equal(t, 4, rb.Cap())
	assert.Zero(t, rb.Len())
	assert.Nil(t, rb.Drain())

	assert.Equal(t, 1, New[int](0, zap.NewNop()).Cap())
}

func TestAddAndDrain(t *testing.T) {
	rb := New[string](3, zap.NewNop())
	rb.Add("a")
	rb.Add("b")

	assert.Equal(t, 2, rb.Len())

	assert.Equal(t, []string{"a", "b"}, rb.Drain())
	assert.Zero(t, rb.Len())
	assert.Nil(t, rb.Drain())
}

func TestOverflowKeepsNewest(t *testing.T) {
	rb := New[int](3, zap.NewNop())
	for i := 1; i <= 5; i++ {
		rb.Add(i)
	}

	assert.Equal(t, 3, rb.Len())
	assert.Equal(t, uint64(2), rb.Dropped())
	assert.Equal(t, []int{3, 4, 5}, rb.Drain())

	rb.Add(6)
	assert.Equal(t, []int{6}, rb.Drain())
}

func TestDrainAfterWrap(t *testing.T) {
	rb := New[int](3, zap.NewNop())
	rb.Add(1)
	rb.Add(2)
	assert.Equal(t, []int{1, 2}, rb.Drain())

	for i := 3; i <= 7; i++ {
		rb.Add(i)
	}
	assert.Equal(t, []int{5, 6, 7}, rb.Drain())
}

func TestConcurrentAdd(t *testing.T) {
	rb := New[int](1000, zap.NewNop())

	var wg sync.WaitGroup
	for w := 0; w < 10; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				rb.Add(w*100 + i)
			}
		}(w)
	}
	wg.Wait()

	assert.Equal(t, 1000, rb.Len())
	assert.Zero(t, rb.Dropped())
	assert.Len(t, rb.Drain(), 1000)
}
