package net

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBufferAppendConsume(t *testing.T) {
	b := NewBuffer(4, 0)
	b.Append([]byte{1, 2, 3})
	b.Append([]byte{4, 5})
	assert.Equal(t, 5, b.Available())
	assert.Equal(t, []byte{1, 2}, b.Peek(2))

	assert.Equal(t, 2, b.Consume(2))
	assert.Equal(t, []byte{3, 4, 5}, b.Peek(10))
	assert.Equal(t, 3, b.Consume(10))
	assert.Equal(t, 0, b.Consume(1))
	assert.Equal(t, 0, b.Available())
}

func TestBufferTakeAndReset(t *testing.T) {
	b := NewBuffer(0, 0)
	assert.Nil(t, b.Take())
	b.Append([]byte("abc"))
	assert.Equal(t, []byte("abc"), b.Take())
	assert.Equal(t, 0, b.Available())

	b.Append([]byte("xyz"))
	b.Reset()
	assert.Equal(t, 0, b.Available())
}

func TestBufferFull(t *testing.T) {
	b := NewBuffer(0, 4)
	b.Append([]byte{1, 2, 3, 4})
	assert.False(t, b.Full())
	b.Append([]byte{5})
	assert.True(t, b.Full())

	unlimited := NewBuffer(0, 0)
	unlimited.Append(make([]byte, 1<<16))
	assert.False(t, unlimited.Full())
}

func TestBufferConcurrentAppend(t *testing.T) {
	b := NewBuffer(0, 0)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				b.Append([]byte{1, 2})
			}
		}()
	}
	consumed := 0
	for consumed < 8*100*2 {
		consumed += b.Consume(3)
	}
	wg.Wait()
	assert.Equal(t, 0, b.Available())
}
