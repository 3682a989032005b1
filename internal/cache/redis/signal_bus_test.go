package redis

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPayloadBytes(t *testing.T) {
	p, ok := payloadBytes("abc")
	assert.True(t, ok)
	assert.Equal(t, []byte("abc"), p)

	p, ok = payloadBytes([]byte("xyz"))
	assert.True(t, ok)
	assert.Equal(t, []byte("xyz"), p)

	_, ok = payloadBytes(42)
	assert.False(t, ok)
}

func TestStreamKeyIsNamespaced(t *testing.T) {
	assert.Equal(t, "basisbot:stream:positions", streamKey("positions"))
}
