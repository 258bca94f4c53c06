package recycle

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPoolGetReturnsRequestedLength(t *testing.T) {
	p := NewPoolSize(4096)
	buf := p.Get(100)
	require.Len(t, buf, 100)
}

func TestPoolGetAboveMaxAllocatesDirectly(t *testing.T) {
	p := NewPoolSize(1024)
	buf := p.Get(2048)
	require.Len(t, buf, 2048)
}

func TestPoolPutGetReusesBuffer(t *testing.T) {
	p := NewPoolSize(4096)
	buf := p.Get(64)
	full := buf[:cap(buf)]
	addr := &full[0]
	p.Put(buf)

	reused := p.Get(64)
	reusedFull := reused[:cap(reused)]
	require.Equal(t, addr, &reusedFull[0], "expected the freed buffer to be handed back out")
}

func TestPoolPutIgnoresOversizedBuffer(t *testing.T) {
	p := NewPoolSize(1024)
	oversized := make([]byte, 2048)
	p.Put(oversized) // must not panic or corrupt class bookkeeping
	buf := p.Get(1024)
	require.Len(t, buf, 1024)
}

func TestPoolMaxChunkSize(t *testing.T) {
	p := NewPoolSize(8192)
	require.Equal(t, 8192, p.MaxChunkSize())
}
