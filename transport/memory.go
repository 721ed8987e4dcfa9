package transport

import (
	"bytes"
	"io"
	"sync"
)

// MemoryPipe creates a pair of connected in-memory transports for testing.
// Data written to one side can be read from the other.
func MemoryPipe() (client Transport, server Transport) {
	c2s := &buffer{}
	s2c := &buffer{}
	return &memoryTransport{r: s2c, w: c2s}, &memoryTransport{r: c2s, w: s2c}
}

type memoryTransport struct {
	r *buffer
	w *buffer
}

func (m *memoryTransport) Read(p []byte) (int, error)  { return m.r.Read(p) }
func (m *memoryTransport) Write(p []byte) (int, error) { return m.w.Write(p) }
func (m *memoryTransport) Close() error {
	m.r.Close()
	m.w.Close()
	return nil
}

// buffer is a thread-safe, blocking in-memory byte pipe.
type buffer struct {
	mu     sync.Mutex
	buf    bytes.Buffer
	closed bool
	cond   *sync.Cond
}

func (b *buffer) init() {
	if b.cond == nil {
		b.cond = sync.NewCond(&b.mu)
	}
}

func (b *buffer) Write(data []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.init()
	if b.closed {
		return 0, io.ErrClosedPipe
	}
	n, err := b.buf.Write(data)
	b.cond.Signal()
	return n, err
}

func (b *buffer) Read(data []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.init()
	for b.buf.Len() == 0 {
		if b.closed {
			return 0, io.EOF
		}
		b.cond.Wait()
	}
	return b.buf.Read(data)
}

func (b *buffer) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.init()
	b.closed = true
	b.cond.Broadcast()
}
