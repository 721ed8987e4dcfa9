package transport

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
)

// Announcement is the JSON object emitted on the side channel to tell the
// client where to connect. It is written as a single line and is the only
// thing the server ever writes to the side channel.
type Announcement struct {
	PipeName string `json:"pipeName"`
}

// PipeListener is a named pipe (unix domain socket) created fresh for one
// session. The handshake is three sequenced steps: Listen creates the pipe
// and starts accepting, Announce publishes the address on a side channel,
// and Accept waits for the single peer. Listen must complete before
// Announce so a fast-connecting client cannot race the listener.
type PipeListener struct {
	name string
	ln   net.Listener
}

// Listen creates a pipe with the given name and starts listening. An empty
// name generates a random one under the system temp directory.
func Listen(name string) (*PipeListener, error) {
	if name == "" {
		var err error
		name, err = randomPipeName()
		if err != nil {
			return nil, err
		}
	}
	os.Remove(name)
	ln, err := net.Listen("unix", name)
	if err != nil {
		return nil, fmt.Errorf("listening on pipe %s: %w", name, err)
	}
	return &PipeListener{name: name, ln: ln}, nil
}

// Name returns the pipe's address.
func (l *PipeListener) Name() string { return l.name }

// Announce writes the pipe's address as a one-line JSON object to the side
// channel (typically the process's stdout, which carries no frames when the
// pipe transport is in use).
func (l *PipeListener) Announce(w io.Writer) error {
	data, err := json.Marshal(Announcement{PipeName: l.name})
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "%s\n", data); err != nil {
		return fmt.Errorf("announcing pipe: %w", err)
	}
	return nil
}

// Accept waits for the single peer connection and returns it as a
// Transport. The listener is closed afterwards; one session, one peer.
func (l *PipeListener) Accept() (Transport, error) {
	conn, err := l.ln.Accept()
	l.ln.Close()
	if err != nil {
		os.Remove(l.name)
		return nil, fmt.Errorf("accepting pipe connection: %w", err)
	}
	return &pipeTransport{conn: conn, path: l.name}, nil
}

// Close shuts the listener down without accepting. Safe to call after
// Accept, where it is a no-op.
func (l *PipeListener) Close() error {
	err := l.ln.Close()
	os.Remove(l.name)
	return err
}

// Dial connects to an existing pipe. The client side of the handshake.
func Dial(name string) (Transport, error) {
	conn, err := net.Dial("unix", name)
	if err != nil {
		return nil, fmt.Errorf("dialing pipe %s: %w", name, err)
	}
	return &pipeTransport{conn: conn}, nil
}

type pipeTransport struct {
	conn net.Conn
	path string
}

func (p *pipeTransport) Read(b []byte) (int, error)  { return p.conn.Read(b) }
func (p *pipeTransport) Write(b []byte) (int, error) { return p.conn.Write(b) }
func (p *pipeTransport) Close() error {
	err := p.conn.Close()
	if p.path != "" {
		os.Remove(p.path)
	}
	return err
}

func randomPipeName() (string, error) {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("generating pipe name: %w", err)
	}
	return filepath.Join(os.TempDir(), "parley-"+hex.EncodeToString(b[:])+".sock"), nil
}
