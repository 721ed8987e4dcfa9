package jsonrpc

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
)

// maxHeaderBytes bounds the size of a single message's header block. A peer
// that streams this much without a blank-line terminator is not speaking the
// base protocol, and the session cannot be resynchronized.
const maxHeaderBytes = 8 * 1024

// FramingError reports a violation of the Content-Length base protocol.
// Framing errors are fatal to the session: once the byte stream is out of
// sync there is no reliable way to find the next frame boundary.
type FramingError struct {
	Reason string
}

func (e *FramingError) Error() string { return "framing error: " + e.Reason }

// IsFramingError reports whether err is (or wraps) a FramingError.
func IsFramingError(err error) bool {
	var fe *FramingError
	return errors.As(err, &fe)
}

// Codec reads and writes Content-Length framed JSON-RPC messages as
// specified by the LSP base protocol. Reads must come from a single
// goroutine; writes are serialized internally so concurrent responders
// never interleave partial frames.
type Codec struct {
	reader *bufio.Reader
	writer io.Writer
	wmu    sync.Mutex
}

// NewCodec creates a new Content-Length framed codec over the given streams.
func NewCodec(r io.Reader, w io.Writer) *Codec {
	return &Codec{
		reader: bufio.NewReaderSize(r, 64*1024),
		writer: w,
	}
}

// Read reads a single framed message body. It returns io.EOF when the
// stream ends cleanly (including mid-header or mid-body: a closing peer is
// end-of-stream, not a protocol violation). A *FramingError is returned for
// an oversized header block or a missing/non-numeric Content-Length.
func (c *Codec) Read() ([]byte, error) {
	contentLen := -1
	headerBytes := 0
	for {
		line, err := c.reader.ReadString('\n')
		if err != nil {
			if err == io.EOF || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil, io.EOF
			}
			return nil, fmt.Errorf("reading header: %w", err)
		}
		headerBytes += len(line)
		if headerBytes > maxHeaderBytes {
			return nil, &FramingError{Reason: fmt.Sprintf("header block exceeds %d bytes", maxHeaderBytes)}
		}

		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			break
		}
		colon := strings.IndexByte(line, ':')
		if colon < 0 {
			continue
		}
		key := strings.TrimSpace(line[:colon])
		val := strings.TrimSpace(line[colon+1:])

		if strings.EqualFold(key, "Content-Length") {
			n, err := strconv.Atoi(val)
			if err != nil || n < 0 {
				return nil, &FramingError{Reason: fmt.Sprintf("invalid Content-Length %q", val)}
			}
			contentLen = n
		}
	}

	if contentLen < 0 {
		return nil, &FramingError{Reason: "missing Content-Length header"}
	}

	body := make([]byte, contentLen)
	if _, err := io.ReadFull(c.reader, body); err != nil {
		if err == io.EOF || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("reading body: %w", err)
	}
	return body, nil
}

// Write writes a single framed message. The header and body are emitted as
// one write so concurrent writers cannot interleave.
func (c *Codec) Write(data []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "Content-Length: %d\r\n\r\n", len(data))
	buf.Write(data)

	_, err := c.writer.Write(buf.Bytes())
	return err
}
