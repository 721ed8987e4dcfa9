package jsonrpc

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
)

func TestCodecRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	c := NewCodec(&buf, &buf)

	msg := []byte(`{"jsonrpc":"2.0","method":"ping"}`)
	if err := c.Write(msg); err != nil {
		t.Fatal(err)
	}

	got, err := c.Read()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, msg) {
		t.Errorf("read %q, want %q", got, msg)
	}
}

func TestCodecMultipleFrames(t *testing.T) {
	var buf bytes.Buffer
	c := NewCodec(&buf, &buf)

	for i := 0; i < 3; i++ {
		if err := c.Write([]byte(fmt.Sprintf(`{"seq":%d}`, i))); err != nil {
			t.Fatal(err)
		}
	}
	for i := 0; i < 3; i++ {
		got, err := c.Read()
		if err != nil {
			t.Fatal(err)
		}
		want := fmt.Sprintf(`{"seq":%d}`, i)
		if string(got) != want {
			t.Errorf("frame %d = %q, want %q", i, got, want)
		}
	}
	if _, err := c.Read(); err != io.EOF {
		t.Errorf("after last frame got %v, want io.EOF", err)
	}
}

func TestCodecIgnoresUnknownHeaders(t *testing.T) {
	raw := "Content-Type: application/vscode-jsonrpc; charset=utf-8\r\nContent-Length: 2\r\n\r\n{}"
	c := NewCodec(strings.NewReader(raw), io.Discard)
	got, err := c.Read()
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "{}" {
		t.Errorf("read %q, want {}", got)
	}
}

func TestCodecCleanEOF(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"empty stream", ""},
		{"mid header", "Content-Le"},
		{"after header line", "Content-Length: 10\r\n"},
		{"mid body", "Content-Length: 10\r\n\r\n{\"a\""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewCodec(strings.NewReader(tt.input), io.Discard)
			_, err := c.Read()
			if err != io.EOF {
				t.Errorf("got %v, want io.EOF", err)
			}
		})
	}
}

func TestCodecFramingErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"missing content-length", "Content-Type: application/json\r\n\r\n{}"},
		{"non-numeric content-length", "Content-Length: banana\r\n\r\n{}"},
		{"negative content-length", "Content-Length: -5\r\n\r\n{}"},
		{"oversized header block", "X-Padding: " + strings.Repeat("a", maxHeaderBytes) + "\r\n\r\n{}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewCodec(strings.NewReader(tt.input), io.Discard)
			_, err := c.Read()
			if !IsFramingError(err) {
				t.Errorf("got %v, want a framing error", err)
			}
		})
	}
}

func TestIsFramingErrorWrapped(t *testing.T) {
	err := fmt.Errorf("session: %w", &FramingError{Reason: "x"})
	if !IsFramingError(err) {
		t.Error("wrapped framing error not detected")
	}
	if IsFramingError(errors.New("plain")) {
		t.Error("plain error reported as framing error")
	}
	if IsFramingError(nil) {
		t.Error("nil reported as framing error")
	}
}
