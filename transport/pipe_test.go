package transport

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestPipeHandshake(t *testing.T) {
	name := filepath.Join(t.TempDir(), "parley-test.sock")

	ln, err := Listen(name)
	if err != nil {
		t.Fatal(err)
	}

	// The announcement carries the pipe path as one JSON line.
	var side bytes.Buffer
	if err := ln.Announce(&side); err != nil {
		t.Fatal(err)
	}
	line, err := bufio.NewReader(&side).ReadString('\n')
	if err != nil {
		t.Fatal(err)
	}
	var ann Announcement
	if err := json.Unmarshal([]byte(line), &ann); err != nil {
		t.Fatalf("announcement %q is not valid JSON: %v", line, err)
	}
	if ann.PipeName != name {
		t.Fatalf("announced %q, want %q", ann.PipeName, name)
	}

	// A client that connects right after reading the announcement must
	// succeed: the listener existed before the announcement was written.
	type dialResult struct {
		tr  Transport
		err error
	}
	dialed := make(chan dialResult, 1)
	go func() {
		tr, err := Dial(ann.PipeName)
		dialed <- dialResult{tr, err}
	}()

	server, err := ln.Accept()
	if err != nil {
		t.Fatal(err)
	}
	defer server.Close()

	res := <-dialed
	if res.err != nil {
		t.Fatal(res.err)
	}
	client := res.tr
	defer client.Close()

	// Bytes flow both ways.
	if _, err := client.Write([]byte("ping")); err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, 4)
	if _, err := io.ReadFull(server, buf); err != nil {
		t.Fatal(err)
	}
	if string(buf) != "ping" {
		t.Errorf("server read %q, want ping", buf)
	}

	if _, err := server.Write([]byte("pong")); err != nil {
		t.Fatal(err)
	}
	if _, err := io.ReadFull(client, buf); err != nil {
		t.Fatal(err)
	}
	if string(buf) != "pong" {
		t.Errorf("client read %q, want pong", buf)
	}
}

func TestPipeDelayedAnnounce(t *testing.T) {
	name := filepath.Join(t.TempDir(), "parley-delayed.sock")

	ln, err := Listen(name)
	if err != nil {
		t.Fatal(err)
	}

	// The client dials the instant the announcement arrives. Because the
	// listener was bound long before the delayed announcement, the dial
	// must succeed no matter how eagerly the client reacts.
	announced := make(chan string)
	type dialResult struct {
		tr  Transport
		err error
	}
	dialed := make(chan dialResult, 1)
	go func() {
		tr, err := Dial(<-announced)
		dialed <- dialResult{tr, err}
	}()

	time.Sleep(100 * time.Millisecond)

	var side bytes.Buffer
	if err := ln.Announce(&side); err != nil {
		t.Fatal(err)
	}
	line, err := bufio.NewReader(&side).ReadString('\n')
	if err != nil {
		t.Fatal(err)
	}
	var ann Announcement
	if err := json.Unmarshal([]byte(line), &ann); err != nil {
		t.Fatal(err)
	}
	announced <- ann.PipeName

	server, err := ln.Accept()
	if err != nil {
		t.Fatal(err)
	}
	defer server.Close()

	res := <-dialed
	if res.err != nil {
		t.Fatalf("dial on announcement failed: %v", res.err)
	}
	defer res.tr.Close()

	if _, err := res.tr.Write([]byte{1}); err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, 1)
	if _, err := io.ReadFull(server, buf); err != nil {
		t.Fatal(err)
	}
}

func TestPipeRandomName(t *testing.T) {
	ln, err := Listen("")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	if ln.Name() == "" {
		t.Fatal("empty generated pipe name")
	}
	if _, err := os.Stat(ln.Name()); err != nil {
		t.Errorf("generated pipe %s does not exist: %v", ln.Name(), err)
	}

	ln2, err := Listen("")
	if err != nil {
		t.Fatal(err)
	}
	defer ln2.Close()
	if ln.Name() == ln2.Name() {
		t.Error("two generated pipe names collide")
	}
}

func TestPipeCloseRemovesSocketFile(t *testing.T) {
	name := filepath.Join(t.TempDir(), "parley-close.sock")
	ln, err := Listen(name)
	if err != nil {
		t.Fatal(err)
	}
	if err := ln.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(name); !os.IsNotExist(err) {
		t.Errorf("socket file still present after Close: %v", err)
	}
}

func TestMemoryPipe(t *testing.T) {
	client, server := MemoryPipe()

	if _, err := client.Write([]byte("hello")); err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, 5)
	if _, err := io.ReadFull(server, buf); err != nil {
		t.Fatal(err)
	}
	if string(buf) != "hello" {
		t.Errorf("server read %q", buf)
	}

	if _, err := server.Write([]byte("world")); err != nil {
		t.Fatal(err)
	}
	if _, err := io.ReadFull(client, buf); err != nil {
		t.Fatal(err)
	}
	if string(buf) != "world" {
		t.Errorf("client read %q", buf)
	}
}

func TestMemoryPipeBlockingRead(t *testing.T) {
	client, server := MemoryPipe()

	got := make(chan []byte, 1)
	go func() {
		buf := make([]byte, 4)
		if _, err := io.ReadFull(server, buf); err == nil {
			got <- buf
		}
	}()

	// Reader is already waiting when the write lands.
	time.Sleep(20 * time.Millisecond)
	if _, err := client.Write([]byte("late")); err != nil {
		t.Fatal(err)
	}

	select {
	case buf := <-got:
		if string(buf) != "late" {
			t.Errorf("read %q, want late", buf)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("blocked read never completed")
	}
}

func TestMemoryPipeEOFAfterClose(t *testing.T) {
	client, server := MemoryPipe()
	client.Close()

	buf := make([]byte, 1)
	if _, err := server.Read(buf); err != io.EOF {
		t.Errorf("read after peer close = %v, want io.EOF", err)
	}
}
