package link

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/friendsincode/talkclock/internal/codec"
)

func TestOpenRejectsUnknownKind(t *testing.T) {
	if _, err := Open(context.Background(), Config{Kind: "carrier-pigeon"}); err == nil {
		t.Fatal("expected error for unknown link kind")
	}
}

func TestOpenSerialRequiresDevice(t *testing.T) {
	if _, err := OpenSerial("", 9600); err == nil {
		t.Fatal("expected error for empty device")
	}
}

func TestTCPLinkTimesOutAndDecodes(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	c := codec.New(codec.LengthWithCommand, 30*time.Millisecond)
	frame, _, _ := c.Encode(codec.CmdQueryStatus, []byte{codec.StatusPaused})

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			accepted <- conn
		}
	}()

	l, err := Open(context.Background(), Config{Kind: KindTCP, Address: ln.Addr().String()})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer l.Close()

	server := <-accepted
	defer server.Close()

	if _, err := c.Decode(l); !errors.Is(err, codec.ErrTimeout) {
		t.Fatalf("expected ErrTimeout on a silent link, got %v", err)
	}

	if _, err := server.Write(frame); err != nil {
		t.Fatalf("server write: %v", err)
	}
	pkt, err := c.Decode(l)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if pkt.Status() != codec.StatusPaused {
		t.Fatalf("status = %d", pkt.Status())
	}
}
