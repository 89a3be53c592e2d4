/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package link opens the byte transport to the decoder chip: a local UART or
// a TCP bridge exposing one (ser2net style).
package link

import (
	"context"
	"fmt"
	"io"
	"net"
	"time"

	"go.bug.st/serial"

	"github.com/friendsincode/talkclock/internal/codec"
)

// Kinds of transport.
const (
	KindSerial = "serial"
	KindTCP    = "tcp"
)

// Link is a codec.Link that can be closed.
type Link interface {
	codec.Link
	io.Closer
}

// Config selects and parameterizes the transport.
type Config struct {
	Kind        string
	Device      string
	BaudRate    int
	Address     string
	DialTimeout time.Duration
}

// Open connects the configured transport.
func Open(ctx context.Context, cfg Config) (Link, error) {
	switch cfg.Kind {
	case KindSerial, "":
		return OpenSerial(cfg.Device, cfg.BaudRate)
	case KindTCP:
		return DialTCP(ctx, cfg.Address, cfg.DialTimeout)
	default:
		return nil, fmt.Errorf("unknown link kind %q", cfg.Kind)
	}
}

// Serial is a UART link.
type Serial struct {
	port serial.Port
	name string
}

// OpenSerial opens a UART at 8N1.
func OpenSerial(name string, baud int) (*Serial, error) {
	if name == "" {
		return nil, fmt.Errorf("serial device not set")
	}
	if baud <= 0 {
		baud = 9600
	}
	port, err := serial.Open(name, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("open serial %s: %w", name, err)
	}
	// Bytes buffered before we opened belong to nobody.
	_ = port.ResetInputBuffer()
	return &Serial{port: port, name: name}, nil
}

func (s *Serial) Read(p []byte) (int, error)  { return s.port.Read(p) }
func (s *Serial) Write(p []byte) (int, error) { return s.port.Write(p) }
func (s *Serial) Close() error                { return s.port.Close() }

// SetReadTimeout bounds each Read. A read that times out returns (0, nil).
func (s *Serial) SetReadTimeout(d time.Duration) error {
	return s.port.SetReadTimeout(d)
}

// String returns the device path.
func (s *Serial) String() string { return s.name }

// ListPorts returns the serial ports present on the host.
func ListPorts() ([]string, error) {
	return serial.GetPortsList()
}

// Conn adapts a network connection to the decoder link.
type Conn struct {
	net.Conn
}

// DialTCP connects to a TCP-exposed UART.
func DialTCP(ctx context.Context, addr string, timeout time.Duration) (*Conn, error) {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	d := net.Dialer{Timeout: timeout}
	c, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return &Conn{Conn: c}, nil
}

// SetReadTimeout sets a read deadline d from now.
func (c *Conn) SetReadTimeout(d time.Duration) error {
	return c.SetReadDeadline(time.Now().Add(d))
}
