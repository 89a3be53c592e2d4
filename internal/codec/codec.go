/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package codec frames commands for the audio decoder chip and parses its
// acknowledgements.
//
// On the wire a packet is
//
//	[START][LEN][CMD][PAYLOAD...][CHECKSUM][END]
//
// where CHECKSUM is the 8-bit truncated sum of LEN, CMD and every payload
// byte. Decoder variants disagree on whether LEN counts the command byte, so
// the convention is part of the Codec value.
package codec

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"
)

const (
	// StartMarker opens every frame.
	StartMarker byte = 0x7E
	// EndMarker closes every frame.
	EndMarker byte = 0xEF

	// MaxPayload is the largest payload a single frame can carry.
	MaxPayload = 40
	// MaxFrame is the largest encoded frame.
	MaxFrame = MaxPayload + 5

	// MaxNoise bounds how many bytes Decode discards while hunting for a
	// start marker before giving up on the attempt.
	MaxNoise = 64
)

// Command is the decoder opcode carried in the CMD byte.
type Command byte

const (
	CmdPlay        Command = 0x03
	CmdSetVolume   Command = 0x06
	CmdPlayLoop    Command = 0x08
	CmdResume      Command = 0x0D
	CmdPause       Command = 0x0E
	CmdStop        Command = 0x16
	CmdQueryStatus Command = 0x42
)

// String returns a short name for logs and metric labels.
func (c Command) String() string {
	switch c {
	case CmdPlay:
		return "play"
	case CmdSetVolume:
		return "set_volume"
	case CmdPlayLoop:
		return "play_loop"
	case CmdResume:
		return "resume"
	case CmdPause:
		return "pause"
	case CmdStop:
		return "stop"
	case CmdQueryStatus:
		return "query_status"
	default:
		return fmt.Sprintf("cmd_0x%02x", byte(c))
	}
}

// Status bytes reported in the first payload byte of a CmdQueryStatus ack.
const (
	StatusStopped byte = 0x00
	StatusPlaying byte = 0x01
	StatusPaused  byte = 0x02
)

// StatusOK is the ack status for an accepted command. For play commands any
// other value means the requested file does not exist.
const StatusOK byte = 0x00

var (
	// ErrTimeout indicates no complete frame arrived within the read deadline.
	ErrTimeout = errors.New("codec: read timeout")
	// ErrChecksumMismatch indicates the trailing checksum did not match.
	ErrChecksumMismatch = errors.New("codec: checksum mismatch")
	// ErrBadFrame indicates a length field or end marker that cannot be valid.
	ErrBadFrame = errors.New("codec: malformed frame")
	// ErrPayloadTooLarge indicates a payload above MaxPayload.
	ErrPayloadTooLarge = errors.New("codec: payload too large")
)

// LengthConvention selects how the LEN byte is computed.
type LengthConvention int

const (
	// LengthWithCommand counts CMD, payload, checksum and end marker.
	LengthWithCommand LengthConvention = iota
	// LengthWithoutCommand counts payload, checksum and end marker only.
	LengthWithoutCommand
)

// ParseLengthConvention maps a profile string to a convention.
func ParseLengthConvention(s string) (LengthConvention, error) {
	switch s {
	case "", "full", "with_command":
		return LengthWithCommand, nil
	case "compact", "without_command":
		return LengthWithoutCommand, nil
	default:
		return 0, fmt.Errorf("unknown length convention %q", s)
	}
}

func (lc LengthConvention) String() string {
	if lc == LengthWithoutCommand {
		return "compact"
	}
	return "full"
}

// overhead is the number of bytes LEN counts besides the payload.
func (lc LengthConvention) overhead() int {
	if lc == LengthWithoutCommand {
		return 2
	}
	return 3
}

// Packet is a decoded frame.
type Packet struct {
	Command Command
	Payload []byte
}

// Status returns the first payload byte, or 0xFF when the ack carried none.
func (p Packet) Status() byte {
	if len(p.Payload) == 0 {
		return 0xFF
	}
	return p.Payload[0]
}

// Matches reports whether p acknowledges cmd.
func (p Packet) Matches(cmd Command) bool {
	return p.Command == cmd
}

// Link is the byte transport to the decoder. SetReadTimeout bounds every
// subsequent Read; a Read that times out returns (0, nil) or an error whose
// Timeout method reports true.
type Link interface {
	io.Writer
	io.Reader
	SetReadTimeout(d time.Duration) error
}

// Codec encodes and decodes frames for one decoder variant.
type Codec struct {
	Convention  LengthConvention
	ReadTimeout time.Duration
}

// New returns a codec for the given convention and per-attempt read deadline.
func New(convention LengthConvention, readTimeout time.Duration) *Codec {
	if readTimeout <= 0 {
		readTimeout = 50 * time.Millisecond
	}
	return &Codec{Convention: convention, ReadTimeout: readTimeout}
}

// Checksum computes the truncated additive sum over LEN, CMD and payload.
func Checksum(length byte, cmd Command, payload []byte) byte {
	sum := length + byte(cmd)
	for _, b := range payload {
		sum += b
	}
	return sum
}

// AppendFrame appends the framed packet to dst and returns the extended slice.
func (c *Codec) AppendFrame(dst []byte, cmd Command, payload []byte) ([]byte, error) {
	if len(payload) > MaxPayload {
		return dst, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(payload))
	}
	length := byte(len(payload) + c.Convention.overhead())
	dst = append(dst, StartMarker, length, byte(cmd))
	dst = append(dst, payload...)
	dst = append(dst, Checksum(length, cmd, payload), EndMarker)
	return dst, nil
}

// Encode frames cmd and payload into a new buffer and returns it with its length.
func (c *Codec) Encode(cmd Command, payload []byte) ([]byte, int, error) {
	out, err := c.AppendFrame(make([]byte, 0, len(payload)+5), cmd, payload)
	if err != nil {
		return nil, 0, err
	}
	return out, len(out), nil
}

// Decode reads one frame from the link. Bytes before the start marker are
// discarded; the chip emits zero bytes while it powers up.
func (c *Codec) Decode(link Link) (Packet, error) {
	if err := link.SetReadTimeout(c.ReadTimeout); err != nil {
		return Packet{}, fmt.Errorf("set read timeout: %w", err)
	}

	var one [1]byte
	for skipped := 0; ; skipped++ {
		if skipped > MaxNoise {
			return Packet{}, ErrTimeout
		}
		if err := readFull(link, one[:]); err != nil {
			return Packet{}, err
		}
		if one[0] == StartMarker {
			break
		}
	}

	if err := readFull(link, one[:]); err != nil {
		return Packet{}, err
	}
	length := one[0]
	n := int(length) - c.Convention.overhead()
	if n < 0 || n > MaxPayload {
		return Packet{}, fmt.Errorf("%w: length %d", ErrBadFrame, length)
	}

	// CMD + payload + checksum + end
	var buf [MaxPayload + 3]byte
	body := buf[:n+3]
	if err := readFull(link, body); err != nil {
		return Packet{}, err
	}

	cmd := Command(body[0])
	payload := body[1 : 1+n]
	if body[n+2] != EndMarker {
		return Packet{}, fmt.Errorf("%w: end marker 0x%02x", ErrBadFrame, body[n+2])
	}
	if got, want := body[n+1], Checksum(length, cmd, payload); got != want {
		return Packet{}, fmt.Errorf("%w: got 0x%02x want 0x%02x", ErrChecksumMismatch, got, want)
	}

	out := make([]byte, n)
	copy(out, payload)
	return Packet{Command: cmd, Payload: out}, nil
}

// readFull fills p, mapping link timeouts to ErrTimeout.
func readFull(r io.Reader, p []byte) error {
	for read := 0; read < len(p); {
		n, err := r.Read(p[read:])
		read += n
		if err != nil {
			if isTimeout(err) {
				return ErrTimeout
			}
			return err
		}
		if n == 0 {
			return ErrTimeout
		}
	}
	return nil
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) || errors.Is(err, ErrTimeout) {
		return true
	}
	var te interface{ Timeout() bool }
	return errors.As(err, &te) && te.Timeout()
}

// Retryable reports whether a Decode error is worth another attempt inside
// the ack window: timeouts, corrupt and partial frames.
func Retryable(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrChecksumMismatch) || errors.Is(err, ErrBadFrame)
}
