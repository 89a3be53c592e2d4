/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package decodersim emulates the audio decoder chip on the far side of the
// link. It answers every command the way the hardware does, which lets the
// controller run end to end without a board attached.
package decodersim

import (
	"bytes"
	"errors"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"github.com/friendsincode/talkclock/internal/codec"
)

// Status bytes the chip returns for a play command naming a missing file.
const statusNotFound byte = 0x01

type timeoutError struct{}

func (timeoutError) Error() string   { return "decodersim: read timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

// ErrPoweredOff is returned by Read while the simulated chip has no power
// and the caller set no read timeout.
var ErrPoweredOff = errors.New("decodersim: device powered off")

// Config describes the simulated chip.
type Config struct {
	Convention codec.LengthConvention
	// Files maps media paths to their play length. Zero plays forever.
	Files map[string]time.Duration
	// PowerUpNoise zero bytes are emitted each time the chip powers up.
	PowerUpNoise int
	// AckDelay holds each ack back before it becomes readable.
	AckDelay time.Duration
}

// Device is an in-memory decoder implementing codec.Link.
type Device struct {
	cfg    Config
	codec  *codec.Codec
	clock  clock.Clock
	logger zerolog.Logger

	mu          sync.Mutex
	out         bytes.Buffer
	readable    chan struct{}
	readTimeout time.Duration

	powered  bool
	hung     bool
	dropAcks int
	corrupt  int

	track     string
	loop      bool
	status    byte
	startedAt time.Time
	elapsed   time.Duration
	length    time.Duration
	volume    byte

	received []codec.Packet
	writes   int
}

// New creates a simulated decoder. It starts powered off.
func New(cfg Config, clk clock.Clock, logger zerolog.Logger) *Device {
	if clk == nil {
		clk = clock.New()
	}
	if cfg.Files == nil {
		cfg.Files = map[string]time.Duration{}
	}
	return &Device{
		cfg:      cfg,
		codec:    codec.New(cfg.Convention, time.Millisecond),
		clock:    clk,
		logger:   logger.With().Str("component", "decodersim").Logger(),
		readable: make(chan struct{}, 1),
	}
}

// SetPowered switches the simulated supply. Powering up resets playback and
// emits the configured noise bytes.
func (d *Device) SetPowered(on bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.powered == on {
		return
	}
	d.powered = on
	d.resetLocked()
	if on && d.cfg.PowerUpNoise > 0 {
		d.out.Write(make([]byte, d.cfg.PowerUpNoise))
		d.signal()
	}
	d.logger.Debug().Bool("powered", on).Msg("simulated supply changed")
}

// Reset returns the chip to its power-up state without toggling power.
func (d *Device) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.resetLocked()
	d.hung = false
}

func (d *Device) resetLocked() {
	d.out.Reset()
	d.track = ""
	d.loop = false
	d.status = codec.StatusStopped
	d.elapsed = 0
	d.volume = 0
}

// Powered reports the simulated supply state.
func (d *Device) Powered() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.powered
}

// SetHung makes the chip swallow commands without acknowledging.
func (d *Device) SetHung(hung bool) {
	d.mu.Lock()
	d.hung = hung
	d.mu.Unlock()
}

// DropAcks discards the next n acknowledgements.
func (d *Device) DropAcks(n int) {
	d.mu.Lock()
	d.dropAcks = n
	d.mu.Unlock()
}

// CorruptAcks flips a payload bit in the next n acknowledgements.
func (d *Device) CorruptAcks(n int) {
	d.mu.Lock()
	d.corrupt = n
	d.mu.Unlock()
}

// AddFile makes path playable for length.
func (d *Device) AddFile(path string, length time.Duration) {
	d.mu.Lock()
	d.cfg.Files[path] = length
	d.mu.Unlock()
}

// FinishTrack ends the current track as if it played out.
func (d *Device) FinishTrack() {
	d.mu.Lock()
	if !d.loop {
		d.status = codec.StatusStopped
	}
	d.mu.Unlock()
}

// Received returns every command the chip accepted, in order.
func (d *Device) Received() []codec.Packet {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]codec.Packet(nil), d.received...)
}

// Commands returns the command codes of Received.
func (d *Device) Commands() []codec.Command {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]codec.Command, len(d.received))
	for i, p := range d.received {
		out[i] = p.Command
	}
	return out
}

// Writes returns how many Write calls reached the chip, powered or not.
func (d *Device) Writes() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.writes
}

// Track returns the current track and playback status byte.
func (d *Device) Track() (string, byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.advanceLocked()
	return d.track, d.status
}

// Volume returns the last volume level set.
func (d *Device) Volume() byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.volume
}

// Write accepts framed commands from the controller.
func (d *Device) Write(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.writes++
	if !d.powered {
		return len(p), nil
	}

	in := &frameReader{r: bytes.NewReader(p)}
	for in.r.Len() > 0 {
		pkt, err := d.codec.Decode(in)
		if err != nil {
			d.logger.Debug().Err(err).Msg("discarding unparseable input")
			break
		}
		d.received = append(d.received, pkt)
		status, ok := d.handleLocked(pkt)
		if !ok {
			continue
		}
		d.ackLocked(pkt.Command, status)
	}
	return len(p), nil
}

// handleLocked applies a command and returns the ack status.
func (d *Device) handleLocked(pkt codec.Packet) (byte, bool) {
	if d.hung {
		return 0, false
	}
	d.advanceLocked()

	switch pkt.Command {
	case codec.CmdPlay, codec.CmdPlayLoop:
		path := string(pkt.Payload)
		length, ok := d.cfg.Files[path]
		if !ok {
			return statusNotFound, true
		}
		d.track = path
		d.loop = pkt.Command == codec.CmdPlayLoop
		d.length = length
		d.elapsed = 0
		d.startedAt = d.clock.Now()
		d.status = codec.StatusPlaying
		return codec.StatusOK, true

	case codec.CmdPause:
		if d.status == codec.StatusPlaying {
			d.elapsed += d.clock.Since(d.startedAt)
			d.status = codec.StatusPaused
		}
		return codec.StatusOK, true

	case codec.CmdResume:
		if d.status == codec.StatusPaused {
			d.startedAt = d.clock.Now()
			d.status = codec.StatusPlaying
		}
		return codec.StatusOK, true

	case codec.CmdStop:
		d.status = codec.StatusStopped
		d.track = ""
		return codec.StatusOK, true

	case codec.CmdSetVolume:
		if len(pkt.Payload) > 0 {
			d.volume = pkt.Payload[0]
		}
		return codec.StatusOK, true

	case codec.CmdQueryStatus:
		return d.status, true
	}
	return 0xFF, true
}

// advanceLocked ends a finite track once it has played out.
func (d *Device) advanceLocked() {
	if d.status != codec.StatusPlaying || d.loop || d.length <= 0 {
		return
	}
	if d.elapsed+d.clock.Since(d.startedAt) >= d.length {
		d.status = codec.StatusStopped
	}
}

func (d *Device) ackLocked(cmd codec.Command, status byte) {
	if d.dropAcks > 0 {
		d.dropAcks--
		return
	}
	frame, _, err := d.codec.Encode(cmd, []byte{status})
	if err != nil {
		return
	}
	if d.corrupt > 0 {
		d.corrupt--
		frame[3] ^= 0x01
	}

	if d.cfg.AckDelay > 0 {
		d.clock.AfterFunc(d.cfg.AckDelay, func() {
			d.mu.Lock()
			if d.powered {
				d.out.Write(frame)
				d.signal()
			}
			d.mu.Unlock()
		})
		return
	}
	d.out.Write(frame)
	d.signal()
}

func (d *Device) signal() {
	select {
	case d.readable <- struct{}{}:
	default:
	}
}

// SetReadTimeout bounds subsequent reads.
func (d *Device) SetReadTimeout(timeout time.Duration) error {
	d.mu.Lock()
	d.readTimeout = timeout
	d.mu.Unlock()
	return nil
}

// Read returns pending ack bytes, waiting up to the read timeout for some
// to arrive.
func (d *Device) Read(p []byte) (int, error) {
	d.mu.Lock()
	timeout := d.readTimeout
	d.mu.Unlock()

	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	for {
		d.mu.Lock()
		if d.out.Len() > 0 {
			n, _ := d.out.Read(p)
			d.mu.Unlock()
			return n, nil
		}
		powered := d.powered
		d.mu.Unlock()

		if deadline == nil && !powered {
			return 0, ErrPoweredOff
		}
		select {
		case <-d.readable:
		case <-deadline:
			return 0, timeoutError{}
		}
	}
}

// frameReader feeds one Write's bytes through codec.Decode.
type frameReader struct {
	r *bytes.Reader
}

func (f *frameReader) Read(p []byte) (int, error) {
	if f.r.Len() == 0 {
		return 0, timeoutError{}
	}
	return f.r.Read(p)
}

func (f *frameReader) Write(p []byte) (int, error)       { return len(p), nil }
func (f *frameReader) SetReadTimeout(time.Duration) error { return nil }
