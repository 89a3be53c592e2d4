package decodersim

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"github.com/friendsincode/talkclock/internal/codec"
)

func newTestDevice(t *testing.T, clk clock.Clock) (*Device, *codec.Codec) {
	t.Helper()
	dev := New(Config{
		Files: map[string]time.Duration{
			"/voice/hello.mp3": 2 * time.Second,
			"/ring/loop.mp3":   0,
		},
	}, clk, zerolog.Nop())
	dev.SetPowered(true)
	return dev, codec.New(codec.LengthWithCommand, 20*time.Millisecond)
}

func send(t *testing.T, dev *Device, c *codec.Codec, cmd codec.Command, payload []byte) (codec.Packet, error) {
	t.Helper()
	frame, _, err := c.Encode(cmd, payload)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, err := dev.Write(frame); err != nil {
		t.Fatalf("write: %v", err)
	}
	return c.Decode(dev)
}

func TestPlayAcknowledgesKnownAndUnknownFiles(t *testing.T) {
	dev, c := newTestDevice(t, nil)

	tests := []struct {
		path   string
		status byte
	}{
		{"/voice/hello.mp3", codec.StatusOK},
		{"/voice/missing.mp3", statusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			pkt, err := send(t, dev, c, codec.CmdPlay, []byte(tt.path))
			if err != nil {
				t.Fatalf("decode ack: %v", err)
			}
			if !pkt.Matches(codec.CmdPlay) {
				t.Fatalf("ack for %v, want play", pkt.Command)
			}
			if pkt.Status() != tt.status {
				t.Fatalf("status = %d, want %d", pkt.Status(), tt.status)
			}
		})
	}
}

func TestTrackPlaysOutOnSimulatedTime(t *testing.T) {
	mock := clock.NewMock()
	dev, c := newTestDevice(t, mock)

	if _, err := send(t, dev, c, codec.CmdPlay, []byte("/voice/hello.mp3")); err != nil {
		t.Fatalf("play: %v", err)
	}

	pkt, err := send(t, dev, c, codec.CmdQueryStatus, nil)
	if err != nil || pkt.Status() != codec.StatusPlaying {
		t.Fatalf("query while playing = %v, %v", pkt.Status(), err)
	}

	// Pausing freezes the elapsed time.
	if _, err := send(t, dev, c, codec.CmdPause, nil); err != nil {
		t.Fatalf("pause: %v", err)
	}
	mock.Add(5 * time.Second)
	if _, status := dev.Track(); status != codec.StatusPaused {
		t.Fatalf("status after pause = %d", status)
	}

	if _, err := send(t, dev, c, codec.CmdResume, nil); err != nil {
		t.Fatalf("resume: %v", err)
	}
	mock.Add(2 * time.Second)
	pkt, err = send(t, dev, c, codec.CmdQueryStatus, nil)
	if err != nil || pkt.Status() != codec.StatusStopped {
		t.Fatalf("query after play-out = %v, %v", pkt.Status(), err)
	}
}

func TestLoopingTrackNeverEnds(t *testing.T) {
	mock := clock.NewMock()
	dev, c := newTestDevice(t, mock)

	if _, err := send(t, dev, c, codec.CmdPlayLoop, []byte("/ring/loop.mp3")); err != nil {
		t.Fatalf("play loop: %v", err)
	}
	mock.Add(time.Hour)
	dev.FinishTrack()
	if _, status := dev.Track(); status != codec.StatusPlaying {
		t.Fatalf("looping track stopped: status %d", status)
	}
}

func TestUnpoweredDeviceStaysSilent(t *testing.T) {
	dev, c := newTestDevice(t, nil)
	dev.SetPowered(false)

	_, err := send(t, dev, c, codec.CmdStop, nil)
	if !errors.Is(err, codec.ErrTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}
	if len(dev.Received()) != 0 {
		t.Fatal("unpowered chip must not accept commands")
	}
	if dev.Writes() != 1 {
		t.Fatalf("writes = %d, want 1", dev.Writes())
	}
}

func TestFaultInjection(t *testing.T) {
	tests := []struct {
		name   string
		inject func(*Device)
		want   error
	}{
		{"hung", func(d *Device) { d.SetHung(true) }, codec.ErrTimeout},
		{"dropped", func(d *Device) { d.DropAcks(1) }, codec.ErrTimeout},
		{"corrupt", func(d *Device) { d.CorruptAcks(1) }, codec.ErrChecksumMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev, c := newTestDevice(t, nil)
			tt.inject(dev)
			if _, err := send(t, dev, c, codec.CmdSetVolume, []byte{10}); !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestPowerUpNoiseIsSkipped(t *testing.T) {
	dev := New(Config{PowerUpNoise: 6}, nil, zerolog.Nop())
	dev.SetPowered(true)
	c := codec.New(codec.LengthWithCommand, 20*time.Millisecond)

	pkt, err := send(t, dev, c, codec.CmdSetVolume, []byte{21})
	if err != nil {
		t.Fatalf("decode after noise: %v", err)
	}
	if !pkt.Matches(codec.CmdSetVolume) || dev.Volume() != 21 {
		t.Fatalf("ack %v, volume %d", pkt.Command, dev.Volume())
	}
}

type connLink struct{ net.Conn }

func (l connLink) SetReadTimeout(d time.Duration) error {
	return l.SetReadDeadline(time.Now().Add(d))
}

func TestServeOverTCP(t *testing.T) {
	dev := New(Config{Files: map[string]time.Duration{"/a.mp3": 0}}, nil, zerolog.Nop())
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = dev.Serve(ctx, ln) }()

	conn, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	c := codec.New(codec.LengthWithCommand, time.Second)
	frame, _, _ := c.Encode(codec.CmdPlay, []byte("/a.mp3"))
	if _, err := conn.Write(frame); err != nil {
		t.Fatalf("write: %v", err)
	}
	pkt, err := c.Decode(connLink{conn})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !pkt.Matches(codec.CmdPlay) || pkt.Status() != codec.StatusOK {
		t.Fatalf("ack %v status %d", pkt.Command, pkt.Status())
	}
}
