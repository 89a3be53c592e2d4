/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package decodersim

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"
)

// Serve exposes the device over TCP so a controller can reach it through a
// network link. One connection is served at a time; the device is powered
// for the lifetime of each connection.
func (d *Device) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	d.logger.Info().Str("addr", ln.Addr().String()).Msg("simulated decoder listening")
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		d.serveConn(ctx, conn)
	}
}

func (d *Device) serveConn(ctx context.Context, conn net.Conn) {
	logger := d.logger.With().Str("remote", conn.RemoteAddr().String()).Logger()
	logger.Info().Msg("controller connected")
	defer logger.Info().Msg("controller disconnected")

	d.SetPowered(true)
	defer d.SetPowered(false)

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer cancel()
		buf := make([]byte, 256)
		for {
			n, err := conn.Read(buf)
			if n > 0 {
				_, _ = d.Write(buf[:n])
			}
			if err != nil {
				return
			}
		}
	}()

	_ = d.SetReadTimeout(100 * time.Millisecond)
	buf := make([]byte, 256)
	for connCtx.Err() == nil {
		n, err := d.Read(buf)
		if n > 0 {
			if _, werr := conn.Write(buf[:n]); werr != nil {
				break
			}
		}
		if err != nil {
			var te interface{ Timeout() bool }
			if errors.As(err, &te) && te.Timeout() {
				continue
			}
			break
		}
	}
	_ = conn.Close()
	wg.Wait()
}
