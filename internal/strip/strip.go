// Package strip implements the Strip Driver (spec.md §4.3): protocol-exact
// byte encoding of a pixel buffer and a pluggable hardware backend that
// pushes the resulting frame out and enforces the protocol's latch
// interval.
//
// No RP2040 PIO/assembler SDK exists anywhere in the retrieved example
// corpus (see DESIGN.md); the closest real dependency available is
// github.com/warthog618/go-gpiocdev, a Linux GPIO chardev client. The PIO
// state machine + DMA pump spec.md describes is therefore modeled here as
// a pure-Go software bit-framer (this file) driving the Backend
// interface, with one implementation wrapping a gpiocdev.Line (gpio.go)
// and one in-memory fake every test uses (fake.go) — the same shape the
// teacher uses for systemTimer/consoleIO in vm/devices.go: wrap a real OS
// primitive behind the interface a headless test can fake.
package strip

import (
	"context"
	"time"

	"github.com/rpled/firmware/internal/led"
)

// Backend is the hardware-facing side of a Strip Driver: it accepts an
// already-encoded frame and transmits it, blocking until the transfer has
// completed. Driver.Transmit then waits out the protocol's latch/reset gap.
type Backend interface {
	Transmit(ctx context.Context, frame []byte) error
	Close() error
}

// Protocol describes one addressable-LED wire protocol's byte layout and
// timing requirements.
type Protocol struct {
	Name             string
	ChannelsPerPixel int // 3 (GRB on the wire) or 4 (GRBW on the wire)
	LatchInterval    time.Duration
	MinFrameInterval time.Duration
}

// WS2812 is the common 24-bit, GRB-on-the-wire protocol.
var WS2812 = Protocol{
	Name:             "ws2812",
	ChannelsPerPixel: 3,
	LatchInterval:    80 * time.Microsecond,
	MinFrameInterval: 400 * time.Microsecond,
}

// SK6812 is the 32-bit GRBW protocol. The pixel buffer (spec.md §3) only
// ever carries RGB; the white channel is normalized to 0 on every frame —
// gamma/color-space correction (which would be needed to derive a
// meaningful W value from RGB) is an explicit Non-goal (spec.md §1).
var SK6812 = Protocol{
	Name:             "sk6812",
	ChannelsPerPixel: 4,
	LatchInterval:    80 * time.Microsecond,
	MinFrameInterval: 400 * time.Microsecond,
}

// Encode serializes a pixel buffer into wire-order bytes for this
// protocol (spec.md §4.3 "protocol-accurate bit streams").
func (p Protocol) Encode(pixels []led.Pixel) []byte {
	frame := make([]byte, 0, len(pixels)*p.ChannelsPerPixel)
	for _, px := range pixels {
		frame = append(frame, px.G, px.R, px.B)
		if p.ChannelsPerPixel == 4 {
			frame = append(frame, 0)
		}
	}
	return frame
}

// Driver is one strip's hardware pump: a protocol plus the backend that
// actually moves bytes.
type Driver struct {
	Protocol Protocol
	backend  Backend
}

// NewDriver binds a protocol to a backend.
func NewDriver(protocol Protocol, backend Backend) *Driver {
	return &Driver{Protocol: protocol, backend: backend}
}

// Transmit encodes s's current buffer and pushes it to the backend. It is
// idempotent: encoding is a pure function of the pixel buffer, so calling
// Transmit again with an unchanged buffer reproduces the same frame
// (spec.md §4.3 "A driver is idempotent if invoked with an unchanged
// buffer"). Callers (the Frame Scheduler) decide whether to call it at all
// based on s.Dirty and the protocol's MinFrameInterval.
func (d *Driver) Transmit(ctx context.Context, s *led.Strip) error {
	frame := d.Protocol.Encode(s.Pixels)
	if err := d.backend.Transmit(ctx, frame); err != nil {
		return err
	}
	select {
	case <-time.After(d.Protocol.LatchInterval):
	case <-ctx.Done():
		return ctx.Err()
	}
	s.Dirty = false
	return nil
}

// Close releases the backend's hardware resources.
func (d *Driver) Close() error {
	return d.backend.Close()
}
