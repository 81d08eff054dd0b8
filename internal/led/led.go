// Package led implements the LED Module: the closed set of module function
// codes spec.md §4.2 describes (CLEAR, SET_PIXEL, FILL, GET_NUM_PIXELS,
// SET_STRIP), operating on one pixel buffer per configured strip.
//
// This is the first concrete module.Instance in the tree; its Arity/Invoke
// split is grounded on the teacher's HardwareDevice.TrySend dispatch in
// vm/devices.go, generalized from "one request type per device" to "one
// function code table per module".
package led

import "github.com/rpled/firmware/internal/module"

// Function codes exposed by the LED module (spec.md §4.2).
const (
	FuncClear module.FuncCode = iota
	FuncSetPixel
	FuncFill
	FuncGetNumPixels
	FuncSetStrip
)

// Pixel is a 24-bit RGB value; channels are truncated to their low byte on
// write (spec.md §4.2 "clamp-to-0..255 on each channel by low-byte
// truncation").
type Pixel struct {
	R, G, B byte
}

// Strip is one addressable strip's pixel buffer.
type Strip struct {
	Pixels []Pixel
	Dirty  bool
}

// Module is a module.Instance bound to one VM's module slot. It owns zero
// or more Strips and an "active strip" selection that SET_PIXEL/FILL/
// GET_NUM_PIXELS/CLEAR all act on.
type Module struct {
	strips []*Strip
	active int
}

// New constructs an LED module over the given strips, indexed as
// configured by SetStripConfig (internal/command). Strip 0 is active
// initially.
func New(strips []*Strip) *Module {
	return &Module{strips: strips}
}

// ActiveStrip returns the currently selected strip, or nil if none are
// configured.
func (m *Module) ActiveStrip() *Strip {
	if m.active < 0 || m.active >= len(m.strips) {
		return nil
	}
	return m.strips[m.active]
}

// SetStrips replaces the module's strip set, as SetStripConfig does when
// reconfiguring. The active selection resets to 0.
func (m *Module) SetStrips(strips []*Strip) {
	m.strips = strips
	m.active = 0
}

// Arity implements module.Instance.
func (m *Module) Arity(c module.FuncCode) (n int, returns bool, ok bool) {
	switch c {
	case FuncClear:
		return 0, false, true
	case FuncSetPixel:
		return 4, false, true
	case FuncFill:
		return 5, false, true
	case FuncGetNumPixels:
		return 0, true, true
	case FuncSetStrip:
		return 1, false, true
	default:
		return 0, false, false
	}
}

// Invoke implements module.Instance.
func (m *Module) Invoke(c module.FuncCode, args []int16) (result int16, hasResult bool) {
	switch c {
	case FuncClear:
		m.clear()
	case FuncSetPixel:
		m.setPixel(args[0], args[1], args[2], args[3])
	case FuncFill:
		m.fill(args[0], args[1], args[2], args[3], args[4])
	case FuncGetNumPixels:
		return m.getNumPixels(), true
	case FuncSetStrip:
		m.setStrip(args[0])
	}
	return 0, false
}

// Reset implements module.Instance: strips keep their configuration but
// their buffers are zeroed, mirroring what a fresh LoadProgram should see.
func (m *Module) Reset() {
	m.active = 0
	for _, s := range m.strips {
		m.clearStrip(s)
	}
}

// Close implements module.Instance. The LED module owns no external
// resources; strip hardware is owned by internal/strip.
func (m *Module) Close() {}

func (m *Module) clear() {
	s := m.ActiveStrip()
	if s == nil {
		return
	}
	m.clearStrip(s)
}

func (m *Module) clearStrip(s *Strip) {
	for i := range s.Pixels {
		s.Pixels[i] = Pixel{}
	}
	s.Dirty = true
}

func (m *Module) setPixel(x, r, g, b int16) {
	s := m.ActiveStrip()
	if s == nil {
		return
	}
	if x < 0 || int(x) >= len(s.Pixels) {
		return
	}
	s.Pixels[x] = Pixel{R: byte(r), G: byte(g), B: byte(b)}
	s.Dirty = true
}

func (m *Module) fill(lo, hi, r, g, b int16) {
	s := m.ActiveStrip()
	if s == nil || lo > hi {
		return
	}
	start := lo
	if start < 0 {
		start = 0
	}
	end := hi
	if int(end) >= len(s.Pixels) {
		end = int16(len(s.Pixels) - 1)
	}
	if start > end {
		return
	}
	px := Pixel{R: byte(r), G: byte(g), B: byte(b)}
	for i := start; i <= end; i++ {
		s.Pixels[i] = px
	}
	s.Dirty = true
}

func (m *Module) getNumPixels() int16 {
	s := m.ActiveStrip()
	if s == nil {
		return 0
	}
	return int16(len(s.Pixels))
}

func (m *Module) setStrip(i int16) {
	if i < 0 || int(i) >= len(m.strips) {
		return
	}
	m.active = int(i)
}
