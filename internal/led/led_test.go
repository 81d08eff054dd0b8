package led

import "testing"

func assert(t *testing.T, cond bool, format string, args ...any) {
	t.Helper()
	if !cond {
		t.Fatalf(format, args...)
	}
}

func newTestModule(length int) *Module {
	return New([]*Strip{{Pixels: make([]Pixel, length)}})
}

func TestSetPixelWithinRange(t *testing.T) {
	m := newTestModule(10)
	m.Invoke(FuncSetPixel, []int16{3, 10, 20, 30})

	s := m.ActiveStrip()
	assert(t, s.Pixels[3] == Pixel{10, 20, 30}, "expected pixel 3 set, got %+v", s.Pixels[3])
	assert(t, s.Dirty, "expected dirty flag set")
}

func TestSetPixelOutOfRangeIsNoOp(t *testing.T) {
	m := newTestModule(10)
	m.Invoke(FuncSetPixel, []int16{99, 1, 2, 3})

	s := m.ActiveStrip()
	assert(t, !s.Dirty, "out-of-range set_pixel must not mark the buffer dirty")
	for _, px := range s.Pixels {
		assert(t, px == Pixel{}, "expected no pixel written, got %+v", px)
	}
}

func TestFillInclusiveRange(t *testing.T) {
	m := newTestModule(10)
	m.Invoke(FuncFill, []int16{2, 5, 1, 1, 1})

	s := m.ActiveStrip()
	for i := 2; i <= 5; i++ {
		assert(t, s.Pixels[i] == Pixel{1, 1, 1}, "expected pixel %d filled", i)
	}
	assert(t, s.Pixels[1] == Pixel{}, "pixel 1 must be untouched")
	assert(t, s.Pixels[6] == Pixel{}, "pixel 6 must be untouched")
}

func TestFillLoGreaterThanHiIsNoOp(t *testing.T) {
	m := newTestModule(10)
	m.Invoke(FuncFill, []int16{5, 2, 1, 1, 1})

	s := m.ActiveStrip()
	assert(t, !s.Dirty, "lo>hi fill must be a no-op")
}

func TestFillClipsToStripBounds(t *testing.T) {
	m := newTestModule(4)
	m.Invoke(FuncFill, []int16{-10, 100, 9, 9, 9})

	s := m.ActiveStrip()
	for _, px := range s.Pixels {
		assert(t, px == Pixel{9, 9, 9}, "expected clipped fill to cover the whole strip, got %+v", px)
	}
}

func TestGetNumPixels(t *testing.T) {
	m := newTestModule(42)
	n, hasResult := m.Invoke(FuncGetNumPixels, nil)
	assert(t, hasResult, "expected a result")
	assert(t, n == 42, "expected 42, got %d", n)
}

func TestSetStripOutOfRangeKeepsPreviousSelection(t *testing.T) {
	m := New([]*Strip{
		{Pixels: make([]Pixel, 3)},
		{Pixels: make([]Pixel, 5)},
	})
	m.Invoke(FuncSetStrip, []int16{1})
	m.Invoke(FuncSetStrip, []int16{7}) // out of range, should be ignored

	n, _ := m.Invoke(FuncGetNumPixels, nil)
	assert(t, n == 5, "expected active strip to remain strip 1 (len 5), got %d", n)
}

func TestClearZeroesBufferAndMarksDirty(t *testing.T) {
	m := newTestModule(3)
	m.Invoke(FuncFill, []int16{0, 2, 5, 5, 5})
	m.Invoke(FuncClear, nil)

	s := m.ActiveStrip()
	for _, px := range s.Pixels {
		assert(t, px == Pixel{}, "expected cleared pixel, got %+v", px)
	}
	assert(t, s.Dirty, "expected dirty after clear")
}
