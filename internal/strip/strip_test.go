package strip

import (
	"context"
	"testing"

	"github.com/rpled/firmware/internal/led"
)

func TestEncodeWS2812IsGRBOrder(t *testing.T) {
	pixels := []led.Pixel{{R: 1, G: 2, B: 3}}
	frame := WS2812.Encode(pixels)
	want := []byte{2, 1, 3}
	if len(frame) != len(want) || frame[0] != want[0] || frame[1] != want[1] || frame[2] != want[2] {
		t.Fatalf("expected GRB order %v, got %v", want, frame)
	}
}

func TestEncodeSK6812AppendsZeroWhiteChannel(t *testing.T) {
	pixels := []led.Pixel{{R: 10, G: 20, B: 30}}
	frame := SK6812.Encode(pixels)
	want := []byte{20, 10, 30, 0}
	for i, b := range want {
		if frame[i] != b {
			t.Fatalf("expected %v, got %v", want, frame)
		}
	}
}

func TestTransmitClearsDirtyFlag(t *testing.T) {
	backend := NewFakeBackend()
	driver := NewDriver(WS2812, backend)
	s := &led.Strip{Pixels: []led.Pixel{{R: 1, G: 2, B: 3}}, Dirty: true}

	if err := driver.Transmit(context.Background(), s); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Dirty {
		t.Fatalf("expected Dirty cleared after transmit")
	}
	if len(backend.Frames()) != 1 {
		t.Fatalf("expected exactly one frame recorded")
	}
}

func TestTransmitIsIdempotentOnUnchangedBuffer(t *testing.T) {
	backend := NewFakeBackend()
	driver := NewDriver(WS2812, backend)
	s := &led.Strip{Pixels: []led.Pixel{{R: 5, G: 6, B: 7}}}

	driver.Transmit(context.Background(), s)
	driver.Transmit(context.Background(), s)

	frames := backend.Frames()
	if len(frames) != 2 {
		t.Fatalf("expected two transmits recorded, got %d", len(frames))
	}
	if string(frames[0]) != string(frames[1]) {
		t.Fatalf("expected identical frames for an unchanged buffer, got %v vs %v", frames[0], frames[1])
	}
}
