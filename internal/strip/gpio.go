package strip

import (
	"context"

	"github.com/warthog618/go-gpiocdev"
)

// GPIOBackend drives one strip off a single Linux GPIO chardev line,
// bit-banging the encoded frame. This is a best-effort backend: a
// userspace chardev write has no sub-microsecond timing guarantee, so it
// cannot reproduce true WS2812/SK6812 bit timing the way a PIO state
// machine would. It exists to give the Strip Driver a real hardware path
// grounded in the corpus's one Linux-GPIO project rather than a fabricated
// PIO binding; production firmware on the actual target still wants a PIO
// program, which is out of reach of both this corpus and this language.
type GPIOBackend struct {
	line *gpiocdev.Line
}

// NewGPIOBackend requests offset on chip as an output line held low.
func NewGPIOBackend(chip string, offset int) (*GPIOBackend, error) {
	line, err := gpiocdev.RequestLine(chip, offset, gpiocdev.AsOutput(0))
	if err != nil {
		return nil, err
	}
	return &GPIOBackend{line: line}, nil
}

// Transmit shifts frame out one bit at a time, most-significant bit first.
func (b *GPIOBackend) Transmit(ctx context.Context, frame []byte) error {
	for _, by := range frame {
		for bit := 7; bit >= 0; bit-- {
			v := 0
			if by&(1<<uint(bit)) != 0 {
				v = 1
			}
			if err := b.line.SetValue(v); err != nil {
				return err
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
		}
	}
	return b.line.SetValue(0)
}

// Close releases the GPIO line.
func (b *GPIOBackend) Close() error {
	return b.line.Close()
}
