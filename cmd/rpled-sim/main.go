// Command rpled-sim is a headless simulator harness: it loads a Program
// Image, runs it against an in-memory/console strip backend, and prints
// each transmitted frame. It is the direct analogue of the teacher's
// ExecProgramDebugMode/ExecProgram entry points, generalized from "run one
// bytecode file" to "run one LED program against a simulated strip."
package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/log"
	flag "github.com/spf13/pflag"

	"github.com/rpled/firmware/internal/led"
	"github.com/rpled/firmware/internal/loader"
	"github.com/rpled/firmware/internal/memplan"
	"github.com/rpled/firmware/internal/module"
	"github.com/rpled/firmware/internal/scheduler"
	"github.com/rpled/firmware/internal/strip"
	"github.com/rpled/firmware/internal/vm"
)

// printBackend is a strip.Backend that writes each transmitted frame to a
// writer as hex, standing in for real hardware in headless mode.
type printBackend struct {
	w     io.Writer
	frame int
}

func (b *printBackend) Transmit(ctx context.Context, frame []byte) error {
	b.frame++
	_, err := fmt.Fprintf(b.w, "frame %d: % x\n", b.frame, frame)
	return err
}

func (b *printBackend) Close() error { return nil }

func main() {
	imagePath := flag.StringP("image", "i", "", "path to a Program Image file")
	length := flag.IntP("length", "n", 8, "pixel count for the simulated strip")
	protocolName := flag.StringP("protocol", "p", "ws2812", "strip protocol: ws2812 or sk6812")
	memSizeKB := flag.IntP("memory", "m", 4, "VM memory size in KB: 4, 8, or 16")
	maxTicks := flag.IntP("max-ticks", "t", 100000, "safety cap on scheduler ticks")
	gpioChip := flag.String("gpio-chip", "", "Linux GPIO chardev (e.g. /dev/gpiochip0); if set, drives the strip over real GPIO instead of printing frames")
	gpioLine := flag.Int("gpio-line", 0, "GPIO line offset on --gpio-chip")
	flag.Parse()

	logger := log.Default()

	if *imagePath == "" {
		logger.Fatal("missing required --image")
	}

	raw, err := os.ReadFile(*imagePath)
	if err != nil {
		logger.Fatal("reading image", "err", err)
	}

	size := memplan.Size4KB
	switch *memSizeKB {
	case 8:
		size = memplan.Size8KB
	case 16:
		size = memplan.Size16KB
	}

	registry := module.NewRegistry()
	registry.Register(0, func() module.Instance { return led.New(nil) })

	loaded, err := loader.Load(raw, registry, size)
	if err != nil {
		logger.Fatal("loading image", "err", err)
	}
	defer loaded.Close()

	stripBuf := &led.Strip{Pixels: make([]led.Pixel, *length)}
	loader.BindLEDModules(loaded, []*led.Strip{stripBuf})

	protocol := strip.WS2812
	if *protocolName == "sk6812" {
		protocol = strip.SK6812
	}

	var backend strip.Backend = &printBackend{w: os.Stdout}
	if *gpioChip != "" {
		gpioBackend, err := strip.NewGPIOBackend(*gpioChip, *gpioLine)
		if err != nil {
			logger.Fatal("opening gpio backend", "chip", *gpioChip, "line", *gpioLine, "err", err)
		}
		defer gpioBackend.Close()
		backend = gpioBackend
		logger.Info("driving strip over gpio", "chip", *gpioChip, "line", *gpioLine)
	}
	driver := strip.NewDriver(protocol, backend)

	sched := scheduler.New(loaded.VM, []scheduler.Binding{{Strip: stripBuf, Driver: driver}}, nil)

	ctx := context.Background()
	for i := 0; i < *maxTicks; i++ {
		sig, err := sched.Tick(ctx)
		if err != nil {
			logger.Fatal("scheduler tick", "err", err)
		}
		if sig == vm.SignalHalted {
			break
		}
	}

	if loaded.VM.Fault() != vm.FaultNone {
		logger.Error("program faulted", "fault", loaded.VM.Fault().String(), "pc", loaded.VM.PC(), "sp", loaded.VM.SP())
		os.Exit(1)
	}
	logger.Info("program halted cleanly", "name", loaded.Name)
}
