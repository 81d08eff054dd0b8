// Package core wires the VM Core, Module Registry, LED Module, Strip
// Driver, Frame Scheduler, and Command Channel into the two-core
// concurrency model spec.md §5 describes: a single cooperative LED core
// goroutine owns all VM/pixel-buffer state, and any number of I/O-core
// callers only ever touch it through the Command Channel mailbox.
//
// The LED-core-never-blocks-on-I/O discipline is enforced structurally:
// Engine.Run is the only goroutine that calls into vm/scheduler/led, and
// it uses golang.org/x/sync/errgroup only to wait on its own shutdown, the
// same dependency the Frame Scheduler uses for bounding concurrent strip
// transmissions.
package core

import (
	"context"
	"errors"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/rpled/firmware/internal/command"
	"github.com/rpled/firmware/internal/led"
	"github.com/rpled/firmware/internal/loader"
	"github.com/rpled/firmware/internal/memplan"
	"github.com/rpled/firmware/internal/module"
	"github.com/rpled/firmware/internal/scheduler"
	"github.com/rpled/firmware/internal/strip"
	"github.com/rpled/firmware/internal/vm"
)

// StripConfig is one configured strip slot: its protocol and pixel count.
// The hardware backend a slot transmits through is assigned separately
// (AssignBackend) at boot and survives a later SetStripConfig, matching
// real firmware where PIO/DMA resources are partitioned once at boot
// (spec.md §5 "Shared resources").
type StripConfig struct {
	Protocol strip.Protocol
	Length   int
}

// Engine is the LED core: it owns the currently loaded program (if any)
// and the configured strip set, and drains the Command Channel between
// instructions.
type Engine struct {
	registry *module.Registry
	memSize  memplan.Size
	mailbox  *command.Mailbox
	log      *log.Logger

	stripConfigs []StripConfig
	stripBufs    []*led.Strip
	stripBacks   []strip.Backend

	loaded *loader.Loaded
	sched  *scheduler.Scheduler
}

// New constructs an Engine. registry resolves module IDs declared by
// loaded images; mailbox is the Command Channel the I/O core sends on.
func New(registry *module.Registry, memSize memplan.Size, mailbox *command.Mailbox, logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.Default()
	}
	return &Engine{registry: registry, memSize: memSize, mailbox: mailbox, log: logger}
}

// ConfigureStrip applies SetStripConfig outside the running loop (used at
// boot, before Run starts, and by the command handler below). It clears
// the strip's buffer, per spec.md §4.5.
func (e *Engine) ConfigureStrip(index int, cfg StripConfig) {
	e.ensureStripCapacity(index)
	e.stripConfigs[index] = cfg
	e.stripBufs[index] = &led.Strip{Pixels: make([]led.Pixel, cfg.Length)}
	if e.loaded != nil {
		e.rebuildScheduler()
	}
}

// AssignBackend binds a strip index to the hardware backend it transmits
// through, independent of ConfigureStrip's protocol/length.
func (e *Engine) AssignBackend(index int, backend strip.Backend) {
	e.ensureStripCapacity(index)
	e.stripBacks[index] = backend
	if e.loaded != nil {
		e.rebuildScheduler()
	}
}

func (e *Engine) ensureStripCapacity(index int) {
	for len(e.stripConfigs) <= index {
		e.stripConfigs = append(e.stripConfigs, StripConfig{})
		e.stripBufs = append(e.stripBufs, nil)
		e.stripBacks = append(e.stripBacks, nil)
	}
}

// Run is the LED core's main loop: cooperative, single-threaded, and the
// only goroutine that ever touches VM/pixel-buffer state (spec.md §5).
// It returns when ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return e.loop(gctx)
	})
	return g.Wait()
}

func (e *Engine) loop(ctx context.Context) error {
	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if msg, ok := e.mailbox.Next(); ok {
			e.handle(ctx, msg)
		}

		if e.sched != nil {
			if _, err := e.sched.Tick(ctx); err != nil {
				e.log.Error("scheduler tick failed", "err", err)
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (e *Engine) handle(ctx context.Context, msg *command.Message) {
	switch msg.Kind {
	case command.KindLoadProgram:
		e.handleLoad(msg)
	case command.KindStopProgram:
		e.handleStop(msg)
	case command.KindSetParameter:
		e.handleSetParameter(msg)
	case command.KindQueryStatus:
		e.handleQueryStatus(msg)
	case command.KindSetStripConfig:
		e.handleSetStripConfig(msg)
	default:
		e.mailbox.Reply(msg, command.Response{Err: errors.New("core: unknown command kind")})
	}
}

func (e *Engine) handleLoad(msg *command.Message) {
	loaded, err := loader.Load(msg.Image, e.registry, e.memSize)
	if err != nil {
		e.mailbox.Reply(msg, command.Response{Err: err})
		return
	}

	if e.sched != nil {
		e.sched.Stop()
	}
	if e.loaded != nil {
		e.loaded.Close()
	}

	loader.BindLEDModules(loaded, e.stripBufs)
	e.loaded = loaded
	e.rebuildScheduler()

	e.log.Info("program loaded", "name", loaded.Name)
	e.mailbox.Reply(msg, command.Response{Status: e.status()})
}

func (e *Engine) handleStop(msg *command.Message) {
	if e.sched != nil {
		e.sched.Stop()
	}
	e.mailbox.Reply(msg, command.Response{Status: e.status()})
}

func (e *Engine) handleSetParameter(msg *command.Message) {
	if e.loaded == nil {
		e.mailbox.Reply(msg, command.Response{Err: errors.New("core: no program loaded")})
		return
	}
	err := e.loaded.Params.Set(msg.ParamName, msg.ParamValue)
	e.mailbox.Reply(msg, command.Response{Err: err, Status: e.status()})
}

func (e *Engine) handleQueryStatus(msg *command.Message) {
	e.mailbox.Reply(msg, command.Response{Status: e.status()})
}

func (e *Engine) handleSetStripConfig(msg *command.Message) {
	e.ConfigureStrip(msg.StripIndex, StripConfig{
		Protocol: protocolByName(msg.StripProtocol),
		Length:   msg.StripLength,
	})
	e.mailbox.Reply(msg, command.Response{Status: e.status()})
}

func (e *Engine) status() command.Status {
	st := command.Status{State: command.StateHalted}
	if e.loaded == nil {
		return st
	}
	st.PC = e.loaded.VM.PC()
	st.SP = e.loaded.VM.SP()
	st.ActiveProgramName = e.loaded.Name
	switch {
	case !e.loaded.VM.Halted():
		st.State = command.StateRunning
	case e.loaded.VM.Fault() != vm.FaultNone:
		st.State = command.StateFault
		st.FaultCode = e.loaded.VM.Fault().String()
	default:
		st.State = command.StateHalted
	}
	return st
}

func (e *Engine) rebuildScheduler() {
	if e.loaded == nil {
		e.sched = nil
		return
	}
	bindings := make([]scheduler.Binding, 0, len(e.stripBufs))
	for i, buf := range e.stripBufs {
		if buf == nil {
			continue
		}
		backend := e.stripBacks[i]
		if backend == nil {
			continue
		}
		bindings = append(bindings, scheduler.Binding{
			Strip:  buf,
			Driver: strip.NewDriver(e.stripConfigs[i].Protocol, backend),
		})
	}
	e.sched = scheduler.New(e.loaded.VM, bindings, nil)
}

func protocolByName(name string) strip.Protocol {
	if name == "sk6812" {
		return strip.SK6812
	}
	return strip.WS2812
}
