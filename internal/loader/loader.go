// Package loader implements the Program Loader (spec.md §4.6): validates a
// candidate Program Image, resolves its modules against a Registry,
// allocates a Memory Plan, and produces a ready-to-run VM plus Parameter
// Table. Load either returns a fully formed Loaded or an error; it never
// mutates any state the caller already has, so a failed load leaves
// whatever program is currently running untouched (spec.md "Loading is
// atomic from the caller's view").
package loader

import (
	"errors"
	"fmt"

	"github.com/rpled/firmware/internal/led"
	"github.com/rpled/firmware/internal/memplan"
	"github.com/rpled/firmware/internal/module"
	"github.com/rpled/firmware/internal/param"
	"github.com/rpled/firmware/internal/vm"
	"github.com/rpled/firmware/internal/vmimage"
)

var ErrUnknownModule = errors.New("loader: module id not registered")

// Loaded is a fully installed program: a VM ready to Step, the module
// instances bound into its slots (so the caller can wire strip hardware
// into any led.Module among them), and the parameter table populated from
// the image header.
type Loaded struct {
	Name    string
	VM      *vm.VM
	Modules []module.Instance
	Params  *param.Table
}

// Load validates raw against vmimage.Parse, resolves every declared module
// ID against registry, and wires a VM over a memplan of the given size.
func Load(raw []byte, registry *module.Registry, size memplan.Size) (*Loaded, error) {
	img, err := vmimage.Parse(raw)
	if err != nil {
		return nil, err
	}

	plan, err := memplan.New(size, len(img.Bytecode), img.HeapSize)
	if err != nil {
		return nil, err
	}

	instances := make([]module.Instance, len(img.ModuleIDs))
	for i, id := range img.ModuleIDs {
		factory, ok := registry.Resolve(id)
		if !ok {
			return nil, fmt.Errorf("%w: %d", ErrUnknownModule, id)
		}
		instances[i] = factory()
	}

	mem := make([]byte, plan.Size)
	copy(mem[plan.ProgramStart:plan.ProgramEnd], img.Bytecode)
	// heap and stack regions start zeroed by make([]byte, ...).

	machine := vm.New(mem, plan, instances)
	params := param.New(img.Params)

	return &Loaded{
		Name:    img.Name,
		VM:      machine,
		Modules: instances,
		Params:  params,
	}, nil
}

// BindLEDModules configures a led.Module already present among loaded's
// module instances with concrete strips. A Loaded program may bind zero,
// one, or several LED modules across its slots; this is a convenience for
// the common single-LED-module case used by cmd/rpled-sim and tests.
func BindLEDModules(loaded *Loaded, strips []*led.Strip) {
	for _, inst := range loaded.Modules {
		if m, ok := inst.(*led.Module); ok {
			m.SetStrips(strips)
		}
	}
}

// Close releases every module instance a Loaded program holds, as an
// unload must (spec.md §3 "the parameter table is created on program load
// and destroyed on unload").
func (l *Loaded) Close() {
	for _, inst := range l.Modules {
		if inst != nil {
			inst.Close()
		}
	}
}
