// Package module defines the Module Registry contract: how a header module
// ID becomes a bound set of opcode handlers for one VM instance.
//
// This generalizes the teacher's HardwareDevice bus (a fixed array of
// devices bound to interrupt addresses, dispatched by TrySend/Reset/Close)
// to the bytecode VM's module-slot convention: opcodes 64+4i..67+4i are
// bound to whichever module occupies header position i, not to a fixed
// device ID.
package module

import "errors"

// ID identifies a module implementation as declared in a Program Image
// header (spec.md §3 "Module Binding").
type ID = uint8

// FuncCode is the one-byte function selector carried by MOD0/MOD1/MOD2/MODN
// operands (spec.md §6).
type FuncCode = uint8

// Variable marks a function code whose arity is only known at the call
// site (MODN), as opposed to a fixed 0/1/2 arity bound to MOD0/MOD1/MOD2.
const Variable = -1

// MaxSlots mirrors vmimage.MaxModules: opcodes 64..255 in windows of 4.
const MaxSlots = 48

var ErrUnknownFunc = errors.New("module: unknown function code")

// Instance is one module bound into a VM's module table. A fresh Instance
// is created per VM per load (Program Loader calls Registry.Resolve, then
// the returned Factory, once per slot) so that module state never leaks
// across an unload/reload cycle.
type Instance interface {
	// Arity reports how many stack arguments function code c expects to
	// pop and whether it pushes a return value. ok is false if c is not
	// implemented by this module, which the VM core treats as a fault.
	Arity(c FuncCode) (n int, returns bool, ok bool)

	// Invoke executes function code c with args already resolved into
	// call order (args[0] is the first argument listed at the call site).
	// The VM core has already validated arity before calling this.
	Invoke(c FuncCode, args []int16) (result int16, hasResult bool)

	// Reset restores the module to its power-on state. Nothing in this
	// repository calls it: the Program Loader builds a fresh Instance for
	// every load instead.
	Reset()

	// Close releases any resources the module owns (goroutines, hardware
	// handles); called on unload.
	Close()
}

// Factory constructs a fresh Instance for one VM's module slot.
type Factory func() Instance

// Registry binds module IDs declared in a Program Image header to module
// implementations known to the firmware build.
type Registry struct {
	factories map[ID]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[ID]Factory)}
}

// Register binds a module ID to a factory. Re-registering an ID replaces
// the previous factory.
func (r *Registry) Register(id ID, f Factory) {
	r.factories[id] = f
}

// Resolve looks up the factory for a module ID, as the Program Loader does
// for every ID listed in a candidate image's header.
func (r *Registry) Resolve(id ID) (Factory, bool) {
	f, ok := r.factories[id]
	return f, ok
}
