// Package command implements the Command Channel (spec.md §4.5): a
// single-producer (I/O core), single-consumer (LED core) bounded mailbox
// carrying load/stop/param/status/strip-config messages, each producing
// exactly one response.
//
// The non-blocking receive side is adapted from the teacher's
// nonBlockingChan wrapper in vm/devices.go (a generic channel type used so
// a hardware device's goroutine never blocks waiting on a request that
// hasn't arrived yet); here the LED core's drain point between VM
// instructions needs exactly that property.
package command

import (
	"context"
	"errors"

	"github.com/charmbracelet/log"
)

// Kind identifies a Command Channel message (spec.md §4.5).
type Kind int

const (
	KindLoadProgram Kind = iota
	KindStopProgram
	KindSetParameter
	KindQueryStatus
	KindSetStripConfig
)

func (k Kind) String() string {
	switch k {
	case KindLoadProgram:
		return "load_program"
	case KindStopProgram:
		return "stop_program"
	case KindSetParameter:
		return "set_parameter"
	case KindQueryStatus:
		return "query_status"
	case KindSetStripConfig:
		return "set_strip_config"
	default:
		return "unknown"
	}
}

// RunState summarizes VM status for QueryStatus (spec.md §4.5).
type RunState int

const (
	StateRunning RunState = iota
	StateHalted
	StateFault
)

// Status is the QueryStatus response payload.
type Status struct {
	State              RunState
	FaultCode          string
	PC, SP             uint16
	ActiveProgramName  string
}

// Message is one Command Channel request. Exactly one field group is
// populated, matching Kind.
type Message struct {
	Kind Kind

	// LoadProgram
	Image []byte

	// SetParameter
	ParamName  string
	ParamValue int16

	// SetStripConfig
	StripIndex    int
	StripProtocol string
	StripLength   int

	reply chan Response
}

// Response is the single reply every Message produces.
type Response struct {
	Err    error
	Status Status
}

// ErrMailboxFull is returned by TrySend when the bounded mailbox has no
// room and the caller asked not to block.
var ErrMailboxFull = errors.New("command: mailbox full")

// Mailbox is the bounded, FIFO, single-producer/single-consumer channel
// between the I/O core and the LED core.
type Mailbox struct {
	ch  chan *Message
	log *log.Logger
}

// NewMailbox constructs a mailbox with the given bounded depth.
func NewMailbox(depth int, logger *log.Logger) *Mailbox {
	if logger == nil {
		logger = log.Default()
	}
	return &Mailbox{ch: make(chan *Message, depth), log: logger}
}

// Send enqueues msg and blocks for its single response, honoring ctx for
// both the enqueue and the reply wait. Used by the I/O core.
func (mb *Mailbox) Send(ctx context.Context, msg *Message) (Response, error) {
	msg.reply = make(chan Response, 1)
	select {
	case mb.ch <- msg:
	case <-ctx.Done():
		return Response{}, ctx.Err()
	}
	select {
	case resp := <-msg.reply:
		return resp, nil
	case <-ctx.Done():
		return Response{}, ctx.Err()
	}
}

// TrySend enqueues msg without blocking, returning ErrMailboxFull if the
// mailbox is at capacity, then waits for the response.
func (mb *Mailbox) TrySend(ctx context.Context, msg *Message) (Response, error) {
	msg.reply = make(chan Response, 1)
	select {
	case mb.ch <- msg:
	default:
		return Response{}, ErrMailboxFull
	}
	select {
	case resp := <-msg.reply:
		return resp, nil
	case <-ctx.Done():
		return Response{}, ctx.Err()
	}
}

// Next is the LED core's drain point: it returns immediately, with ok=false
// if nothing is queued, so the VM loop never blocks mid-frame waiting on a
// command that may never come (spec.md §5 "message-channel drain points
// inserted between instructions").
func (mb *Mailbox) Next() (*Message, bool) {
	select {
	case m := <-mb.ch:
		return m, true
	default:
		return nil, false
	}
}

// Reply delivers msg's single response and logs it at debug level.
func (mb *Mailbox) Reply(msg *Message, resp Response) {
	msg.reply <- resp
	mb.log.Debug("command processed", "kind", msg.Kind.String(), "err", resp.Err)
}
