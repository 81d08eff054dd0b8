// Package scheduler implements the Frame Scheduler (spec.md §4.4):
// interleaving VM instruction execution with demand-driven strip
// refreshes, and handling SLEEP as a timed yield rather than a block.
//
// Concurrent strip refreshes are bounded and awaited with
// golang.org/x/sync's semaphore and errgroup (grounded on the same
// concurrency dependency the pack's doismellburning-samoyed and
// smasonuk-sicpu go.mod files carry), matching spec.md §4.3's "up to eight
// drivers may run concurrently, limited by available state machines."
package scheduler

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/rpled/firmware/internal/led"
	"github.com/rpled/firmware/internal/strip"
	"github.com/rpled/firmware/internal/vm"
)

// MaxConcurrentDrivers mirrors the strip driver contract: at most eight
// hardware state machines run a transmit at once.
const MaxConcurrentDrivers = 8

// Binding pairs a pixel buffer with the driver that pumps it to hardware.
type Binding struct {
	Strip  *led.Strip
	Driver *strip.Driver
}

// Scheduler runs one VM's instruction stream and keeps its bound strips
// refreshed.
type Scheduler struct {
	vm      *vm.VM
	strips  []Binding
	sem     *semaphore.Weighted
	clock   func() time.Time
	waking  time.Time
	waitMu  sync.Mutex
	lastTx  map[*led.Strip]time.Time
}

// New constructs a scheduler over machine and its bound strips. clock
// defaults to time.Now; tests may inject a deterministic clock.
func New(machine *vm.VM, strips []Binding, clock func() time.Time) *Scheduler {
	if clock == nil {
		clock = time.Now
	}
	return &Scheduler{
		vm:     machine,
		strips: strips,
		sem:    semaphore.NewWeighted(MaxConcurrentDrivers),
		clock:  clock,
		lastTx: make(map[*led.Strip]time.Time),
	}
}

// Tick advances the VM by at most one instruction and refreshes any dirty,
// due-for-refresh strip. It never preempts a VM instruction mid-dispatch
// (the VM core itself fetches-decodes-executes one instruction per Step
// call, so Tick simply never calls Step twice per tick).
func (s *Scheduler) Tick(ctx context.Context) (vm.Signal, error) {
	now := s.clock()

	if s.vm.Sleeping() {
		if now.Before(s.waking) {
			return vm.SignalSleep, s.refreshDirty(ctx, now)
		}
		s.vm.Resume()
	}

	if s.vm.Halted() {
		return vm.SignalHalted, s.refreshDirty(ctx, now)
	}

	sig := s.vm.Step()
	if sig == vm.SignalSleep {
		delay := time.Duration(s.vm.SleepMicros()) * time.Microsecond
		// SLEEP(0) yields one tick without guaranteed delay (spec.md §4.4);
		// waking "now" satisfies that without ever under-running.
		s.waking = now.Add(delay)
	}

	if err := s.refreshDirty(ctx, now); err != nil {
		return sig, err
	}
	return sig, nil
}

// Cancel wakes an in-flight SLEEP early and halts the VM, as
// StopProgram/LoadProgram must (spec.md §5 "Cancellation"). It is a no-op
// if the VM isn't currently sleeping.
func (s *Scheduler) Cancel() {
	if s.vm.Sleeping() {
		s.vm.Cancel()
	}
}

// Stop implements StopProgram (spec.md §4.5): a sleeping VM is cancelled
// (FaultSleepCancelled, per spec.md §7's "SLEEP invoked with HALT
// requested"); anything else halts cleanly with no fault, since StopProgram
// on a program that wasn't sleeping is an ordinary deliberate stop.
func (s *Scheduler) Stop() {
	if s.vm.Sleeping() {
		s.vm.Cancel()
		return
	}
	if !s.vm.Halted() {
		s.vm.ForceHalt()
	}
}

// refreshDirty transmits every strip that is dirty and past its
// protocol's minimum inter-frame interval, running up to
// MaxConcurrentDrivers transmits concurrently and waiting for the batch.
func (s *Scheduler) refreshDirty(ctx context.Context, now time.Time) error {
	g, gctx := errgroup.WithContext(ctx)

	for _, b := range s.strips {
		b := b
		if !b.Strip.Dirty {
			continue
		}
		s.waitMu.Lock()
		last := s.lastTx[b.Strip]
		s.waitMu.Unlock()
		if !last.IsZero() && now.Sub(last) < b.Driver.Protocol.MinFrameInterval {
			continue
		}

		if err := s.sem.Acquire(gctx, 1); err != nil {
			return err
		}
		g.Go(func() error {
			defer s.sem.Release(1)
			if err := b.Driver.Transmit(gctx, b.Strip); err != nil {
				return err
			}
			s.waitMu.Lock()
			s.lastTx[b.Strip] = now
			s.waitMu.Unlock()
			return nil
		})
	}

	return g.Wait()
}
