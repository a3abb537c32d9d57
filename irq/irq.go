// Package irq implements the interrupt/IPI core described in
// SPEC_FULL.md: a descriptor table indexed by vector number, pluggable
// flow handlers, and inter-processor interrupt tagged unions. It is
// grounded on original_source/kernel/src/exception/ipi.rs's IpiKind/
// IpiTarget enums and the chip/flow-handler split conventional to
// Linux-style interrupt cores.
package irq

import (
	"sync"

	"kcore/errors"
	"kcore/logging"
)

// Action is a registered interrupt handler. A vector may have several,
// all invoked on dispatch (shared IRQ lines).
type Action func(vector int)

// Chip abstracts the interrupt controller operations a flow handler needs:
// acknowledging, masking and unmasking a line at the hardware level.
type Chip interface {
	Ack(vector int)
	Mask(vector int)
	Unmask(vector int)
	EOI(vector int)
}

// NullChip is a Chip whose operations are no-ops, used for descriptors
// that exist only to carry software actions (e.g. IPI vectors) with no
// backing hardware controller.
type NullChip struct{}

func (NullChip) Ack(int)    {}
func (NullChip) Mask(int)   {}
func (NullChip) Unmask(int) {}
func (NullChip) EOI(int)    {}

// Flow is a flow-control handler: it decides the ack/mask/EOI sequence
// around running a descriptor's actions, mirroring the kernel's
// handle_edge_irq / handle_fasteoi_irq / handle_percpu_devid_irq family.
type Flow func(d *Descriptor)

// EdgeFlow acks the line up front (so a second edge arriving while we're
// servicing the first is not lost), runs every action, and does not need
// an EOI.
func EdgeFlow(d *Descriptor) {
	d.Chip.Ack(d.Vector)
	runActions(d)
}

// FastEOIFlow masks nothing, runs actions, and EOIs at the end — suited
// to level-triggered controllers that can tolerate re-entry.
func FastEOIFlow(d *Descriptor) {
	runActions(d)
	d.Chip.EOI(d.Vector)
}

// PercpuDevIDFlow is used for per-CPU interrupts bound to a device ID
// (timers, IPIs): it masks nothing and does not ack through the shared
// chip, since the line is private to the receiving CPU.
func PercpuDevIDFlow(d *Descriptor) {
	runActions(d)
}

func runActions(d *Descriptor) {
	d.mu.Lock()
	actions := append([]Action(nil), d.Actions...)
	d.Pending = false
	d.mu.Unlock()

	for _, a := range actions {
		a(d.Vector)
	}
}

// Descriptor is the per-vector interrupt descriptor: the chip it belongs
// to, its flow handler, and the list of registered actions.
type Descriptor struct {
	Vector        int
	Chip          Chip
	Flow          Flow
	PercpuEnabled bool
	Pending       bool

	mu      sync.Mutex
	Actions []Action
}

var table = struct {
	mu    sync.Mutex
	descs map[int]*Descriptor
}{descs: make(map[int]*Descriptor)}

// Register installs a descriptor for vector, replacing any prior one.
func Register(vector int, chip Chip, flow Flow) *Descriptor {
	d := &Descriptor{Vector: vector, Chip: chip, Flow: flow}
	table.mu.Lock()
	table.descs[vector] = d
	table.mu.Unlock()
	return d
}

// AddAction appends an action to the descriptor registered at vector. It
// returns errors.ErrNotFound if no descriptor is registered there.
func AddAction(vector int, a Action) error {
	table.mu.Lock()
	d, ok := table.descs[vector]
	table.mu.Unlock()
	if !ok {
		return errors.New(errors.NotFound, "irq", "add_action", "no descriptor for vector")
	}
	d.mu.Lock()
	d.Actions = append(d.Actions, a)
	d.mu.Unlock()
	return nil
}

// Lookup returns the descriptor registered at vector, if any.
func Lookup(vector int) (*Descriptor, bool) {
	table.mu.Lock()
	defer table.mu.Unlock()
	d, ok := table.descs[vector]
	return d, ok
}

// Descriptors returns a snapshot of every registered descriptor, for
// the debug CLI's IRQ table dump.
func Descriptors() []*Descriptor {
	table.mu.Lock()
	defer table.mu.Unlock()
	out := make([]*Descriptor, 0, len(table.descs))
	for _, d := range table.descs {
		out = append(out, d)
	}
	return out
}

// Dispatch runs the flow handler for vector. It is the interrupt core's
// single entry point, called from the (simulated) trap vector. Dispatch
// to an unregistered vector is logged and ignored, matching the
// kernel's handling of spurious interrupts.
func Dispatch(vector int) {
	d, ok := Lookup(vector)
	if !ok {
		logging.Warn("irq: spurious interrupt", "vector", vector)
		return
	}
	d.mu.Lock()
	d.Pending = true
	d.mu.Unlock()

	if d.Flow != nil {
		d.Flow(d)
	} else {
		runActions(d)
	}
}

// IpiKind is the tagged union of inter-processor interrupt reasons.
type IpiKind int

const (
	// IpiKickCpu asks a CPU to re-evaluate its run queue (used to force a
	// remote reschedule).
	IpiKickCpu IpiKind = iota
	// IpiFlushTLB asks a CPU to invalidate stale TLB entries after a
	// remote page table update.
	IpiFlushTLB
	// IpiSpecVector delivers an arbitrary vector number chosen by the
	// sender, for driver-defined cross-CPU signaling.
	IpiSpecVector
)

func (k IpiKind) String() string {
	switch k {
	case IpiKickCpu:
		return "kick_cpu"
	case IpiFlushTLB:
		return "flush_tlb"
	case IpiSpecVector:
		return "spec_vector"
	default:
		return "unknown"
	}
}

// TargetKind discriminates the cases of IpiTarget.
type TargetKind int

const (
	TargetCurrent TargetKind = iota
	TargetAll
	TargetOther
	TargetSpecified
)

// IpiTarget names the receivers of an inter-processor interrupt. For
// TargetSpecified, CPU holds the destination CPU index; it is ignored for
// the other kinds.
type IpiTarget struct {
	Kind TargetKind
	CPU  int
}

// Current targets only the sending CPU.
func Current() IpiTarget { return IpiTarget{Kind: TargetCurrent} }

// All targets every CPU, including the sender.
func All() IpiTarget { return IpiTarget{Kind: TargetAll} }

// Other targets every CPU except the sender.
func Other() IpiTarget { return IpiTarget{Kind: TargetOther} }

// Specified targets exactly one CPU.
func Specified(cpu int) IpiTarget { return IpiTarget{Kind: TargetSpecified, CPU: cpu} }

// Sender is the minimal contract SendIPI needs to actually deliver a kind
// to a CPU; archhal.PerCPU-backed schedulers implement this by dispatching
// a software vector locally.
type Sender interface {
	CPUCount() int
	CurrentCPU() int
	DeliverLocal(cpu int, kind IpiKind, vector int)
}

// SendIPI resolves target against s's topology and delivers kind to each
// resolved CPU, vector carrying the payload when kind is IpiSpecVector.
func SendIPI(s Sender, target IpiTarget, kind IpiKind, vector int) {
	cur := s.CurrentCPU()
	switch target.Kind {
	case TargetCurrent:
		s.DeliverLocal(cur, kind, vector)
	case TargetSpecified:
		s.DeliverLocal(target.CPU, kind, vector)
	case TargetAll:
		for cpu := 0; cpu < s.CPUCount(); cpu++ {
			s.DeliverLocal(cpu, kind, vector)
		}
	case TargetOther:
		for cpu := 0; cpu < s.CPUCount(); cpu++ {
			if cpu != cur {
				s.DeliverLocal(cpu, kind, vector)
			}
		}
	}
}
