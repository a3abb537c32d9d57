package irq

import (
	"testing"

	"kcore/errors"
)

type recordingChip struct {
	acked, masked, unmasked, eoid []int
}

func (c *recordingChip) Ack(v int)    { c.acked = append(c.acked, v) }
func (c *recordingChip) Mask(v int)   { c.masked = append(c.masked, v) }
func (c *recordingChip) Unmask(v int) { c.unmasked = append(c.unmasked, v) }
func (c *recordingChip) EOI(v int)    { c.eoid = append(c.eoid, v) }

func resetTable() {
	table.mu.Lock()
	table.descs = make(map[int]*Descriptor)
	table.mu.Unlock()
}

func TestEdgeFlowAcksBeforeRunningActions(t *testing.T) {
	resetTable()
	chip := &recordingChip{}
	var order []string
	Register(10, chip, EdgeFlow)
	AddAction(10, func(v int) { order = append(order, "action") })

	Dispatch(10)

	if len(chip.acked) != 1 || chip.acked[0] != 10 {
		t.Fatalf("expected ack(10), got %v", chip.acked)
	}
	if len(order) != 1 {
		t.Fatal("expected action to run")
	}
}

func TestFastEOIFlowEOIsAfterActions(t *testing.T) {
	resetTable()
	chip := &recordingChip{}
	ran := false
	Register(20, chip, FastEOIFlow)
	AddAction(20, func(v int) { ran = true })

	Dispatch(20)

	if !ran {
		t.Fatal("expected action to run")
	}
	if len(chip.eoid) != 1 || chip.eoid[0] != 20 {
		t.Fatalf("expected EOI(20), got %v", chip.eoid)
	}
}

func TestPercpuDevIDFlowSkipsChip(t *testing.T) {
	resetTable()
	chip := &recordingChip{}
	ran := false
	Register(30, chip, PercpuDevIDFlow)
	AddAction(30, func(v int) { ran = true })

	Dispatch(30)

	if !ran {
		t.Fatal("expected action to run")
	}
	if len(chip.acked) != 0 || len(chip.eoid) != 0 {
		t.Fatal("percpu devid flow should not touch the shared chip")
	}
}

func TestAddActionUnknownVector(t *testing.T) {
	resetTable()
	if err := AddAction(999, func(int) {}); !errors.IsKind(err, errors.NotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestDispatchSpuriousVectorDoesNotPanic(t *testing.T) {
	resetTable()
	Dispatch(1234)
}

func TestMultipleActionsAllRun(t *testing.T) {
	resetTable()
	chip := &recordingChip{}
	Register(40, chip, EdgeFlow)
	var calls []int
	AddAction(40, func(v int) { calls = append(calls, 1) })
	AddAction(40, func(v int) { calls = append(calls, 2) })

	Dispatch(40)

	if len(calls) != 2 {
		t.Fatalf("expected both actions to run, got %v", calls)
	}
}

type fakeTopology struct {
	cur       int
	count     int
	delivered map[int][]IpiKind
}

func newFakeTopology(cur, count int) *fakeTopology {
	return &fakeTopology{cur: cur, count: count, delivered: make(map[int][]IpiKind)}
}

func (f *fakeTopology) CPUCount() int    { return f.count }
func (f *fakeTopology) CurrentCPU() int  { return f.cur }
func (f *fakeTopology) DeliverLocal(cpu int, kind IpiKind, vector int) {
	f.delivered[cpu] = append(f.delivered[cpu], kind)
}

func TestSendIPITargetAll(t *testing.T) {
	topo := newFakeTopology(0, 4)
	SendIPI(topo, All(), IpiFlushTLB, 0)
	for cpu := 0; cpu < 4; cpu++ {
		if len(topo.delivered[cpu]) != 1 || topo.delivered[cpu][0] != IpiFlushTLB {
			t.Fatalf("cpu %d did not receive IPI: %v", cpu, topo.delivered[cpu])
		}
	}
}

func TestSendIPITargetOtherExcludesSender(t *testing.T) {
	topo := newFakeTopology(1, 3)
	SendIPI(topo, Other(), IpiKickCpu, 0)
	if len(topo.delivered[1]) != 0 {
		t.Fatal("sender should not receive its own Other-targeted IPI")
	}
	if len(topo.delivered[0]) != 1 || len(topo.delivered[2]) != 1 {
		t.Fatal("expected all other CPUs to receive the IPI")
	}
}

func TestSendIPITargetSpecified(t *testing.T) {
	topo := newFakeTopology(0, 4)
	SendIPI(topo, Specified(2), IpiSpecVector, 77)
	if len(topo.delivered[2]) != 1 {
		t.Fatalf("expected cpu 2 to receive the IPI, got %v", topo.delivered)
	}
	for cpu, ks := range topo.delivered {
		if cpu != 2 && len(ks) != 0 {
			t.Fatalf("cpu %d unexpectedly received an IPI", cpu)
		}
	}
}

func TestIpiKindString(t *testing.T) {
	cases := map[IpiKind]string{IpiKickCpu: "kick_cpu", IpiFlushTLB: "flush_tlb", IpiSpecVector: "spec_vector"}
	for k, want := range cases {
		if got := k.String(); got != want {
			t.Errorf("IpiKind(%d).String() = %q, want %q", k, got, want)
		}
	}
}
