package xhci

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ardnew/softxhci/host/xhci/devctx"
)

var slotStateNames = [...]string{
	devctx.SlotStateDisabled:   "disabled",
	devctx.SlotStateDefault:    "default",
	devctx.SlotStateAddressed:  "addressed",
	devctx.SlotStateConfigured: "configured",
}

var endpointStateNames = [...]string{
	devctx.EndpointStateDisabled: "disabled",
	devctx.EndpointStateRunning:  "running",
	devctx.EndpointStateHalted:   "halted",
	devctx.EndpointStateStopped:  "stopped",
	devctx.EndpointStateError:    "error",
}

func stateName(names []string, v uint8) string {
	if int(v) < len(names) {
		return names[v]
	}
	return fmt.Sprintf("state(%d)", v)
}

// Dump formats the output slot context and the endpoint contexts of every
// endpoint slot has configured.
func (c *Controller) Dump(slot uint8) (string, error) {
	a, err := c.attachment(slot)
	if err != nil {
		return "", err
	}
	out := c.list.Output(slot)
	sc := out.Slot()

	var sb strings.Builder
	fmt.Fprintf(&sb, "slot %d @ %#x: state=%s address=%d port=%d route=%#05x speed=%d entries=%d\n",
		slot, sc.Phys(), stateName(slotStateNames[:], sc.State()), sc.DeviceAddress(),
		sc.RootHubPort(), sc.RouteString(), sc.Speed(), sc.ContextEntries())
	fmt.Fprintf(&sb, "  config=%d interface=%d alternate=%d\n",
		a.Configuration, a.Interface, a.Alternate)

	dcis := make([]int, 0, len(a.Endpoints))
	for dci := range a.Endpoints {
		dcis = append(dcis, int(dci))
	}
	sort.Ints(dcis)
	for _, dci := range dcis {
		ep := out.Endpoint(dci)
		r := c.list.Ring(slot, uint8(dci))
		fmt.Fprintf(&sb, "  dci %2d: state=%s type=%d mps=%d burst=%d interval=%d cerr=%d deq=%#x/%t",
			dci, stateName(endpointStateNames[:], ep.State()), ep.Type(), ep.MaxPacketSize(),
			ep.MaxBurst(), ep.Interval(), ep.ErrorCount(), ep.Dequeue(), ep.DequeueCycle())
		if r != nil {
			fmt.Fprintf(&sb, " enq=%#x/%t", r.EnqueuePointer(), r.CycleState())
		}
		sb.WriteByte('\n')
	}
	return sb.String(), nil
}

// DumpPorts formats the PORTSC value of every root port.
func (c *Controller) DumpPorts() string {
	var sb strings.Builder
	for i, st := range c.Ports() {
		fmt.Fprintf(&sb, "port %d: %s\n", i+1, st)
	}
	return sb.String()
}
