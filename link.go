package dualq

// link.go holds a model of the wireless link that consumes a queue
// disc.  The link alternates between waiting for a transmit
// opportunity and servicing one.  When an opportunity arrives the link
// declares its transmit queue stalled, tells the queue disc how many
// framed bytes the opportunity can carry, and then drains the queue
// disc into an aggregate whose transmission time is scheduled on the
// event list.

import (
	"fmt"

	"github.com/iti/evt/evtm"
	"github.com/iti/evt/vrtime"
	"github.com/iti/rngstream"
)

// The WirelessLink structure holds the state of one link model
type WirelessLink struct {
	name   string
	number int
	groups []string

	evtMgr *evtm.EventManager
	qdisc  *DualQueueDisc

	// configured parameters
	bndwdth       float64 // service rate in Mbits/sec
	mtu           int     // largest item carried, in bytes
	frameOverhead int     // per-packet aggregation framing, in bytes
	aggLimit      int     // most framed bytes one opportunity carries
	accessDelay   float64 // mean gap between opportunities (seconds)
	jitter        float64 // fraction of service time added uniformly
	trace         bool

	rngstrm *rngstream.RngStream

	// stopped is what the queue disc sees through TxStopped.  It is set
	// while an opportunity is being serviced.
	stopped bool

	// active gates the self-rescheduling opportunity event
	active bool

	// the aggregate currently being transmitted
	inFlightPckts int
	inFlightBytes int

	// delivery counters
	DeliveredPckts int
	DeliveredBytes int
	DeliveredCE    int
}

// CreateWirelessLink is a constructor.  The link is idle until Start is called.
func CreateWirelessLink(cfg *LinkCfg) *WirelessLink {
	wl := new(WirelessLink)
	wl.name = cfg.Name
	wl.number = nxtID()
	wl.groups = cfg.Groups
	wl.bndwdth = cfg.Bandwidth
	wl.mtu = cfg.MTU
	wl.frameOverhead = cfg.FramingBytes
	wl.aggLimit = cfg.AggLimit
	wl.accessDelay = cfg.AccessDelay
	wl.jitter = cfg.Jitter
	wl.trace = cfg.Trace
	wl.rngstrm = rngstream.New(cfg.Name)
	return wl
}

// CheckConfig reports configurations the link refuses to start with
func (wl *WirelessLink) CheckConfig() error {
	if wl.bndwdth <= 0.0 {
		return fmt.Errorf("link %s: bandwidth must be positive", wl.name)
	}
	if wl.mtu < minMTU {
		return fmt.Errorf("link %s: MTU %d does not meet RFC 791 minimum", wl.name, wl.mtu)
	}
	if wl.aggLimit < wl.mtu+wl.frameOverhead {
		return fmt.Errorf("link %s: aggregation limit cannot carry even one framed MTU", wl.name)
	}
	if wl.accessDelay <= 0.0 {
		return fmt.Errorf("link %s: access delay must be positive", wl.name)
	}
	return nil
}

// TxStopped helps WirelessLink satisfy the LinkQueue interface
func (wl *WirelessLink) TxStopped() bool {
	return wl.stopped
}

// LinkMTU helps WirelessLink satisfy the LinkQueue interface
func (wl *WirelessLink) LinkMTU() int {
	return wl.mtu
}

// FrameOverhead helps WirelessLink satisfy the LinkQueue interface
func (wl *WirelessLink) FrameOverhead() int {
	return wl.frameOverhead
}

// LinkName returns the instance name
func (wl *WirelessLink) LinkName() string {
	return wl.name
}

// Attach connects the link to the queue disc it will drain
func (wl *WirelessLink) Attach(dq *DualQueueDisc) {
	wl.qdisc = dq
	dq.AttachLink(wl)
}

// Start schedules the first transmit opportunity
func (wl *WirelessLink) Start(evtMgr *evtm.EventManager) {
	if wl.qdisc == nil {
		panic(fmt.Errorf("link %s: started without an attached queue disc", wl.name))
	}
	wl.evtMgr = evtMgr
	wl.active = true
	evtMgr.Schedule(wl, nil, txOpportunity, vrtime.SecondsToTime(wl.nextAccessDelay()))
}

// Stop ends the link's self-rescheduling at teardown
func (wl *WirelessLink) Stop() {
	wl.active = false
}

// nextAccessDelay samples the gap until the next transmit opportunity,
// exponentially distributed around the configured mean
func (wl *WirelessLink) nextAccessDelay() float64 {
	return expRV(wl.rngstrm.RandU01(), 1.0/wl.accessDelay)
}

// txOpportunity is the event handler for winning a transmit
// opportunity.  Its context is the WirelessLink.  The transmit queue
// stalls, the queue disc learns how many framed bytes are about to be
// consumed so it can stage and reconcile its decisions, and then the
// aggregate is assembled by ordinary dequeues.  An empty queue disc
// just reschedules the next opportunity.
func txOpportunity(evtMgr *evtm.EventManager, context any, data any) any {
	wl := context.(*WirelessLink)
	if !wl.active {
		return nil
	}

	wl.stopped = true
	wl.qdisc.OnPendingDequeue(0, wl.aggLimit)

	framed := 0
	pckts := 0
	bytes := 0
	for framed < wl.aggLimit {
		qdItem := wl.qdisc.Dequeue()
		if qdItem == nil {
			break
		}
		framed += qdItem.Len + wl.frameOverhead
		bytes += qdItem.Len
		pckts += 1
		if qdItem.ECN() == CE {
			wl.DeliveredCE += 1
		}
	}

	if pckts == 0 {
		// nothing to send; release the queue and wait for the next opportunity
		wl.stopped = false
		evtMgr.Schedule(wl, nil, txOpportunity, vrtime.SecondsToTime(wl.nextAccessDelay()))
		return nil
	}

	wl.inFlightPckts = pckts
	wl.inFlightBytes = bytes

	serviceTime := float64(framed*8) / (wl.bndwdth * 1e6)
	serviceTime *= 1.0 + wl.jitter*wl.rngstrm.RandU01()
	evtMgr.Schedule(wl, nil, txComplete, vrtime.SecondsToTime(serviceTime))
	return nil
}

// txComplete is the event handler for finishing the transmission of an
// aggregate.  Its context is the WirelessLink.  The delivery counters
// absorb the aggregate, the transmit queue unstalls, and the next
// opportunity is scheduled.
func txComplete(evtMgr *evtm.EventManager, context any, data any) any {
	wl := context.(*WirelessLink)

	wl.DeliveredPckts += wl.inFlightPckts
	wl.DeliveredBytes += wl.inFlightBytes
	wl.inFlightPckts = 0
	wl.inFlightBytes = 0
	wl.stopped = false

	if !wl.active {
		return nil
	}
	evtMgr.Schedule(wl, nil, txOpportunity, vrtime.SecondsToTime(wl.nextAccessDelay()))
	return nil
}

// matchParam helps WirelessLink satisfy the paramObj interface,
// testing the attributes run-time configuration can select on
func (wl *WirelessLink) matchParam(attrbName, attrbValue string) bool {
	switch attrbName {
	case "name":
		return wl.name == attrbValue
	case "group":
		return matchGroups(wl.groups, attrbValue)
	}

	// an error really, as we should match only the names given in the switch statement above
	return false
}

// setParam assigns the parameter named in input with the value given in the input.
// setParam's definition here helps WirelessLink satisfy the paramObj interface.
func (wl *WirelessLink) setParam(param string, value valueStruct) {
	switch param {
	case "bandwidth":
		wl.bndwdth = value.floatValue
	case "MTU":
		wl.mtu = value.intValue
	case "framingbytes":
		wl.frameOverhead = value.intValue
	case "agglimit":
		wl.aggLimit = value.intValue
	case "accessdelay":
		wl.accessDelay = value.floatValue
	case "jitter":
		wl.jitter = value.floatValue
	case "trace":
		wl.trace = value.boolValue
	}
}

// paramObjName helps WirelessLink satisfy the paramObj interface
func (wl *WirelessLink) paramObjName() string {
	return wl.name
}

// paramObjType helps WirelessLink satisfy the paramObj interface
func (wl *WirelessLink) paramObjType() string {
	return "Link"
}
