package dualq

// aqm.go holds the DualQueueDisc structure and the code for
// classification and enqueue, the coupled PI probability controller,
// the per-item marking and dropping decisions, and ordinary dequeue.

import (
	"fmt"

	"github.com/iti/evt/evtm"
	"github.com/iti/evt/vrtime"
)

// minimum MTU allowed by RFC 791
const minMTU = 68

// bound on scheduler and speculative-drain loops.  Exceeding it means
// the bookkeeping is inconsistent, not that the queue is busy.
const maxSchedIters = 1000

// ProbObserver is called after every controller update with the new
// probability values
type ProbObserver func(time float64, baseProb, coupledProb, classicProb float64)

// SojournObserver is called with the sojourn time of every item handed
// back to the caller, labeled by its class
type SojournObserver func(time float64, class string, sojourn float64)

// LinkQueue is the view the queue disc has of the downstream link
// layer it feeds
type LinkQueue interface {
	// TxStopped reports whether the link's transmit queue is stalled
	TxStopped() bool

	// LinkMTU returns the largest item the link carries, in bytes
	LinkMTU() int

	// FrameOverhead returns the per-packet framing bytes the link adds
	FrameOverhead() int
}

// The DualQueueDisc holds the complete state of one dual-queue coupled
// AQM instance: the two sub-queues, the staging queues filled by
// pending-dequeue speculation, the PI controller variables, the DRR
// scheduler credits, and the statistics counters
type DualQueueDisc struct {
	name   string
	number int
	groups []string

	evtMgr *evtm.EventManager
	link   LinkQueue

	// configured parameters
	queueLimit   int     // aggregate byte capacity
	alpha        float64 // PI proportional gain (Hz)
	beta         float64 // PI derivative gain (Hz)
	tUpdate      float64 // controller period (seconds)
	target       float64 // Classic delay target (seconds)
	minTh        float64 // L4S step marking threshold (seconds)
	disableLaqm  bool    // suppress the native L4S threshold
	k            float64 // coupling factor
	quantum      int     // DRR byte credit per round
	weight       float64 // L4S quantum multiplier
	mtu          int     // device MTU (bytes), 0 until adopted from link
	framingBytes int     // per-packet link framing overhead (bytes)
	startTime    float64 // first controller update (seconds)
	trace        bool

	// sub-queues
	cq *pcktQueue // Classic
	lq *pcktQueue // L4S

	// staging queues populated by pending-dequeue speculation
	cStage []*QueueItem
	lStage []*QueueItem

	// controller state
	baseProb       float64
	coupledProb    float64
	classicProb    float64
	prevQueueDelay float64

	// recur accumulators.  The Classic drop decision and the L4S mark
	// decision keep separate counts.
	l4sCount     float64
	classicCount float64

	// DRR scheduler state
	l4sDeficit     int
	classicDeficit int
	l4sActive      bool
	classicActive  bool

	stats *QdiscStats

	probObservers    []ProbObserver
	sojournObservers []SojournObserver

	// active gates the self-rescheduling controller event; cleared at teardown
	active      bool
	initialized bool
}

// CreateDualQueueDisc is a constructor.  It copies the configuration,
// creates the sub-queues, and schedules the first controller update.
func CreateDualQueueDisc(evtMgr *evtm.EventManager, cfg *DualQCfg) *DualQueueDisc {
	dq := new(DualQueueDisc)
	dq.name = cfg.Name
	dq.number = nxtID()
	dq.groups = cfg.Groups
	dq.evtMgr = evtMgr

	dq.queueLimit = cfg.QueueLimit
	dq.alpha = cfg.Alpha
	dq.beta = cfg.Beta
	dq.tUpdate = cfg.Tupdate
	dq.target = cfg.Target
	dq.minTh = cfg.MarkThreshold
	dq.disableLaqm = cfg.DisableLaqm
	dq.k = cfg.CouplingFactor
	dq.quantum = cfg.Quantum
	dq.weight = cfg.Weight
	dq.mtu = cfg.MTU
	dq.framingBytes = cfg.FramingBytes
	dq.startTime = cfg.StartTime
	dq.trace = cfg.Trace

	dq.cq = createPcktQueue()
	dq.lq = createPcktQueue()
	dq.cStage = make([]*QueueItem, 0)
	dq.lStage = make([]*QueueItem, 0)

	dq.stats = CreateQdiscStats()
	dq.probObservers = make([]ProbObserver, 0)
	dq.sojournObservers = make([]SojournObserver, 0)

	dq.active = true
	evtMgr.Schedule(dq, nil, piUpdate, vrtime.SecondsToTime(dq.startTime))
	return dq
}

// CheckConfig reports configurations the queue disc refuses to start with
func (dq *DualQueueDisc) CheckConfig() error {
	if dq.queueLimit <= 0 {
		return fmt.Errorf("queue disc %s: queue limit must be positive", dq.name)
	}
	if dq.tUpdate <= 0.0 {
		return fmt.Errorf("queue disc %s: update period must be positive", dq.name)
	}
	if dq.k <= 0.0 {
		return fmt.Errorf("queue disc %s: coupling factor must be positive", dq.name)
	}
	if dq.quantum <= 0 || dq.weight <= 0.0 {
		return fmt.Errorf("queue disc %s: DRR quantum and weight must be positive", dq.name)
	}
	return nil
}

// AttachLink connects the queue disc to the link layer that consumes
// it, adopting the link's MTU and framing overhead where the
// configuration left them to be auto-detected
func (dq *DualQueueDisc) AttachLink(link LinkQueue) {
	dq.link = link
	if dq.mtu == 0 {
		dq.mtu = link.LinkMTU()
	}
	if dq.framingBytes == 0 {
		dq.framingBytes = link.FrameOverhead()
	}
	dq.InitializeParams()
}

// InitializeParams finishes parameter setup.  The MTU must be known by
// now, either configured directly or adopted from an attached link; an
// MTU below the RFC 791 minimum is fatal.
func (dq *DualQueueDisc) InitializeParams() {
	if dq.mtu < minMTU {
		panic(fmt.Errorf("queue disc %s: MTU %d does not meet RFC 791 minimum", dq.name, dq.mtu))
	}
	if dq.framingBytes == 0 {
		dq.framingBytes = 38
	}
	dq.prevQueueDelay = 0.0
	dq.baseProb = 0.0
	dq.coupledProb = 0.0
	dq.classicProb = 0.0
	dq.initialized = true
}

// ensureInit lets tests and simple compositions skip the explicit
// initialization call when the MTU was configured directly
func (dq *DualQueueDisc) ensureInit() {
	if !dq.initialized {
		dq.InitializeParams()
	}
}

// Stop ends the controller's self-rescheduling at teardown
func (dq *DualQueueDisc) Stop() {
	dq.active = false
}

// QdiscName returns the instance name
func (dq *DualQueueDisc) QdiscName() string {
	return dq.name
}

// QdiscID returns the instance's unique integer id
func (dq *DualQueueDisc) QdiscID() int {
	return dq.number
}

// Stats exposes the statistics counters for analysis tooling
func (dq *DualQueueDisc) Stats() *QdiscStats {
	return dq.stats
}

// AddProbObserver subscribes a callback to controller updates
func (dq *DualQueueDisc) AddProbObserver(po ProbObserver) {
	dq.probObservers = append(dq.probObservers, po)
}

// AddSojournObserver subscribes a callback to dequeue sojourn samples
func (dq *DualQueueDisc) AddSojournObserver(so SojournObserver) {
	dq.sojournObservers = append(dq.sojournObservers, so)
}

// GetQueueSize returns the bytes held across both sub-queues
func (dq *DualQueueDisc) GetQueueSize() int {
	return dq.cq.nBytes() + dq.lq.nBytes()
}

// pcktCount returns the packets held across both sub-queues
func (dq *DualQueueDisc) pcktCount() int {
	return dq.cq.pckts() + dq.lq.pckts()
}

// SetQueueLimit changes the aggregate byte capacity
func (dq *DualQueueDisc) SetQueueLimit(lim int) {
	dq.queueLimit = lim
}

// Enqueue classifies the offered item and appends it to the tail of
// its sub-queue.  The return is false when the aggregate byte capacity
// would be exceeded; the item is then refused and counted as a forced
// drop, never stored.
func (dq *DualQueueDisc) Enqueue(item *QueueItem) bool {
	dq.ensureInit()

	if dq.GetQueueSize()+item.Len > dq.queueLimit {
		dq.stats.ForcedDrops += 1
		return false
	}

	item.EnqueueTime = dq.evtMgr.CurrentSeconds()
	if item.IsL4S() {
		dq.lq.enqueue(item)
	} else {
		dq.cq.enqueue(item)
	}
	return true
}

// piUpdate is the event handler for the periodic controller update.
// Its context is the DualQueueDisc.  It reschedules itself until the
// queue disc is stopped.
func piUpdate(evtMgr *evtm.EventManager, context any, data any) any {
	dq := context.(*DualQueueDisc)
	if !dq.active {
		return nil
	}
	dq.updateProbabilities(evtMgr.CurrentSeconds())
	evtMgr.Schedule(dq, nil, piUpdate, vrtime.SecondsToTime(dq.tUpdate))
	return nil
}

// updateProbabilities samples the Classic head-of-line delay and moves
// the base probability by the proportional and derivative terms, then
// derives the coupled and Classic-only probabilities from it
func (dq *DualQueueDisc) updateProbabilities(now float64) {
	curQ := 0.0
	if head := dq.cq.head(); head != nil {
		curQ = now - head.EnqueueTime
	}

	dq.baseProb += dq.alpha*(curQ-dq.target) + dq.beta*(curQ-dq.prevQueueDelay)
	if dq.baseProb < 0.0 {
		dq.baseProb = 0.0
	}
	if dq.baseProb > 1.0 {
		dq.baseProb = 1.0
	}

	dq.coupledProb = dq.baseProb * dq.k
	if dq.coupledProb > 1.0 {
		dq.coupledProb = 1.0
	}
	dq.classicProb = dq.baseProb * dq.baseProb
	dq.prevQueueDelay = curQ

	for _, po := range dq.probObservers {
		po(now, dq.baseProb, dq.coupledProb, dq.classicProb)
	}
}

// recur converts a real-valued likelihood into a deterministic
// true/false sequence whose long-run frequency equals the likelihood.
// The accumulate-and-subtract semantics are load-bearing: simulation
// runs must reproduce exactly, so no random source is consulted.
func recur(count *float64, likelihood float64) bool {
	*count += likelihood
	if *count > 1.0 {
		*count -= 1.0
		return true
	}
	return false
}

// laqm is the native L4S step function: probability 1 when the item
// has waited longer than the marking threshold, else 0.  Configurations
// with DisableLaqm rely on the coupled probability alone.
func (dq *DualQueueDisc) laqm(sojourn float64) float64 {
	if dq.disableLaqm {
		return 0.0
	}
	if sojourn > dq.minTh {
		return 1.0
	}
	return 0.0
}

// dequeueFromL4sQueue pops the L4S head item and applies the marking
// decision: the larger of the native step probability and the coupled
// probability, fed through the L4S recur counter.  L4S items are
// marked, never dropped.  The second return reports whether the item
// was marked.
func (dq *DualQueueDisc) dequeueFromL4sQueue() (*QueueItem, bool) {
	qdItem := dq.lq.dequeue()
	if qdItem == nil {
		return nil, false
	}

	now := dq.evtMgr.CurrentSeconds()
	pPrimeL := dq.laqm(now - qdItem.EnqueueTime)
	pL := pPrimeL
	if dq.coupledProb > pL {
		pL = dq.coupledProb
	}
	if pL > 1.0 {
		pL = 1.0
	}

	marked := false
	if recur(&dq.l4sCount, pL) {
		qdItem.Mark()
		dq.stats.UnforcedL4sMarks += 1
		marked = true
	}
	return qdItem, marked
}

// dequeueFromClassicQueue pops the Classic head item and applies the
// drop/mark decision against the squared base probability through the
// Classic recur counter.  ECN-capable items are marked and returned;
// others are dropped and the next head is tested in turn.  A nearly
// empty sub-queue (under two MTUs) is exempt.  The second return
// reports whether an item was dropped along the way.
func (dq *DualQueueDisc) dequeueFromClassicQueue() (*QueueItem, bool) {
	qdItem := dq.cq.dequeue()
	if qdItem == nil {
		return nil, false
	}

	// heuristic from the Linux implementation; never drop when less
	// than 2 MTU remains queued
	if dq.cq.nBytes() < 2*dq.mtu {
		return qdItem, false
	}

	dropped := false
	for qdItem != nil {
		if recur(&dq.classicCount, dq.classicProb) {
			if qdItem.ECNCapable() {
				qdItem.Mark()
				dq.stats.UnforcedClassicMarks += 1
				return qdItem, dropped
			}
			dq.stats.UnforcedClassicDrops += 1
			dropped = true
			qdItem = dq.cq.dequeue()
			continue
		}
		return qdItem, dropped
	}
	return nil, dropped
}

// Dequeue returns the next item the discipline releases: staged L4S
// items first, then staged Classic items, and otherwise whatever the
// scheduler selects from the live sub-queues.  A nil return means
// nothing is available now.
func (dq *DualQueueDisc) Dequeue() *QueueItem {
	dq.ensureInit()

	if qdItem := dq.popL4sStaging(); qdItem != nil {
		// staged items already carry their marking decision
		dq.recordSojourn(qdItem, "L4S")
		return qdItem
	}
	if qdItem := dq.popClassicStaging(); qdItem != nil {
		dq.recordSojourn(qdItem, "Classic")
		return qdItem
	}

	for dq.GetQueueSize() > 0 {
		switch dq.schedule(true, true) {
		case l4sSel:
			qdItem, _ := dq.dequeueFromL4sQueue()
			dq.recordSojourn(qdItem, "L4S")
			return qdItem
		case classicSel:
			// the Classic path can consume the whole sub-queue by
			// dropping, so the result may be nil
			qdItem, _ := dq.dequeueFromClassicQueue()
			if qdItem != nil {
				dq.recordSojourn(qdItem, "Classic")
			}
			return qdItem
		default:
			return nil
		}
	}
	return nil
}

// Peek returns without removing the earliest-available item, checking
// the Classic sub-queue ahead of the L4S sub-queue.  This fixed order
// is a peek-only simplification; the scheduler makes the real choice
// at dequeue time.
func (dq *DualQueueDisc) Peek() *QueueItem {
	if qdItem := dq.cq.head(); qdItem != nil {
		return qdItem
	}
	return dq.lq.head()
}

// recordSojourn samples the queueing delay of an item leaving the
// queue disc and publishes it to subscribers
func (dq *DualQueueDisc) recordSojourn(qdItem *QueueItem, class string) {
	now := dq.evtMgr.CurrentSeconds()
	sojourn := now - qdItem.EnqueueTime
	dq.stats.AddSojourn(class, sojourn)
	for _, so := range dq.sojournObservers {
		so(now, class, sojourn)
	}
}

// matchParam helps DualQueueDisc satisfy the paramObj interface,
// testing the attributes run-time configuration can select on
func (dq *DualQueueDisc) matchParam(attrbName, attrbValue string) bool {
	switch attrbName {
	case "name":
		return dq.name == attrbValue
	case "group":
		return matchGroups(dq.groups, attrbValue)
	}

	// an error really, as we should match only the names given in the switch statement above
	return false
}

// setParam assigns the parameter named in input with the value given in the input.
// setParam's definition here helps DualQueueDisc satisfy the paramObj interface.
func (dq *DualQueueDisc) setParam(param string, value valueStruct) {
	switch param {
	case "queuelimit":
		dq.queueLimit = value.intValue
	case "alpha":
		dq.alpha = value.floatValue
	case "beta":
		dq.beta = value.floatValue
	case "tupdate":
		dq.tUpdate = value.floatValue
	case "target":
		dq.target = value.floatValue
	case "markthreshold":
		dq.minTh = value.floatValue
	case "disablelaqm":
		dq.disableLaqm = value.boolValue
	case "couplingfactor":
		dq.k = value.floatValue
	case "quantum":
		dq.quantum = value.intValue
	case "weight":
		dq.weight = value.floatValue
	case "MTU":
		dq.mtu = value.intValue
	case "framingbytes":
		dq.framingBytes = value.intValue
	case "trace":
		dq.trace = value.boolValue
	}
}

// paramObjName helps DualQueueDisc satisfy the paramObj interface
func (dq *DualQueueDisc) paramObjName() string {
	return dq.name
}

// paramObjType helps DualQueueDisc satisfy the paramObj interface
func (dq *DualQueueDisc) paramObjType() string {
	return "Qdisc"
}
