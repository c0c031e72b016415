package dualq

// source.go holds a packet arrival process that feeds a queue disc.
// A source generates fixed-size items of one ECN codepoint with
// interarrival times drawn from a configurable distribution, and keeps
// count of the items the queue disc refused.

import (
	"fmt"
	"math"

	"github.com/iti/evt/evtm"
	"github.com/iti/evt/vrtime"
	"github.com/iti/rngstream"
)

// arrivalDist is the signature of an interarrival sampling function:
// a uniform(0,1) sample in, the next gap in seconds out
type arrivalDist func(u01 float64, params []float64) float64

// expRV returns a sample of a exponentially distributed random number
func expRV(u01, rate float64) float64 {
	return -math.Log(1.0-u01) / rate
}

// sampleExpRV has the function signature expected for sampling a next
// interarrival time
func sampleExpRV(u01 float64, params []float64) float64 {
	return expRV(u01, params[0])
}

// sampleConst has the function signature expected for sampling a next
// interarrival time, here, a constant
func sampleConst(u01 float64, params []float64) float64 {
	return 1.0 / params[0]
}

// The PacketSource structure holds the state of one arrival process
type PacketSource struct {
	name   string
	number int

	evtMgr *evtm.EventManager
	qdisc  QueueDisc

	pcktLen int     // bytes per generated item
	ecn     ECNCode // codepoint stamped on every item
	rate    float64 // arrivals per second

	sample  arrivalDist
	rngstrm *rngstream.RngStream

	// active gates the self-rescheduling arrival event
	active bool

	// counters
	Generated int
	Refused   int
}

// CreatePacketSource is a constructor.  The distribution name selects
// how interarrival gaps are sampled, "exp" or "const"; anything else is
// fatal.  The source is idle until Start is called.
func CreatePacketSource(name string, qdisc QueueDisc, pcktLen int, ecn ECNCode, rate float64, dist string) *PacketSource {
	ps := new(PacketSource)
	ps.name = name
	ps.number = nxtID()
	ps.qdisc = qdisc
	ps.pcktLen = pcktLen
	ps.ecn = ecn
	ps.rate = rate
	ps.rngstrm = rngstream.New(name)

	switch dist {
	case "exp":
		ps.sample = sampleExpRV
	case "const":
		ps.sample = sampleConst
	default:
		panic(fmt.Errorf("source %s: unrecognized interarrival distribution %s", name, dist))
	}
	return ps
}

// SourceName returns the instance name
func (ps *PacketSource) SourceName() string {
	return ps.name
}

// Start schedules the first arrival
func (ps *PacketSource) Start(evtMgr *evtm.EventManager) {
	if ps.rate <= 0.0 {
		panic(fmt.Errorf("source %s: arrival rate must be positive", ps.name))
	}
	ps.evtMgr = evtMgr
	ps.active = true
	gap := ps.sample(ps.rngstrm.RandU01(), []float64{ps.rate})
	evtMgr.Schedule(ps, nil, pcktArrival, vrtime.SecondsToTime(gap))
}

// Stop ends the source's self-rescheduling at teardown
func (ps *PacketSource) Stop() {
	ps.active = false
}

// pcktArrival is the event handler for a packet arrival.  Its context
// is the PacketSource.  The generated item is offered to the queue
// disc, and the next arrival is scheduled.
func pcktArrival(evtMgr *evtm.EventManager, context any, data any) any {
	ps := context.(*PacketSource)
	if !ps.active {
		return nil
	}

	qdItem := CreateQueueItem(ps.pcktLen, ps.ecn)
	ps.Generated += 1
	if !ps.qdisc.Enqueue(qdItem) {
		ps.Refused += 1
	}

	gap := ps.sample(ps.rngstrm.RandU01(), []float64{ps.rate})
	evtMgr.Schedule(ps, nil, pcktArrival, vrtime.SecondsToTime(gap))
	return nil
}
