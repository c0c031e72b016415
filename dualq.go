// Package dualq implements a Dual Queue Coupled AQM (RFC 9332) queue
// discipline for discrete-event network simulations built on the
// iti/evt event manager.  Traffic is split between a low-latency L4S
// sub-queue and a Classic sub-queue; a PI-style controller couples the
// Classic congestion state into the L4S marking probability, and a
// weighted deficit round-robin scheduler arbitrates dequeues.  A
// wireless link model consumes the queue disc through a pending-dequeue
// notification so that marking stays consistent with what the link will
// actually transmit.
package dualq

// dualq.go has the capability interface queue disc variants satisfy,
// the registry that maps configuration-selected variant names to
// constructors, and module-wide id generation.

import (
	"fmt"

	"github.com/iti/evt/evtm"
)

// QueueDisc is the capability interface the link layer and traffic
// sources program against.  DualQueueDisc is the variant implemented
// here; the registry leaves room for others.
type QueueDisc interface {
	// Enqueue offers an item to the queue disc.  The return is false
	// if the item was refused (a forced drop).
	Enqueue(item *QueueItem) bool

	// Dequeue removes and returns the next item chosen by the
	// discipline, or nil if nothing is available now.
	Dequeue() *QueueItem

	// Peek returns, without removing, the earliest-available item, or
	// nil if the queue disc is empty.
	Peek() *QueueItem

	// InitializeParams finishes parameter setup once the queue disc is
	// attached to a link.  Violated protocol minimums are fatal here.
	InitializeParams()

	// CheckConfig reports a configuration the variant refuses to run with.
	CheckConfig() error
}

// QdiscBuilder constructs a queue disc variant from its configuration.
type QdiscBuilder func(evtMgr *evtm.EventManager, cfg *DualQCfg) QueueDisc

// QdiscRegistry maps variant names found in configuration files to
// constructors.  It is created and passed explicitly at composition
// time; there is no static self-registration.
type QdiscRegistry struct {
	builders map[string]QdiscBuilder
}

// CreateQdiscRegistry is a constructor for an empty registry
func CreateQdiscRegistry() *QdiscRegistry {
	reg := new(QdiscRegistry)
	reg.builders = make(map[string]QdiscBuilder)
	return reg
}

// Register binds a variant name to its constructor, refusing duplicates
func (reg *QdiscRegistry) Register(variant string, builder QdiscBuilder) {
	_, present := reg.builders[variant]
	if present {
		panic(fmt.Errorf("queue disc variant %s registered twice", variant))
	}
	reg.builders[variant] = builder
}

// Build looks up the named variant, validates its configuration, and
// constructs it.  Configuration problems are returned rather than run with.
func (reg *QdiscRegistry) Build(variant string, evtMgr *evtm.EventManager, cfg *DualQCfg) (QueueDisc, error) {
	builder, present := reg.builders[variant]
	if !present {
		return nil, fmt.Errorf("unknown queue disc variant %s", variant)
	}
	qdisc := builder(evtMgr, cfg)
	err := qdisc.CheckConfig()
	if err != nil {
		return nil, err
	}
	return qdisc, nil
}

// DefaultQdiscRegistry returns a registry holding the variants this
// module implements
func DefaultQdiscRegistry() *QdiscRegistry {
	reg := CreateQdiscRegistry()
	reg.Register("dualpi2", func(evtMgr *evtm.EventManager, cfg *DualQCfg) QueueDisc {
		return CreateDualQueueDisc(evtMgr, cfg)
	})
	return reg
}

// utility function for generating unique integer ids on demand
var numIds int = 0

// nxtID creates an id for objects created within the dualq module that
// is unique among those objects
func nxtID() int {
	numIds += 1
	return numIds
}
