package dualq

// pending.go holds the staging queues and the reaction to the link
// layer's pending-dequeue notification.  When the link reports it is
// about to consume more bytes than the queue disc holds, the queue disc
// runs the scheduler and the marking logic ahead of the actual
// dequeues, parks the results in per-class staging queues, and then
// corrects any under-marking so congestion signaling keeps pace with
// the burst the link is about to drain.

import "fmt"

// addToL4sStagingQueue parks a speculatively dequeued L4S item
func (dq *DualQueueDisc) addToL4sStagingQueue(qdItem *QueueItem) {
	if qdItem == nil {
		panic(fmt.Errorf("queue disc %s: nil item offered to L4S staging queue", dq.name))
	}
	dq.lStage = append(dq.lStage, qdItem)
}

// addToClassicStagingQueue parks a speculatively dequeued Classic item
func (dq *DualQueueDisc) addToClassicStagingQueue(qdItem *QueueItem) {
	if qdItem == nil {
		panic(fmt.Errorf("queue disc %s: nil item offered to Classic staging queue", dq.name))
	}
	dq.cStage = append(dq.cStage, qdItem)
}

// popL4sStaging removes and returns the head of the L4S staging queue,
// nil when empty
func (dq *DualQueueDisc) popL4sStaging() *QueueItem {
	if len(dq.lStage) == 0 {
		return nil
	}
	var qdItem *QueueItem
	qdItem, dq.lStage = dq.lStage[0], dq.lStage[1:]
	return qdItem
}

// popClassicStaging removes and returns the head of the Classic staging
// queue, nil when empty
func (dq *DualQueueDisc) popClassicStaging() *QueueItem {
	if len(dq.cStage) == 0 {
		return nil
	}
	var qdItem *QueueItem
	qdItem, dq.cStage = dq.cStage[0], dq.cStage[1:]
	return qdItem
}

// stagedL4s returns the number of items in the L4S staging queue
func (dq *DualQueueDisc) stagedL4s() int {
	return len(dq.lStage)
}

// stagedClassic returns the number of items in the Classic staging queue
func (dq *DualQueueDisc) stagedClassic() int {
	return len(dq.cStage)
}

// OnPendingDequeue reacts to the link layer's report that newBytes of
// framed capacity are about to be consumed.  The call does nothing
// unless the link's transmit queue is currently stalled, or when the
// bytes already held (plus framing) cover the report.  Otherwise the
// scheduler and marking logic run speculatively: items move to the
// staging queues with their decisions applied, and afterwards any
// shortfall in L4S marks relative to the packets still waiting in the
// L4S sub-queue is made up by retroactively marking eligible staged
// items in order.
func (dq *DualQueueDisc) OnPendingDequeue(oldBytes, newBytes int) {
	dq.ensureInit()

	if dq.link == nil || !dq.link.TxStopped() {
		return
	}

	// what downstream framing will consume for everything held here
	queueDiscPending := dq.GetQueueSize() + dq.framingBytes*dq.pcktCount()
	if newBytes <= queueDiscPending {
		// the link already knows about enough bytes
		return
	}

	remaining := newBytes
	markedCount := 0
	for iter := 0; ; iter++ {
		if iter >= maxSchedIters {
			panic(fmt.Errorf("queue disc %s: pending-dequeue drain made no progress in %d rounds",
				dq.name, maxSchedIters))
		}
		classicOK, l4sOK := dq.canSchedule(remaining)
		if !classicOK && !l4sOK {
			break
		}
		selected := dq.schedule(classicOK, l4sOK)
		if selected == l4sSel {
			qdItem, marked := dq.dequeueFromL4sQueue()
			dq.addToL4sStagingQueue(qdItem)
			remaining -= qdItem.Len + dq.framingBytes
			if marked {
				markedCount += 1
			}
		} else if selected == classicSel {
			// the Classic decision may drop its way through the
			// sub-queue and come back empty handed
			qdItem, _ := dq.dequeueFromClassicQueue()
			if qdItem != nil {
				dq.addToClassicStagingQueue(qdItem)
				remaining -= qdItem.Len + dq.framingBytes
			}
		} else {
			break
		}
	}

	dq.reconcileStagedMarks(markedCount)
}

// reconcileStagedMarks corrects under-marking after a speculative
// drain that marked markedCount items.  If more L4S packets remain
// queued than were marked, probabilistic marking under-signaled for
// the drain the link is about to perform; the difference is made up by
// marking eligible items in the L4S staging queue, oldest first.
func (dq *DualQueueDisc) reconcileStagedMarks(markedCount int) {
	if dq.lq.pckts() <= markedCount {
		return
	}
	pendingMarks := dq.lq.pckts() - markedCount
	for _, qdItem := range dq.lStage {
		if pendingMarks == 0 {
			break
		}
		if qdItem.ECN() == ECT1 {
			qdItem.Mark()
			dq.stats.UnforcedL4sMarks += 1
			pendingMarks -= 1
		}
	}
}
