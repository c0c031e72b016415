package dualq

// scheduler.go holds the weighted deficit round-robin arbiter that
// decides, at each dequeue decision point, which sub-queue yields its
// head-of-line item, and the eligibility check the pending-dequeue
// path uses to keep selections within a byte budget.

import "fmt"

// schedClass enumerates the scheduler's possible selections
type schedClass int

const (
	classicSel schedClass = iota
	l4sSel
	noneSel
)

// schedClassToStr returns a string name that corresponds to an input schedClass
func schedClassToStr(sel schedClass) string {
	switch sel {
	case classicSel:
		return "Classic"
	case l4sSel:
		return "L4S"
	default:
		return "None"
	}
}

// canSchedule reports, per class, whether the head-of-line item fits
// within the byte limit once the link's per-packet framing is added.
// The first return covers Classic, the second L4S.
func (dq *DualQueueDisc) canSchedule(byteLimit int) (bool, bool) {
	classicOK := false
	l4sOK := false
	if head := dq.cq.head(); head != nil && head.Len+dq.framingBytes <= byteLimit {
		classicOK = true
	}
	if head := dq.lq.head(); head != nil && head.Len+dq.framingBytes <= byteLimit {
		l4sOK = true
	}
	return classicOK, l4sOK
}

// schedule is the two-band weighted DRR decision.  The eligibility
// arguments say whether each class's head item is within any externally
// imposed byte limit for this call; ordinary dequeue passes both true.
// The method only selects; the chosen sub-queue must subsequently be
// dequeued from.  A new round starts whenever both active flags have
// cleared, crediting the L4S deficit with quantum*weight and the
// Classic deficit with quantum.  A class whose deficit cannot cover its
// head item loses its turn for the round, unless the other sub-queue is
// empty, in which case the item is sent anyway so nothing starves.
func (dq *DualQueueDisc) schedule(classicOK, l4sOK bool) schedClass {
	for iter := 0; iter < maxSchedIters; iter++ {
		cAvail := dq.cq.pckts() > 0 && classicOK
		lAvail := dq.lq.pckts() > 0 && l4sOK
		if !cAvail && !lAvail {
			return noneSel
		}

		// both flags clear means the previous round ended; start a new one
		if !dq.l4sActive && !dq.classicActive {
			dq.l4sActive = true
			dq.classicActive = true
			dq.l4sDeficit += int(float64(dq.quantum) * dq.weight)
			dq.classicDeficit += dq.quantum
		}

		// L4S turn
		if dq.l4sActive {
			if lAvail {
				size := dq.lq.head().Len
				if size <= dq.l4sDeficit {
					dq.l4sDeficit -= size
					return l4sSel
				}
				// out of credit; yield the rest of the round, unless
				// nothing from Classic can be sent either
				dq.l4sActive = false
				if !cAvail {
					dq.l4sDeficit = 0
					return l4sSel
				}
			} else if dq.lq.pckts() == 0 {
				dq.l4sDeficit = 0
				dq.l4sActive = false
			}
		} else if lAvail && !cAvail {
			dq.l4sDeficit = 0
			return l4sSel
		}

		// Classic turn
		if dq.classicActive {
			if cAvail {
				size := dq.cq.head().Len
				if size <= dq.classicDeficit {
					dq.classicDeficit -= size
					return classicSel
				}
				dq.classicActive = false
				if !lAvail {
					dq.classicDeficit = 0
					return classicSel
				}
			} else if dq.cq.pckts() == 0 {
				dq.classicDeficit = 0
				dq.classicActive = false
			}
		} else if cAvail && !lAvail {
			dq.classicDeficit = 0
			return classicSel
		}
	}
	panic(fmt.Errorf("queue disc %s: scheduler made no selection in %d rounds", dq.name, maxSchedIters))
}
