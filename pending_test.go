package dualq

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// stubLink stands in for the link layer in pending-dequeue tests
type stubLink struct {
	stopped  bool
	mtu      int
	overhead int
}

func (sl *stubLink) TxStopped() bool {
	return sl.stopped
}

func (sl *stubLink) LinkMTU() int {
	return sl.mtu
}

func (sl *stubLink) FrameOverhead() int {
	return sl.overhead
}

func createStalledQdisc() (*DualQueueDisc, *stubLink) {
	dq := createTestQdisc()
	sl := &stubLink{stopped: true, mtu: 1500, overhead: 38}
	dq.AttachLink(sl)
	return dq, sl
}

func TestPendingNoopWithoutStall(t *testing.T) {
	dq, sl := createStalledQdisc()
	sl.stopped = false

	assert.True(t, dq.Enqueue(CreateQueueItem(1000, ECT1)))
	dq.OnPendingDequeue(0, 100000)
	assert.Equal(t, 0, dq.stagedL4s())
	assert.Equal(t, 0, dq.stagedClassic())
	assert.Equal(t, 1000, dq.GetQueueSize())
}

func TestPendingEarlyReturn(t *testing.T) {
	dq, _ := createStalledQdisc()
	for idx := 0; idx < 4; idx++ {
		assert.True(t, dq.Enqueue(CreateQueueItem(1000, ECT1)))
	}

	// 4000 bytes held plus 4*38 framing is 4152; a report at or below
	// that needs no speculative work
	dq.OnPendingDequeue(0, 4152)
	assert.Equal(t, 0, dq.stagedL4s())
	assert.Equal(t, 4, dq.lq.pckts())

	dq.OnPendingDequeue(0, 4000)
	assert.Equal(t, 0, dq.stagedL4s())
}

func TestPendingDrainStages(t *testing.T) {
	dq, _ := createStalledQdisc()
	l4sIn := make([]*QueueItem, 0)
	classicIn := make([]*QueueItem, 0)
	for idx := 0; idx < 2; idx++ {
		li := CreateQueueItem(1000, ECT1)
		ci := CreateQueueItem(1000, ECT0)
		assert.True(t, dq.Enqueue(li))
		assert.True(t, dq.Enqueue(ci))
		l4sIn = append(l4sIn, li)
		classicIn = append(classicIn, ci)
	}

	dq.OnPendingDequeue(0, 5000)
	assert.Equal(t, 2, dq.stagedL4s())
	assert.Equal(t, 2, dq.stagedClassic())
	assert.Equal(t, 0, dq.GetQueueSize())

	// subsequent dequeues drain the staging queues ahead of fresh
	// scheduling, L4S first, FIFO within class
	assert.Same(t, l4sIn[0], dq.Dequeue())
	assert.Same(t, l4sIn[1], dq.Dequeue())
	assert.Same(t, classicIn[0], dq.Dequeue())
	assert.Same(t, classicIn[1], dq.Dequeue())
	assert.Nil(t, dq.Dequeue())
}

func TestPendingMarksDuringDrain(t *testing.T) {
	dq, _ := createStalledQdisc()
	for idx := 0; idx < 3; idx++ {
		assert.True(t, dq.Enqueue(CreateQueueItem(1000, ECT1)))
	}

	dq.coupledProb = 1.0
	dq.OnPendingDequeue(0, 4000)
	assert.Equal(t, 3, dq.stagedL4s())
	assert.Equal(t, 2, dq.stats.UnforcedL4sMarks)

	// the recur counter passes the first item through unmarked
	assert.Equal(t, ECT1, dq.lStage[0].ECN())
	assert.Equal(t, CE, dq.lStage[1].ECN())
	assert.Equal(t, CE, dq.lStage[2].ECN())
}

func TestReconcileStagedMarks(t *testing.T) {
	dq, _ := createStalledQdisc()

	// an already marked staged item is not eligible for reconciliation
	staged := []*QueueItem{
		CreateQueueItem(1000, CE),
		CreateQueueItem(1000, ECT1),
		CreateQueueItem(1000, ECT1),
		CreateQueueItem(1000, ECT1),
	}
	for _, qdItem := range staged {
		dq.addToL4sStagingQueue(qdItem)
	}
	assert.True(t, dq.Enqueue(CreateQueueItem(1000, ECT1)))
	assert.True(t, dq.Enqueue(CreateQueueItem(1000, ECT1)))

	// two L4S packets remain queued against zero marks, so the first
	// two eligible staged items are retroactively marked
	dq.reconcileStagedMarks(0)
	assert.Equal(t, CE, staged[0].ECN())
	assert.Equal(t, CE, staged[1].ECN())
	assert.Equal(t, CE, staged[2].ECN())
	assert.Equal(t, ECT1, staged[3].ECN())
	assert.Equal(t, 2, dq.stats.UnforcedL4sMarks)

	// enough marks already: nothing more happens
	dq.reconcileStagedMarks(5)
	assert.Equal(t, ECT1, staged[3].ECN())
	assert.Equal(t, 2, dq.stats.UnforcedL4sMarks)
}

func TestPendingClassicDropsDuringDrain(t *testing.T) {
	dq, _ := createStalledQdisc()
	for idx := 0; idx < 5; idx++ {
		assert.True(t, dq.Enqueue(CreateQueueItem(1500, NotECT)))
	}

	dq.classicProb = 1.0
	dq.classicCount = 0.9
	dq.OnPendingDequeue(0, 10000)

	// the first Classic selection drops its way through the whole
	// sub-queue, so nothing stages
	assert.Equal(t, 0, dq.stagedClassic())
	assert.Equal(t, 5, dq.stats.UnforcedClassicDrops)
	assert.Equal(t, 0, dq.GetQueueSize())
}

func TestStagingRejectsNil(t *testing.T) {
	dq := createTestQdisc()
	assert.Panics(t, func() { dq.addToL4sStagingQueue(nil) })
	assert.Panics(t, func() { dq.addToClassicStagingQueue(nil) })
}
