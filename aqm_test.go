package dualq

import (
	"math"
	"testing"

	"github.com/iti/evt/evtm"
	"github.com/stretchr/testify/assert"
)

// createTestQdisc builds a queue disc with directly configured MTU and
// framing so that tests do not need an attached link
func createTestQdisc() *DualQueueDisc {
	evtMgr := evtm.New()
	cfg := CreateDualQCfg("qd-test")
	cfg.MTU = 1500
	cfg.FramingBytes = 38
	dq := CreateDualQueueDisc(evtMgr, cfg)
	dq.InitializeParams()
	return dq
}

func TestEnqueueDequeueBothClasses(t *testing.T) {
	dq := createTestQdisc()

	classic := make([]*QueueItem, 0)
	l4s := make([]*QueueItem, 0)
	for idx := 0; idx < 4; idx++ {
		ci := CreateQueueItem(1000, ECT0)
		li := CreateQueueItem(1000, ECT1)
		assert.True(t, dq.Enqueue(ci))
		assert.True(t, dq.Enqueue(li))
		classic = append(classic, ci)
		l4s = append(l4s, li)
	}
	assert.Equal(t, 8000, dq.GetQueueSize())
	assert.Equal(t, 8, dq.pcktCount())

	// all probabilities are zero, so every item comes back unmolested,
	// in FIFO order within its class
	gotClassic := make([]*QueueItem, 0)
	gotL4s := make([]*QueueItem, 0)
	for idx := 0; idx < 8; idx++ {
		qdItem := dq.Dequeue()
		assert.NotNil(t, qdItem)
		if qdItem.ECN() == ECT0 {
			gotClassic = append(gotClassic, qdItem)
		} else {
			gotL4s = append(gotL4s, qdItem)
		}
	}
	assert.Equal(t, classic, gotClassic)
	assert.Equal(t, l4s, gotL4s)

	assert.Equal(t, 0, dq.GetQueueSize())
	assert.Nil(t, dq.Dequeue())
	assert.Equal(t, 0, dq.stats.ForcedDrops)
}

func TestAggregateCapacity(t *testing.T) {
	dq := createTestQdisc()
	dq.SetQueueLimit(2500)

	assert.True(t, dq.Enqueue(CreateQueueItem(1000, ECT0)))
	assert.True(t, dq.Enqueue(CreateQueueItem(1000, ECT1)))

	// the limit binds across both sub-queues
	assert.False(t, dq.Enqueue(CreateQueueItem(1000, ECT1)))
	assert.Equal(t, 1, dq.stats.ForcedDrops)
	assert.Equal(t, 2000, dq.GetQueueSize())

	// a smaller item still fits
	assert.True(t, dq.Enqueue(CreateQueueItem(400, NotECT)))
	assert.Equal(t, 2400, dq.GetQueueSize())
}

func TestPeekOrder(t *testing.T) {
	dq := createTestQdisc()
	assert.Nil(t, dq.Peek())

	li := CreateQueueItem(1000, ECT1)
	assert.True(t, dq.Enqueue(li))
	assert.Same(t, li, dq.Peek())

	// Classic is consulted ahead of L4S
	ci := CreateQueueItem(1000, ECT0)
	assert.True(t, dq.Enqueue(ci))
	assert.Same(t, ci, dq.Peek())
	assert.Equal(t, 2, dq.pcktCount())
}

func TestControllerTracksDelay(t *testing.T) {
	dq := createTestQdisc()

	qdItem := CreateQueueItem(1000, ECT0)
	assert.True(t, dq.Enqueue(qdItem))

	// a head-of-line delay of 35 ms against the 15 ms target, with
	// alpha 0.15 and beta 3, moves the base probability by
	// 0.15*0.020 + 3*0.035
	qdItem.EnqueueTime = -0.035
	dq.updateProbabilities(0.0)
	assert.InDelta(t, 0.108, dq.baseProb, 1e-9)
	assert.InDelta(t, 0.035, dq.prevQueueDelay, 1e-9)
	assert.InDelta(t, 0.216, dq.coupledProb, 1e-9)
	assert.InDelta(t, 0.108*0.108, dq.classicProb, 1e-9)

	// same delay again: the derivative term contributes nothing
	dq.updateProbabilities(0.0)
	assert.InDelta(t, 0.111, dq.baseProb, 1e-9)
}

func TestControllerClamps(t *testing.T) {
	dq := createTestQdisc()

	// an absurd head-of-line delay saturates everything at 1
	qdItem := CreateQueueItem(1000, ECT0)
	assert.True(t, dq.Enqueue(qdItem))
	qdItem.EnqueueTime = -100.0
	dq.updateProbabilities(0.0)
	assert.Equal(t, 1.0, dq.baseProb)
	assert.Equal(t, 1.0, dq.coupledProb)
	assert.Equal(t, 1.0, dq.classicProb)

	// an empty Classic sub-queue samples zero delay and the
	// probability decays, clamped at 0
	empty := createTestQdisc()
	for idx := 0; idx < 10; idx++ {
		empty.updateProbabilities(float64(idx) * 0.015)
		assert.Equal(t, 0.0, empty.baseProb)
		assert.Equal(t, 0.0, empty.coupledProb)
		assert.Equal(t, 0.0, empty.classicProb)
	}

	// the clamps hold across an erratic delay sequence
	erratic := createTestQdisc()
	head := CreateQueueItem(1000, ECT0)
	assert.True(t, erratic.Enqueue(head))
	for idx, delay := range []float64{0.0, 5.0, 0.001, 40.0, 0.0, 0.3, 12.0, 0.0} {
		head.EnqueueTime = -delay
		erratic.updateProbabilities(float64(idx) * 0.015)
		assert.GreaterOrEqual(t, erratic.baseProb, 0.0)
		assert.LessOrEqual(t, erratic.baseProb, 1.0)
		assert.LessOrEqual(t, erratic.coupledProb, 1.0)
		assert.LessOrEqual(t, erratic.classicProb, 1.0)
		assert.GreaterOrEqual(t, erratic.classicProb, 0.0)
	}
}

func TestRecurFrequency(t *testing.T) {
	count := 0.0
	fired := 0
	trials := 10000
	likelihood := 0.3
	for idx := 0; idx < trials; idx++ {
		if recur(&count, likelihood) {
			fired += 1
		}
		assert.GreaterOrEqual(t, count, 0.0)
		assert.LessOrEqual(t, count, 1.0)
	}
	expected := int(math.Floor(likelihood * float64(trials)))
	assert.InDelta(t, float64(expected), float64(fired), 1.0)
}

func TestL4sMarkNeverDrop(t *testing.T) {
	dq := createTestQdisc()
	for idx := 0; idx < 3; idx++ {
		assert.True(t, dq.Enqueue(CreateQueueItem(1000, ECT1)))
	}
	dq.coupledProb = 1.0

	// the recur counter accumulates before it fires, so the first
	// item at likelihood 1 passes unmarked and every later one is marked
	first, marked := dq.dequeueFromL4sQueue()
	assert.NotNil(t, first)
	assert.False(t, marked)
	assert.Equal(t, ECT1, first.ECN())

	for idx := 0; idx < 2; idx++ {
		qdItem, marked := dq.dequeueFromL4sQueue()
		assert.NotNil(t, qdItem)
		assert.True(t, marked)
		assert.Equal(t, CE, qdItem.ECN())
	}
	assert.Equal(t, 2, dq.stats.UnforcedL4sMarks)
	assert.Equal(t, 0, dq.stats.UnforcedClassicDrops)
}

func TestLaqmThreshold(t *testing.T) {
	dq := createTestQdisc()
	qdItem := CreateQueueItem(1000, ECT1)
	assert.True(t, dq.Enqueue(qdItem))

	// 1 ms sojourn exceeds the 475 us threshold; prime the recur
	// counter so the step fires on this item
	qdItem.EnqueueTime = -0.001
	dq.l4sCount = 0.5
	got, marked := dq.dequeueFromL4sQueue()
	assert.Same(t, qdItem, got)
	assert.True(t, marked)
	assert.Equal(t, CE, got.ECN())
}

func TestDisableLaqm(t *testing.T) {
	evtMgr := evtm.New()
	cfg := CreateDualQCfg("qd-nolaqm")
	cfg.MTU = 1500
	cfg.DisableLaqm = true
	dq := CreateDualQueueDisc(evtMgr, cfg)
	dq.InitializeParams()

	qdItem := CreateQueueItem(1000, ECT1)
	assert.True(t, dq.Enqueue(qdItem))
	qdItem.EnqueueTime = -0.001
	dq.l4sCount = 0.5

	// with the native step suppressed and no coupled probability,
	// nothing marks
	got, marked := dq.dequeueFromL4sQueue()
	assert.Same(t, qdItem, got)
	assert.False(t, marked)
	assert.Equal(t, ECT1, got.ECN())
}

func TestClassicTwoMTUExemption(t *testing.T) {
	dq := createTestQdisc()
	assert.True(t, dq.Enqueue(CreateQueueItem(1000, ECT0)))
	assert.True(t, dq.Enqueue(CreateQueueItem(1000, ECT0)))

	// only 1000 bytes remain after the pop, under 2 MTU, so the drop
	// logic is bypassed even at probability 1
	dq.classicProb = 1.0
	dq.classicCount = 0.9
	qdItem, dropped := dq.dequeueFromClassicQueue()
	assert.NotNil(t, qdItem)
	assert.False(t, dropped)
	assert.Equal(t, ECT0, qdItem.ECN())
	assert.Equal(t, 0, dq.stats.UnforcedClassicDrops)
	assert.Equal(t, 0, dq.stats.UnforcedClassicMarks)
}

func TestClassicDropLoop(t *testing.T) {
	dq := createTestQdisc()
	for idx := 0; idx < 5; idx++ {
		assert.True(t, dq.Enqueue(CreateQueueItem(1500, NotECT)))
	}

	// at probability 1 with a primed counter every non-ECN item drops,
	// exhausting the sub-queue
	dq.classicProb = 1.0
	dq.classicCount = 0.9
	qdItem, dropped := dq.dequeueFromClassicQueue()
	assert.Nil(t, qdItem)
	assert.True(t, dropped)
	assert.Equal(t, 5, dq.stats.UnforcedClassicDrops)
	assert.Equal(t, 0, dq.cq.pckts())
}

func TestClassicECNMark(t *testing.T) {
	dq := createTestQdisc()
	for idx := 0; idx < 5; idx++ {
		assert.True(t, dq.Enqueue(CreateQueueItem(1500, ECT0)))
	}

	// an ECN-capable Classic item is marked and delivered instead of dropped
	dq.classicProb = 1.0
	dq.classicCount = 0.9
	qdItem, dropped := dq.dequeueFromClassicQueue()
	assert.NotNil(t, qdItem)
	assert.False(t, dropped)
	assert.Equal(t, CE, qdItem.ECN())
	assert.Equal(t, 1, dq.stats.UnforcedClassicMarks)
	assert.Equal(t, 0, dq.stats.UnforcedClassicDrops)
}

func TestInitializeRejectsTinyMTU(t *testing.T) {
	evtMgr := evtm.New()
	cfg := CreateDualQCfg("qd-tiny")
	cfg.MTU = 40
	dq := CreateDualQueueDisc(evtMgr, cfg)
	assert.Panics(t, func() { dq.InitializeParams() })
}

func TestCheckConfig(t *testing.T) {
	evtMgr := evtm.New()
	cfg := CreateDualQCfg("qd-bad")
	cfg.MTU = 1500
	dq := CreateDualQueueDisc(evtMgr, cfg)
	assert.NoError(t, dq.CheckConfig())

	dq.SetQueueLimit(0)
	assert.Error(t, dq.CheckConfig())
}
