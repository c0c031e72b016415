package dualq

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWDRRWeightRatio(t *testing.T) {
	dq := createTestQdisc()
	for idx := 0; idx < 100; idx++ {
		assert.True(t, dq.Enqueue(CreateQueueItem(1000, ECT1)))
		assert.True(t, dq.Enqueue(CreateQueueItem(1000, ECT0)))
	}

	// quantum 1500 with weight 9 credits 13500 bytes to L4S and 1500
	// to Classic per round; with 1000 byte items and deficit carry the
	// first four rounds deliver exactly 54 L4S and 6 Classic items
	l4sGot := 0
	classicGot := 0
	for idx := 0; idx < 60; idx++ {
		qdItem := dq.Dequeue()
		assert.NotNil(t, qdItem)
		if qdItem.ECN() == ECT1 {
			l4sGot += 1
		} else {
			classicGot += 1
		}
	}
	assert.Equal(t, 54, l4sGot)
	assert.Equal(t, 6, classicGot)
}

func TestStarvationAvoidanceClassicOnly(t *testing.T) {
	dq := createTestQdisc()
	for idx := 0; idx < 10; idx++ {
		assert.True(t, dq.Enqueue(CreateQueueItem(1000, ECT0)))
	}

	// the per-round Classic credit covers only one item, but with the
	// L4S sub-queue empty every item is released anyway
	for idx := 0; idx < 10; idx++ {
		assert.NotNil(t, dq.Dequeue())
	}
	assert.Nil(t, dq.Dequeue())
}

func TestStarvationAvoidanceL4sOnly(t *testing.T) {
	dq := createTestQdisc()
	for idx := 0; idx < 20; idx++ {
		assert.True(t, dq.Enqueue(CreateQueueItem(1400, ECT1)))
	}

	for idx := 0; idx < 20; idx++ {
		assert.NotNil(t, dq.Dequeue())
	}
	assert.Nil(t, dq.Dequeue())
}

func TestScheduleNoneWhenEmpty(t *testing.T) {
	dq := createTestQdisc()
	assert.Equal(t, noneSel, dq.schedule(true, true))
	assert.Equal(t, "None", schedClassToStr(dq.schedule(true, true)))
}

func TestCanScheduleBudget(t *testing.T) {
	dq := createTestQdisc()
	assert.True(t, dq.Enqueue(CreateQueueItem(1000, ECT0)))
	assert.True(t, dq.Enqueue(CreateQueueItem(500, ECT1)))

	// framing of 38 bytes counts against the budget
	classicOK, l4sOK := dq.canSchedule(1038)
	assert.True(t, classicOK)
	assert.True(t, l4sOK)

	classicOK, l4sOK = dq.canSchedule(600)
	assert.False(t, classicOK)
	assert.True(t, l4sOK)

	classicOK, l4sOK = dq.canSchedule(100)
	assert.False(t, classicOK)
	assert.False(t, l4sOK)
}

func TestScheduleHonorsEligibility(t *testing.T) {
	dq := createTestQdisc()
	assert.True(t, dq.Enqueue(CreateQueueItem(1000, ECT0)))
	assert.True(t, dq.Enqueue(CreateQueueItem(1000, ECT1)))

	// with Classic ineligible only L4S can be chosen
	assert.Equal(t, l4sSel, dq.schedule(false, true))
	assert.NotNil(t, dq.lq.dequeue())

	// and with L4S now empty, Classic
	assert.Equal(t, classicSel, dq.schedule(true, false))
	assert.NotNil(t, dq.cq.dequeue())
}
