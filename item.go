package dualq

// item.go holds the representation of the packet-like items carried
// through the queue disc, and the FIFO sub-queue structure that stores
// them with byte and packet accounting.

// ECNCode is the base type for the two-bit ECN codepoint carried by
// every queue item
type ECNCode int

const (
	// NotECT marks traffic from transports that do not understand ECN
	NotECT ECNCode = 0x0

	// ECT1 identifies L4S-capable transport
	ECT1 ECNCode = 0x1

	// ECT0 identifies classic ECN-capable transport
	ECT0 ECNCode = 0x2

	// CE is Congestion Experienced, set when the AQM marks an item
	CE ECNCode = 0x3
)

// ecnToStr returns a string name that corresponds to an input ECNCode
func ecnToStr(code ECNCode) string {
	switch code {
	case NotECT:
		return "NotECT"
	case ECT1:
		return "ECT(1)"
	case ECT0:
		return "ECT(0)"
	case CE:
		return "CE"
	}
	return "NotECT"
}

// ecnFromStr returns the ECNCode corresponding to a string name for it
func ecnFromStr(code string) ECNCode {
	switch code {
	case "ECT(1)", "ECT1", "ect1":
		return ECT1
	case "ECT(0)", "ECT0", "ect0":
		return ECT0
	case "CE", "ce":
		return CE
	default:
		return NotECT
	}
}

// A QueueItem is an opaque unit of data moved through the queue disc.
// The queue disc owns an item exclusively from enqueue until it is
// handed back to the caller by a dequeue; items are never shared.
type QueueItem struct {
	// Len is the size of the item in bytes
	Len int

	// EnqueueTime is the virtual time (in seconds) the item entered
	// the queue disc, used for sojourn measurement
	EnqueueTime float64

	// number is a unique integer id, generated at creation
	number int

	// ecn is the two-bit marking/capability codepoint
	ecn ECNCode
}

// CreateQueueItem is a constructor
func CreateQueueItem(size int, ecn ECNCode) *QueueItem {
	qi := new(QueueItem)
	qi.Len = size
	qi.ecn = ecn
	qi.number = nxtID()
	return qi
}

// ECN reads the item's codepoint
func (qi *QueueItem) ECN() ECNCode {
	return qi.ecn
}

// Mark sets the codepoint to Congestion Experienced.  Marking an item
// always succeeds.
func (qi *QueueItem) Mark() {
	qi.ecn = CE
}

// IsL4S reports whether the item belongs on the L4S path, true exactly
// when the codepoint is ECT(1) or CE
func (qi *QueueItem) IsL4S() bool {
	return qi.ecn == ECT1 || qi.ecn == CE
}

// ECNCapable reports whether the item's transport reacts to CE marks
func (qi *QueueItem) ECNCapable() bool {
	return qi.ecn != NotECT
}

// ItemID returns the item's unique integer id
func (qi *QueueItem) ItemID() int {
	return qi.number
}

// pcktQueue is an ordered FIFO sequence of queue items with running
// byte and packet counts
type pcktQueue struct {
	items []*QueueItem
	bytes int
}

// createPcktQueue is a constructor
func createPcktQueue() *pcktQueue {
	pq := new(pcktQueue)
	pq.items = make([]*QueueItem, 0)
	pq.bytes = 0
	return pq
}

// enqueue appends an item at the tail and bumps the byte count
func (pq *pcktQueue) enqueue(qi *QueueItem) {
	pq.items = append(pq.items, qi)
	pq.bytes += qi.Len
}

// dequeue removes (and returns) the head item, nil when empty
func (pq *pcktQueue) dequeue() *QueueItem {
	if len(pq.items) == 0 {
		return nil
	}
	var qi *QueueItem
	qi, pq.items = pq.items[0], pq.items[1:]
	pq.bytes -= qi.Len
	return qi
}

// head returns the head item without removing it, nil when empty
func (pq *pcktQueue) head() *QueueItem {
	if len(pq.items) == 0 {
		return nil
	}
	return pq.items[0]
}

// pckts returns the number of items held
func (pq *pcktQueue) pckts() int {
	return len(pq.items)
}

// nBytes returns the total bytes held
func (pq *pcktQueue) nBytes() int {
	return pq.bytes
}
