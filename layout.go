// Package nebulaid - layout.go provides the configurable bit allocation for
// Snowflake IDs.
//
// The 63 usable bits (64 minus the reserved sign bit) are split between a
// millisecond timestamp, a datacenter ID, a worker ID, and a per-millisecond
// sequence. All shifts and masks are pre-calculated at generator creation so
// the hot path pays nothing for configurability.

package nebulaid

import "fmt"

// Layout defines how the 63 usable bits of a Snowflake ID are allocated.
//
// The sum of all four fields must equal 63. Each field trades off against the
// others: more timestamp bits extend the ID lifespan, more worker bits allow
// larger clusters, more sequence bits raise per-node throughput.
type Layout struct {
	// TimestampBits holds milliseconds since the custom epoch.
	// 41 bits gives ~69 years.
	TimestampBits int

	// DatacenterBits partitions the ID space between datacenters.
	DatacenterBits int

	// WorkerBits partitions the ID space between nodes within a datacenter.
	WorkerBits int

	// SequenceBits counts IDs issued within one millisecond per node.
	SequenceBits int
}

// LayoutDefault is the standard layout: ~69 years of lifespan, 8 datacenters,
// 256 workers per datacenter, 2048 IDs per millisecond per worker.
var LayoutDefault = Layout{
	TimestampBits:  41,
	DatacenterBits: 3,
	WorkerBits:     8,
	SequenceBits:   11,
}

// LayoutHighThroughput trades datacenter width for sequence depth: a single
// datacenter, 1024 workers, 4096 IDs per millisecond per worker.
var LayoutHighThroughput = Layout{
	TimestampBits:  41,
	DatacenterBits: 0,
	WorkerBits:     10,
	SequenceBits:   12,
}

// Validate checks the layout constraints.
func (l Layout) Validate() error {
	sum := l.TimestampBits + l.DatacenterBits + l.WorkerBits + l.SequenceBits
	if sum != 63 {
		return newConfigError(
			"Layout",
			fmt.Sprintf("%d+%d+%d+%d", l.TimestampBits, l.DatacenterBits, l.WorkerBits, l.SequenceBits),
			"bit fields must sum to 63",
			"timestamp + datacenter + worker + sequence == 63",
		)
	}
	if l.TimestampBits < 38 || l.TimestampBits > 45 {
		return newConfigError("Layout.TimestampBits", fmt.Sprintf("%d", l.TimestampBits),
			"out of range", "38-45 bits (8.7 to 1100 years)")
	}
	if l.DatacenterBits < 0 || l.DatacenterBits > 8 {
		return newConfigError("Layout.DatacenterBits", fmt.Sprintf("%d", l.DatacenterBits),
			"out of range", "0-8 bits")
	}
	if l.WorkerBits < 4 || l.WorkerBits > 16 {
		return newConfigError("Layout.WorkerBits", fmt.Sprintf("%d", l.WorkerBits),
			"out of range", "4-16 bits (16 to 65536 workers)")
	}
	if l.SequenceBits < 6 || l.SequenceBits > 14 {
		return newConfigError("Layout.SequenceBits", fmt.Sprintf("%d", l.SequenceBits),
			"out of range", "6-14 bits (64 to 16384 IDs per ms)")
	}
	return nil
}

// isZero reports whether the layout was left unset, so configuration can
// default it to LayoutDefault.
func (l Layout) isZero() bool {
	return l.TimestampBits == 0 && l.DatacenterBits == 0 &&
		l.WorkerBits == 0 && l.SequenceBits == 0
}

// MaxDatacenterID returns the largest valid datacenter ID for this layout.
func (l Layout) MaxDatacenterID() int64 {
	return (1 << l.DatacenterBits) - 1
}

// MaxWorkerID returns the largest valid worker ID for this layout.
func (l Layout) MaxWorkerID() int64 {
	return (1 << l.WorkerBits) - 1
}

// MaxSequence returns the largest sequence value for this layout.
func (l Layout) MaxSequence() int64 {
	return (1 << l.SequenceBits) - 1
}

// shifts returns the pre-calculated field offsets.
func (l Layout) shifts() (tsShift, dcShift, workerShift int) {
	workerShift = l.SequenceBits
	dcShift = l.SequenceBits + l.WorkerBits
	tsShift = l.SequenceBits + l.WorkerBits + l.DatacenterBits
	return
}

// Compose packs the four fields into a single 63-bit ID.
func (l Layout) Compose(timestamp, dcID, workerID, sequence int64) int64 {
	tsShift, dcShift, workerShift := l.shifts()
	return timestamp<<tsShift | dcID<<dcShift | workerID<<workerShift | sequence
}

// Components unpacks an ID into its timestamp (relative to the epoch),
// datacenter ID, worker ID, and sequence.
func (l Layout) Components(id int64) (timestamp, dcID, workerID, sequence int64) {
	tsShift, dcShift, workerShift := l.shifts()
	timestamp = id >> tsShift
	dcID = (id >> dcShift) & l.MaxDatacenterID()
	workerID = (id >> workerShift) & l.MaxWorkerID()
	sequence = id & l.MaxSequence()
	return
}
