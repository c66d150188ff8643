// Package proposal tracks the admin operations of a partition that conflict with normal writes.
//
// While a boundary change (split) is being proposed, any write proposed after it would be built
// against an epoch that is about to become stale. Such writes are parked in the control instead of
// being rejected and are handed back once the boundary change is resolved. While a merge is
// pending or running, writes are rejected outright with a retryable error.
//
// A Control belongs to one partition goroutine and is not safe for concurrent use.
package proposal

import (
	"fmt"

	"github.com/ValentinKolb/pKV/lib/partition"
	"github.com/ValentinKolb/pKV/lib/write"
)

// ConflictKind names what a deferred write waits for.
type ConflictKind uint8

const (
	ConflictNone ConflictKind = iota
	ConflictBoundaryChange
)

func (k ConflictKind) String() string {
	switch k {
	case ConflictNone:
		return "None"
	case ConflictBoundaryChange:
		return "BoundaryChange"
	default:
		return fmt.Sprintf("Unknown(%d)", uint8(k))
	}
}

// Conflict is returned by CheckConflict while writes must wait.
type Conflict struct {
	Kind ConflictKind
	// Epoch is the epoch the partition had when the conflicting operation started.
	Epoch partition.Epoch
}

// Deferred is a validated write parked until a conflict clears.
type Deferred struct {
	Header write.Header
	Ops    []write.Op
	Ch     *write.ResponseChannel
}

// Control holds the conflict marker, the merge state and the deferred writes of a partition.
type Control struct {
	partitionID  uint64
	epoch        partition.Epoch
	conflict     ConflictKind
	prepareMerge bool
	merging      bool
	deferred     []Deferred
}

// NewControl creates a control for a partition with the given current epoch.
func NewControl(partitionID uint64, epoch partition.Epoch) *Control {
	return &Control{partitionID: partitionID, epoch: epoch}
}

// CheckConflict returns the active conflict, or nil if a write may be proposed now.
func (c *Control) CheckConflict() *Conflict {
	if c.conflict == ConflictNone {
		return nil
	}
	return &Conflict{Kind: c.conflict, Epoch: c.epoch}
}

// Defer parks a write until the current conflict is resolved.
func (c *Control) Defer(d Deferred) {
	c.deferred = append(c.deferred, d)
}

// NumDeferred returns the number of parked writes.
func (c *Control) NumDeferred() int {
	return len(c.deferred)
}

// BeginBoundaryChange raises the boundary change conflict. The caller must flush its pending
// writes before, they were built against the old boundaries and must be proposed ahead of the change.
func (c *Control) BeginBoundaryChange() error {
	if c.conflict != ConflictNone {
		return partition.Errorf(partition.RetCInvalidOperation, c.partitionID, "conflict %s already active", c.conflict)
	}
	if c.prepareMerge || c.merging {
		return partition.Errorf(partition.RetCMergeRejected, c.partitionID, "cannot change boundaries while merging")
	}
	c.conflict = ConflictBoundaryChange
	return nil
}

// ResolveBoundaryChange clears the conflict, records the resulting epoch (unchanged if the change
// was aborted) and returns the parked writes in arrival order.
func (c *Control) ResolveBoundaryChange(epoch partition.Epoch) []Deferred {
	c.conflict = ConflictNone
	c.epoch = epoch
	return c.takeDeferred()
}

// SetEpoch records an epoch change that did not go through a conflict (e.g. a membership change).
func (c *Control) SetEpoch(epoch partition.Epoch) {
	c.epoch = epoch
}

func (c *Control) Epoch() partition.Epoch {
	return c.epoch
}

// PrepareMerge marks a merge as pending.
func (c *Control) PrepareMerge() error {
	if c.conflict != ConflictNone {
		return partition.Errorf(partition.RetCInvalidOperation, c.partitionID, "cannot merge during %s", c.conflict)
	}
	c.prepareMerge = true
	return nil
}

// EnterMerging marks the merge as running.
func (c *Control) EnterMerging() {
	c.prepareMerge = false
	c.merging = true
}

// LeaveMerge ends a pending or running merge, both after commit and after rollback.
func (c *Control) LeaveMerge(epoch partition.Epoch) {
	c.prepareMerge = false
	c.merging = false
	c.epoch = epoch
}

func (c *Control) HasPendingPrepareMerge() bool {
	return c.prepareMerge
}

func (c *Control) IsMerging() bool {
	return c.merging
}

// Drain returns every parked write and forgets them. Used when the partition is destroyed.
func (c *Control) Drain() []Deferred {
	return c.takeDeferred()
}

func (c *Control) takeDeferred() []Deferred {
	d := c.deferred
	c.deferred = nil
	return d
}
