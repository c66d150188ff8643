package peer

// Result is the outcome of a proposal after it was committed and applied.
type Result struct {
	// Index is the log index of the entry.
	Index uint64
	// Err is the apply error of the entry, or why the proposal failed.
	Err error
}

// Proposal is a command accepted by the log.
type Proposal interface {
	// Wait blocks until the command was applied or failed. It is called exactly once.
	Wait() Result
}

// Log is the replicated log of a partition.
type Log interface {
	// Propose appends a command. It must not block on replication.
	Propose(data []byte) (Proposal, error)
	// Term returns the current term.
	Term() uint64
	// IsLeader reports whether this replica may propose.
	IsLeader() bool
	// AppliedToCurrentTerm reports whether this replica applied an entry of the current term.
	AppliedToCurrentTerm() bool
}

// ApplyScheduler hands commands that bypass the log directly to the apply side of the partition.
type ApplyScheduler interface {
	ScheduleUnsafeWrite(data []byte)
}
