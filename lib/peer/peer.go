package peer

import (
	"bytes"
	"context"
	"sync/atomic"

	"github.com/ValentinKolb/pKV/lib/ingest"
	"github.com/ValentinKolb/pKV/lib/partition"
	"github.com/ValentinKolb/pKV/lib/proposal"
	"github.com/ValentinKolb/pKV/lib/util"
	"github.com/ValentinKolb/pKV/lib/write"
	"github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var log = logger.GetLogger("peer")

// MaxProposalSizeRatio is the share of the maximum log entry size a batch may grow to by merging.
const MaxProposalSizeRatio = 0.4

var (
	proposalsTotal        = metrics.NewCounter(`pkv_proposal_total`)
	invalidEpochNotMatch  = metrics.NewCounter(`pkv_invalid_proposal_total{reason="epoch_not_match"}`)
	invalidKeyNotInRange  = metrics.NewCounter(`pkv_invalid_proposal_total{reason="key_not_in_range"}`)
	invalidStaleCommand   = metrics.NewCounter(`pkv_invalid_proposal_total{reason="stale_command"}`)
	invalidOther          = metrics.NewCounter(`pkv_invalid_proposal_total{reason="other"}`)
	mergeRejections       = metrics.NewCounter(`pkv_proposal_merge_rejected_total`)
	unavailableRejections = metrics.NewCounter(`pkv_proposal_unavailable_total`)
)

// --------------------------------------------------------------------------
// Configuration
// --------------------------------------------------------------------------

// Config configures a Peer.
type Config struct {
	// ReplicaID is recorded in the header of every request accepted by this replica.
	ReplicaID uint64
	// RaftEntryMaxSize is the largest log entry the log accepts.
	RaftEntryMaxSize int
	// ProposalSizeRatio limits merged batches to RaftEntryMaxSize * ProposalSizeRatio bytes.
	ProposalSizeRatio float64
}

// DefaultConfig returns the default peer configuration.
func DefaultConfig() Config {
	return Config{
		RaftEntryMaxSize:  8 << 20,
		ProposalSizeRatio: MaxProposalSizeRatio,
	}
}

func (c Config) proposalSizeLimit() int {
	ratio := c.ProposalSizeRatio
	if ratio <= 0 || ratio > 1 {
		ratio = MaxProposalSizeRatio
	}
	return int(float64(c.RaftEntryMaxSize) * ratio)
}

// --------------------------------------------------------------------------
// Messages
// --------------------------------------------------------------------------

type msgKind uint8

const (
	msgWrite msgKind = iota
	msgUnsafeWrite
	msgUpdateMeta
	msgBeginBoundaryChange
	msgResolveBoundaryChange
	msgPrepareMerge
	msgEnterMerging
	msgLeaveMerge
	msgStats
	msgDestroy
)

type message struct {
	kind   msgKind
	header write.Header
	ops    []write.Op
	ch     *write.ResponseChannel
	meta   partition.Meta
	done   chan error   // admin messages only
	stats  chan<- Stats // msgStats only
}

// --------------------------------------------------------------------------
// Peer
// --------------------------------------------------------------------------

// Peer is the proposal side of one partition replica.
type Peer struct {
	cfg       Config
	raftLog   Log
	scheduler ApplyScheduler

	// owned by the partition goroutine
	meta      partition.Meta
	control   *proposal.Control
	encoder   *write.Encoder
	hasReady  bool
	destroyed bool
	nextID    uint64

	metaSnapshot atomic.Pointer[partition.Meta]
	mailbox      *util.Mailbox[message]
	// proposals handed to the log whose result has not been reported yet
	inflight *xsync.MapOf[uint64, []*write.ResponseChannel]
	stats    *stats
	started  atomic.Bool
	stopped  chan struct{}
}

// NewPeer creates the peer of a partition. It does nothing until Start is called.
func NewPeer(meta partition.Meta, raftLog Log, scheduler ApplyScheduler, cfg Config) *Peer {
	p := &Peer{
		cfg:       cfg,
		raftLog:   raftLog,
		scheduler: scheduler,
		control:   proposal.NewControl(meta.ID, meta.Epoch),
		mailbox:   util.NewMailbox[message](),
		inflight:  xsync.NewMapOf[uint64, []*write.ResponseChannel](),
		stats:     newStats(),
		stopped:   make(chan struct{}),
	}
	p.setMeta(meta)
	return p
}

// Start launches the partition goroutine.
func (p *Peer) Start() {
	if p.started.CompareAndSwap(false, true) {
		go p.run()
	}
}

func (p *Peer) run() {
	defer close(p.stopped)
	log.Infof("partition %d: started (%s)", p.meta.ID, p.meta)

	for {
		for {
			msg, ok := p.mailbox.TryPop()
			if !ok {
				break
			}
			if p.handle(msg) {
				return
			}
		}
		// the mailbox ran empty, everything batched so far goes to the log
		if p.hasReady {
			p.proposePendingWrites()
		}
		<-p.mailbox.Notify()
	}
}

// handle processes one message and reports whether the goroutine must stop.
func (p *Peer) handle(msg message) bool {
	switch msg.kind {
	case msgWrite:
		p.onSimpleWrite(msg.header, msg.ops, msg.ch)
	case msgUnsafeWrite:
		p.onUnsafeWrite(msg.ops)
	case msgUpdateMeta:
		p.onUpdateMeta(msg.meta)
		msg.done <- nil
	case msgBeginBoundaryChange:
		msg.done <- p.onBeginBoundaryChange()
	case msgResolveBoundaryChange:
		p.onResolveBoundaryChange(msg.meta)
		msg.done <- nil
	case msgPrepareMerge:
		msg.done <- p.onPrepareMerge()
	case msgEnterMerging:
		p.control.EnterMerging()
		msg.done <- nil
	case msgLeaveMerge:
		p.onLeaveMerge(msg.meta)
		msg.done <- nil
	case msgStats:
		msg.stats <- p.collectStats()
	case msgDestroy:
		p.onDestroy()
		msg.done <- nil
		return true
	}
	return false
}

// --------------------------------------------------------------------------
// Public API (safe for concurrent use)
// --------------------------------------------------------------------------

// Submit hands a write request to the partition. The outcome is reported on ch.
func (p *Peer) Submit(h write.Header, ops []write.Op, ch *write.ResponseChannel) {
	if !p.mailbox.Push(message{kind: msgWrite, header: h, ops: ops, ch: ch}) {
		ch.ReportError(p.removedError())
	}
}

// Header returns the header a request built now would carry.
func (p *Peer) Header() write.Header {
	meta := p.Meta()
	return write.Header{
		PartitionID: meta.ID,
		Epoch:       meta.Epoch,
		Term:        p.raftLog.Term(),
		ReplicaID:   p.cfg.ReplicaID,
	}
}

// Write submits ops with the current header and waits for the outcome.
func (p *Peer) Write(ctx context.Context, ops ...write.Op) (write.Result, error) {
	ch := write.NewResponseChannel()
	p.Submit(p.Header(), ops, ch)
	return ch.Wait(ctx)
}

// UnsafeWrite applies ops on this replica only, bypassing the log. It returns false if the peer
// is already destroyed.
func (p *Peer) UnsafeWrite(ops ...write.Op) bool {
	return p.mailbox.Push(message{kind: msgUnsafeWrite, ops: ops})
}

// UpdateMeta installs new metadata, e.g. after a membership change.
func (p *Peer) UpdateMeta(meta partition.Meta) error {
	return p.call(message{kind: msgUpdateMeta, meta: meta})
}

// BeginBoundaryChange proposes everything pending and then parks later writes until
// ResolveBoundaryChange.
func (p *Peer) BeginBoundaryChange() error {
	return p.call(message{kind: msgBeginBoundaryChange})
}

// ResolveBoundaryChange installs the metadata after the boundary change (the old metadata if it was
// aborted) and resubmits the parked writes.
func (p *Peer) ResolveBoundaryChange(meta partition.Meta) error {
	return p.call(message{kind: msgResolveBoundaryChange, meta: meta})
}

// PrepareMerge proposes everything pending and rejects later writes until LeaveMerge.
func (p *Peer) PrepareMerge() error {
	return p.call(message{kind: msgPrepareMerge})
}

// EnterMerging marks the merge as running.
func (p *Peer) EnterMerging() error {
	return p.call(message{kind: msgEnterMerging})
}

// LeaveMerge ends a merge, meta is the metadata after commit or rollback.
func (p *Peer) LeaveMerge(meta partition.Meta) error {
	return p.call(message{kind: msgLeaveMerge, meta: meta})
}

// Stats returns the proposal statistics of the partition.
func (p *Peer) Stats() (Stats, error) {
	c := make(chan Stats, 1)
	if !p.mailbox.Push(message{kind: msgStats, stats: c}) {
		return Stats{}, p.removedError()
	}
	select {
	case s, ok := <-c:
		if !ok {
			return Stats{}, p.removedError()
		}
		return s, nil
	case <-p.stopped:
		return Stats{}, p.removedError()
	}
}

// Destroy stops the partition goroutine. Every request the peer still holds completes with
// PartitionRemoved. Destroy waits until the goroutine exited.
func (p *Peer) Destroy() {
	done := make(chan error, 1)
	if p.mailbox.Push(message{kind: msgDestroy, done: done}) {
		p.Start()
		<-done
	}
	<-p.stopped
}

// Meta returns the current metadata of the partition.
func (p *Peer) Meta() partition.Meta {
	return *p.metaSnapshot.Load()
}

func (p *Peer) call(msg message) error {
	msg.done = make(chan error, 1)
	if !p.mailbox.Push(msg) {
		return p.removedError()
	}
	return <-msg.done
}

func (p *Peer) removedError() error {
	return partition.NewError(partition.RetCPartitionRemoved, p.Meta().ID, "partition replica was removed")
}

// --------------------------------------------------------------------------
// Write Handlers
// --------------------------------------------------------------------------

// serving reports whether the replica may accept proposals.
func (p *Peer) serving() bool {
	return !p.destroyed && p.raftLog.IsLeader()
}

func (p *Peer) onSimpleWrite(h write.Header, ops []write.Op, ch *write.ResponseChannel) {
	if !p.serving() {
		unavailableRejections.Inc()
		p.stats.rejected.Inc(1)
		ch.ReportError(partition.NewError(partition.RetCPartitionUnavailable, p.meta.ID, "replica is not serving"))
		return
	}
	if p.encoder != nil && p.encoder.Amend(h, ops) {
		p.attach(ch)
		p.hasReady = true
		return
	}
	if err := p.validate(h, ops); err != nil {
		p.stats.rejected.Inc(1)
		ch.ReportError(err)
		return
	}
	// an earlier batch must reach the log before this request
	p.proposePendingWrites()
	p.submitValidated(h, ops, ch)
}

// submitValidated runs the conflict checks of a validated request and starts a new batch with it.
// Deferred requests re-enter here once their conflict is resolved.
func (p *Peer) submitValidated(h write.Header, ops []write.Op, ch *write.ResponseChannel) {
	if c := p.control.CheckConflict(); c != nil {
		log.Debugf("partition %d: deferring request, %s in progress at epoch %s", p.meta.ID, c.Kind, c.Epoch)
		p.stats.deferred.Inc(1)
		p.control.Defer(proposal.Deferred{Header: h, Ops: ops, Ch: ch})
		return
	}
	if p.control.HasPendingPrepareMerge() || p.control.IsMerging() {
		mergeRejections.Inc()
		p.stats.rejected.Inc(1)
		ch.ReportError(partition.NewError(partition.RetCMergeRejected, p.meta.ID, "proposal is not allowed while merging"))
		return
	}
	// the epoch checked by the control is only reliable once an entry of the current term was applied.
	// A redriven request may carry an epoch that changed while it was parked, it gets checked at flush.
	notify := p.raftLog.AppliedToCurrentTerm() &&
		partition.CompareEpoch(h.Epoch, p.meta.Epoch, false, true, p.meta.ID) == nil
	p.encoder = write.NewEncoder(h, ops, p.cfg.proposalSizeLimit(), notify)
	p.attach(ch)
	p.hasReady = true
}

func (p *Peer) attach(ch *write.ResponseChannel) {
	p.encoder.AddResponseChannel(ch)
	if p.encoder.NotifyProposed() {
		ch.NotifyProposed()
	}
}

func (p *Peer) validate(h write.Header, ops []write.Op) error {
	meta := p.meta
	if h.PartitionID != meta.ID {
		invalidOther.Inc()
		return partition.Errorf(partition.RetCPartitionNotFound, meta.ID, "request for partition %d", h.PartitionID)
	}
	if term := p.raftLog.Term(); h.Term != 0 && h.Term+1 < term {
		invalidStaleCommand.Inc()
		return partition.Errorf(partition.RetCStaleCommand, meta.ID, "request term %d, current term %d", h.Term, term)
	}
	if err := partition.CompareEpoch(h.Epoch, meta.Epoch, false, true, meta.ID); err != nil {
		invalidEpochNotMatch.Inc()
		return err
	}
	if len(ops) == 0 {
		invalidOther.Inc()
		return partition.NewError(partition.RetCInvalidOperation, meta.ID, "empty request")
	}
	for _, op := range ops {
		if err := checkOp(op, meta); err != nil {
			if partition.CodeOf(err) == partition.RetCKeyNotInRange {
				invalidKeyNotInRange.Inc()
			} else {
				invalidOther.Inc()
			}
			return err
		}
	}
	return nil
}

func checkOp(op write.Op, meta partition.Meta) error {
	if !op.CF.IsData() && op.Type != write.OpTIngest {
		return partition.Errorf(partition.RetCInvalidOperation, meta.ID, "%s targets non data column family %s", op.Type, op.CF)
	}
	switch op.Type {
	case write.OpTPut, write.OpTDelete:
		return partition.CheckKeyInRange(op.Key, meta)
	case write.OpTDeleteRange:
		return checkHalfOpenRange(op.Key, op.EndKey, meta)
	case write.OpTIngest:
		if len(op.Files) == 0 {
			return partition.NewError(partition.RetCInvalidOperation, meta.ID, "ingest without files")
		}
		for _, d := range op.Files {
			if err := ingest.CheckForIngestion(d, meta); err != nil {
				return err
			}
		}
		return nil
	default:
		return partition.Errorf(partition.RetCUnsupportedOperation, meta.ID, "unsupported operation %s", op.Type)
	}
}

// checkHalfOpenRange checks that [start, end) lies inside the partition. An empty end is unbounded.
func checkHalfOpenRange(start, end []byte, meta partition.Meta) error {
	if err := partition.CheckKeyInRange(start, meta); err != nil {
		return err
	}
	if len(end) == 0 {
		if len(meta.EndKey) != 0 {
			return partition.Errorf(partition.RetCKeyNotInRange, meta.ID, "unbounded range exceeds partition end %q", meta.EndKey)
		}
		return nil
	}
	if bytes.Compare(end, start) <= 0 {
		return partition.Errorf(partition.RetCInvalidOperation, meta.ID, "range end %q is not after start %q", end, start)
	}
	if len(meta.EndKey) != 0 && bytes.Compare(end, meta.EndKey) > 0 {
		return partition.Errorf(partition.RetCKeyNotInRange, meta.ID, "range end %q exceeds partition end %q", end, meta.EndKey)
	}
	return nil
}

// proposePendingWrites hands the pending batch to the log.
func (p *Peer) proposePendingWrites() {
	p.hasReady = false
	encoder := p.encoder
	if encoder == nil {
		return
	}
	p.encoder = nil

	var notifyOnSuccess bool
	if encoder.NotifyProposed() {
		// the batch passed the conflict check and already signalled "proposed"
		notifyOnSuccess = false
	} else {
		// the epoch may have changed since the batch was started
		if err := partition.CompareEpoch(encoder.Header().Epoch, p.meta.Epoch, false, true, p.meta.ID); err != nil {
			invalidEpochNotMatch.Inc()
			p.stats.epochMismatch.Inc(1)
			_, chs := encoder.Encode()
			log.Debugf("partition %d: dropping batch of %d requests: %v", p.meta.ID, len(chs), err)
			reportError(chs, err)
			return
		}
		notifyOnSuccess = p.raftLog.AppliedToCurrentTerm()
	}

	data, chs := encoder.Encode()
	p.propose(data, chs, notifyOnSuccess)
}

func (p *Peer) propose(data []byte, chs []*write.ResponseChannel, notifyOnSuccess bool) {
	res, err := p.raftLog.Propose(data)
	if err != nil {
		p.stats.proposeFailure.Inc(1)
		log.Warningf("partition %d: propose failed: %v", p.meta.ID, err)
		if partition.CodeOf(err) == partition.RetCInternalError {
			err = partition.Errorf(partition.RetCProposalDropped, p.meta.ID, "proposal dropped: %v", err)
		}
		reportError(chs, err)
		return
	}

	proposalsTotal.Inc()
	p.stats.proposals.Mark(1)
	p.stats.proposalBytes.Update(int64(len(data)))
	p.stats.batchRequests.Update(int64(len(chs)))

	if notifyOnSuccess {
		for _, ch := range chs {
			ch.NotifyProposed()
		}
	}

	p.nextID++
	id := p.nextID
	p.inflight.Store(id, chs)
	go p.awaitProposal(id, res)
}

func (p *Peer) awaitProposal(id uint64, res Proposal) {
	result := res.Wait()
	chs, ok := p.inflight.LoadAndDelete(id)
	if !ok {
		// completed by Destroy
		return
	}
	if result.Err != nil {
		reportError(chs, result.Err)
		return
	}
	for _, ch := range chs {
		ch.NotifyCommitted()
		ch.ReportSuccess(write.Result{Index: result.Index})
	}
}

// onUnsafeWrite hands ops straight to the apply side of the replica.
func (p *Peer) onUnsafeWrite(ops []write.Op) {
	if p.destroyed || p.scheduler == nil {
		return
	}
	data := write.Encode(write.Header{}, ops)
	if len(data) > p.cfg.RaftEntryMaxSize {
		log.Warningf("partition %d: unsafe write of %d bytes exceeds the entry limit", p.meta.ID, len(data))
	}
	p.scheduler.ScheduleUnsafeWrite(data)
}

// --------------------------------------------------------------------------
// Admin Handlers
// --------------------------------------------------------------------------

func (p *Peer) setMeta(meta partition.Meta) {
	meta = meta.Clone()
	p.meta = meta
	p.metaSnapshot.Store(&meta)
}

func (p *Peer) onUpdateMeta(meta partition.Meta) {
	p.setMeta(meta)
	p.control.SetEpoch(meta.Epoch)
}

func (p *Peer) onBeginBoundaryChange() error {
	p.proposePendingWrites()
	return p.control.BeginBoundaryChange()
}

func (p *Peer) onResolveBoundaryChange(meta partition.Meta) {
	p.setMeta(meta)
	for _, d := range p.control.ResolveBoundaryChange(meta.Epoch) {
		p.proposePendingWrites()
		p.submitValidated(d.Header, d.Ops, d.Ch)
	}
}

func (p *Peer) onPrepareMerge() error {
	p.proposePendingWrites()
	return p.control.PrepareMerge()
}

func (p *Peer) onLeaveMerge(meta partition.Meta) {
	p.setMeta(meta)
	p.control.LeaveMerge(meta.Epoch)
}

func (p *Peer) onDestroy() {
	p.destroyed = true
	err := p.removedError()

	if p.encoder != nil {
		_, chs := p.encoder.Encode()
		p.encoder = nil
		reportError(chs, err)
	}
	for _, d := range p.control.Drain() {
		d.Ch.ReportError(err)
	}
	for _, msg := range p.mailbox.Close() {
		switch {
		case msg.ch != nil:
			msg.ch.ReportError(err)
		case msg.done != nil:
			msg.done <- err
		case msg.stats != nil:
			close(msg.stats)
		}
	}
	p.inflight.Range(func(id uint64, _ []*write.ResponseChannel) bool {
		if chs, ok := p.inflight.LoadAndDelete(id); ok {
			reportError(chs, err)
		}
		return true
	})
	p.stats.stop()
	log.Infof("partition %d: destroyed", p.meta.ID)
}

func (p *Peer) collectStats() Stats {
	s := p.stats.snapshot()
	s.CurrentlyDeferred = p.control.NumDeferred()
	if p.encoder != nil {
		s.PendingBatchRequests = len(p.encoder.Channels())
	}
	s.OutstandingProposals = p.inflight.Size()
	s.BoundaryChange = p.control.CheckConflict() != nil
	s.Merging = p.control.HasPendingPrepareMerge() || p.control.IsMerging()
	return s
}

func reportError(chs []*write.ResponseChannel, err error) {
	for _, ch := range chs {
		ch.ReportError(err)
	}
}
