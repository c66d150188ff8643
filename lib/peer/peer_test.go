package peer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ValentinKolb/pKV/lib/db"
	"github.com/ValentinKolb/pKV/lib/partition"
	"github.com/ValentinKolb/pKV/lib/write"
)

// --------------------------------------------------------------------------
// Test Doubles
// --------------------------------------------------------------------------

type fakeProposal struct {
	index uint64
	c     chan Result
}

func (p *fakeProposal) Wait() Result {
	return <-p.c
}

// fakeLog records proposals. With auto set, every proposal commits right away at the next index.
type fakeLog struct {
	mu            sync.Mutex
	leader        bool
	appliedToTerm bool
	term          uint64
	auto          bool
	failWith      error
	proposals     [][]byte
	pending       []*fakeProposal
}

func newFakeLog() *fakeLog {
	return &fakeLog{leader: true, term: 2}
}

func (l *fakeLog) Propose(data []byte) (Proposal, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failWith != nil {
		return nil, l.failWith
	}
	l.proposals = append(l.proposals, bytes.Clone(data))
	p := &fakeProposal{index: uint64(len(l.proposals)), c: make(chan Result, 1)}
	if l.auto {
		p.c <- Result{Index: p.index}
	}
	l.pending = append(l.pending, p)
	return p, nil
}

func (l *fakeLog) Term() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.term
}

func (l *fakeLog) IsLeader() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.leader
}

func (l *fakeLog) AppliedToCurrentTerm() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.appliedToTerm
}

func (l *fakeLog) numProposals() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.proposals)
}

func (l *fakeLog) proposal(t *testing.T, i int) (write.Header, []write.Op) {
	t.Helper()
	l.mu.Lock()
	data := l.proposals[i]
	l.mu.Unlock()
	h, ops, err := write.Decode(data)
	if err != nil {
		t.Fatalf("proposal %d does not decode: %v", i, err)
	}
	return h, ops
}

// resolve completes the i-th proposal.
func (l *fakeLog) resolve(i int, err error) {
	l.mu.Lock()
	p := l.pending[i]
	l.mu.Unlock()
	p.c <- Result{Index: p.index, Err: err}
}

type fakeScheduler struct {
	mu   sync.Mutex
	data [][]byte
}

func (s *fakeScheduler) ScheduleUnsafeWrite(data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = append(s.data, data)
}

func (s *fakeScheduler) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data)
}

// --------------------------------------------------------------------------
// Helpers
// --------------------------------------------------------------------------

var testMeta = partition.Meta{
	ID:       1,
	Epoch:    partition.Epoch{ConfVer: 1, Version: 1},
	StartKey: []byte("a"),
	EndKey:   []byte("m"),
}

func newTestPeer(raftLog *fakeLog) (*Peer, *fakeScheduler) {
	sched := &fakeScheduler{}
	cfg := DefaultConfig()
	cfg.ReplicaID = 7
	return NewPeer(testMeta, raftLog, sched, cfg), sched
}

func put(key string) write.Op {
	return write.Put(db.CFDefault, []byte(key), []byte("v-"+key))
}

// waitErr waits for the terminal outcome of ch.
func waitErr(t *testing.T, ch *write.ResponseChannel) (write.Result, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := ch.Wait(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		t.Fatal("request did not complete")
	}
	return res, err
}

func expectCode(t *testing.T, ch *write.ResponseChannel, want partition.RetCode) {
	t.Helper()
	_, err := waitErr(t, ch)
	if got := partition.CodeOf(err); got != want {
		t.Fatalf("got %s (%v), want %s", got, err, want)
	}
}

func isClosed(c <-chan struct{}) bool {
	select {
	case <-c:
		return true
	default:
		return false
	}
}

// --------------------------------------------------------------------------
// Submission
// --------------------------------------------------------------------------

func TestRejectWhenNotServing(t *testing.T) {
	raftLog := newFakeLog()
	raftLog.leader = false
	p, _ := newTestPeer(raftLog)

	ch := write.NewResponseChannel()
	p.onSimpleWrite(p.Header(), []write.Op{put("b")}, ch)

	expectCode(t, ch, partition.RetCPartitionUnavailable)
	if p.encoder != nil {
		t.Error("no batch must be created")
	}
}

func TestValidation(t *testing.T) {
	raftLog := newFakeLog()
	raftLog.term = 5
	p, _ := newTestPeer(raftLog)
	good := p.Header()

	tests := []struct {
		name   string
		header func(h write.Header) write.Header
		ops    []write.Op
		want   partition.RetCode
	}{
		{
			name: "valid put",
			ops:  []write.Op{put("b")},
			want: partition.RetCSuccess,
		},
		{
			name:   "other partition",
			header: func(h write.Header) write.Header { h.PartitionID = 9; return h },
			ops:    []write.Op{put("b")},
			want:   partition.RetCPartitionNotFound,
		},
		{
			name:   "stale term",
			header: func(h write.Header) write.Header { h.Term = 3; return h },
			ops:    []write.Op{put("b")},
			want:   partition.RetCStaleCommand,
		},
		{
			name:   "previous term is still accepted",
			header: func(h write.Header) write.Header { h.Term = 4; return h },
			ops:    []write.Op{put("b")},
			want:   partition.RetCSuccess,
		},
		{
			name:   "version mismatch",
			header: func(h write.Header) write.Header { h.Epoch.Version = 0; return h },
			ops:    []write.Op{put("b")},
			want:   partition.RetCEpochNotMatch,
		},
		{
			name:   "conf version is not checked",
			header: func(h write.Header) write.Header { h.Epoch.ConfVer = 9; return h },
			ops:    []write.Op{put("b")},
			want:   partition.RetCSuccess,
		},
		{
			name: "key outside range",
			ops:  []write.Op{put("b"), put("z")},
			want: partition.RetCKeyNotInRange,
		},
		{
			name: "delete range up to partition end",
			ops:  []write.Op{write.DeleteRange(db.CFDefault, []byte("b"), []byte("m"))},
			want: partition.RetCSuccess,
		},
		{
			name: "delete range beyond partition end",
			ops:  []write.Op{write.DeleteRange(db.CFDefault, []byte("b"), []byte("n"))},
			want: partition.RetCKeyNotInRange,
		},
		{
			name: "raft column family",
			ops:  []write.Op{write.Put(db.CFRaft, []byte("b"), nil)},
			want: partition.RetCInvalidOperation,
		},
		{
			name: "empty request",
			want: partition.RetCInvalidOperation,
		},
		{
			name: "ingest without files",
			ops:  []write.Op{write.Ingest()},
			want: partition.RetCInvalidOperation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := good
			if tt.header != nil {
				h = tt.header(h)
			}
			err := p.validate(h, tt.ops)
			if got := partition.CodeOf(err); got != tt.want {
				t.Errorf("got %s (%v), want %s", got, err, tt.want)
			}
		})
	}
}

func TestAmendBatchesRequests(t *testing.T) {
	raftLog := newFakeLog()
	p, _ := newTestPeer(raftLog)

	ch1, ch2 := write.NewResponseChannel(), write.NewResponseChannel()
	p.onSimpleWrite(p.Header(), []write.Op{put("b")}, ch1)
	p.onSimpleWrite(p.Header(), []write.Op{put("c"), put("d")}, ch2)

	if raftLog.numProposals() != 0 {
		t.Fatal("nothing must be proposed before the flush")
	}
	if !p.hasReady {
		t.Fatal("peer must be marked ready")
	}
	p.proposePendingWrites()

	if raftLog.numProposals() != 1 {
		t.Fatalf("got %d proposals, want 1", raftLog.numProposals())
	}
	h, ops := raftLog.proposal(t, 0)
	if h.ReplicaID != 7 || h.PartitionID != testMeta.ID {
		t.Errorf("unexpected header %s", h)
	}
	var keys []string
	for _, op := range ops {
		keys = append(keys, string(op.Key))
	}
	if fmt.Sprint(keys) != "[b c d]" {
		t.Errorf("got keys %v, want [b c d]", keys)
	}

	raftLog.resolve(0, nil)
	for _, ch := range []*write.ResponseChannel{ch1, ch2} {
		res, err := waitErr(t, ch)
		if err != nil || res.Index != 1 {
			t.Errorf("got (%v, %v), want index 1", res, err)
		}
		if !isClosed(ch.Committed()) {
			t.Error("committed must be signalled")
		}
	}
}

func TestHeaderChangeStartsNewBatch(t *testing.T) {
	raftLog := newFakeLog()
	p, _ := newTestPeer(raftLog)

	ch1, ch2 := write.NewResponseChannel(), write.NewResponseChannel()
	h := p.Header()
	p.onSimpleWrite(h, []write.Op{put("b")}, ch1)

	// a request from the previous term passes validation but cannot join the batch
	h.Term--
	p.onSimpleWrite(h, []write.Op{put("c")}, ch2)

	if raftLog.numProposals() != 1 {
		t.Fatalf("the first batch must be proposed before the second starts, got %d proposals", raftLog.numProposals())
	}
	p.proposePendingWrites()
	if raftLog.numProposals() != 2 {
		t.Fatalf("got %d proposals, want 2", raftLog.numProposals())
	}
	first, _ := raftLog.proposal(t, 0)
	second, _ := raftLog.proposal(t, 1)
	if first.Term != h.Term+1 || second.Term != h.Term {
		t.Errorf("proposals out of order: %s, %s", first, second)
	}
}

func TestSizeLimitFlushesEagerly(t *testing.T) {
	raftLog := newFakeLog()
	p, _ := newTestPeer(raftLog)
	p.cfg.RaftEntryMaxSize = 1000 // limit 400 bytes

	value := bytes.Repeat([]byte("x"), 150)
	var chs []*write.ResponseChannel
	for i := 0; i < 3; i++ {
		ch := write.NewResponseChannel()
		chs = append(chs, ch)
		p.onSimpleWrite(p.Header(), []write.Op{write.Put(db.CFDefault, []byte{'b', byte('0' + i)}, value)}, ch)
	}

	if raftLog.numProposals() != 1 {
		t.Fatalf("got %d proposals, want 1 eager flush", raftLog.numProposals())
	}
	_, ops := raftLog.proposal(t, 0)
	if len(ops) != 2 {
		t.Errorf("first batch has %d ops, want 2", len(ops))
	}
	if p.encoder == nil || p.encoder.Len() != 1 {
		t.Error("the third request must start a new batch")
	}
	if p.encoder.Size() > p.cfg.proposalSizeLimit() {
		t.Errorf("batch of %d bytes exceeds the limit", p.encoder.Size())
	}
}

// Two requests are batched, then the epoch changes before the flush.
func TestEpochChangeBeforeFlush(t *testing.T) {
	raftLog := newFakeLog()
	p, _ := newTestPeer(raftLog)

	ch1, ch2 := write.NewResponseChannel(), write.NewResponseChannel()
	p.onSimpleWrite(p.Header(), []write.Op{put("b")}, ch1)
	p.onSimpleWrite(p.Header(), []write.Op{put("c")}, ch2)

	meta := testMeta.Clone()
	meta.Epoch.Version++
	p.onUpdateMeta(meta)
	p.proposePendingWrites()

	expectCode(t, ch1, partition.RetCEpochNotMatch)
	expectCode(t, ch2, partition.RetCEpochNotMatch)
	if raftLog.numProposals() != 0 {
		t.Errorf("got %d proposals, want none", raftLog.numProposals())
	}
	if p.encoder != nil {
		t.Error("batch must be discarded")
	}
	if s := p.collectStats(); s.EpochMismatchAtFlush != 1 {
		t.Errorf("epoch mismatch counter is %d, want 1", s.EpochMismatchAtFlush)
	}
}

func TestProposedNotification(t *testing.T) {
	t.Run("applied to current term", func(t *testing.T) {
		raftLog := newFakeLog()
		raftLog.appliedToTerm = true
		p, _ := newTestPeer(raftLog)

		ch := write.NewResponseChannel()
		p.onSimpleWrite(p.Header(), []write.Op{put("b")}, ch)
		if !isClosed(ch.Proposed()) {
			t.Fatal("proposed must be signalled when the request joins the batch")
		}

		// the epoch re-check is skipped for such batches
		meta := testMeta.Clone()
		meta.Epoch.Version++
		p.onUpdateMeta(meta)
		p.proposePendingWrites()
		if raftLog.numProposals() != 1 {
			t.Fatalf("got %d proposals, want 1", raftLog.numProposals())
		}
	})

	t.Run("not applied to current term", func(t *testing.T) {
		raftLog := newFakeLog()
		p, _ := newTestPeer(raftLog)

		ch := write.NewResponseChannel()
		p.onSimpleWrite(p.Header(), []write.Op{put("b")}, ch)
		p.proposePendingWrites()
		if isClosed(ch.Proposed()) {
			t.Fatal("proposed must wait for the commit")
		}
		raftLog.resolve(0, nil)
		if _, err := waitErr(t, ch); err != nil {
			t.Fatal(err)
		}
		if !isClosed(ch.Proposed()) || !isClosed(ch.Committed()) {
			t.Error("proposed and committed must be signalled with the result")
		}
	})

	t.Run("caught up between batching and flush", func(t *testing.T) {
		raftLog := newFakeLog()
		p, _ := newTestPeer(raftLog)

		ch := write.NewResponseChannel()
		p.onSimpleWrite(p.Header(), []write.Op{put("b")}, ch)
		raftLog.mu.Lock()
		raftLog.appliedToTerm = true
		raftLog.mu.Unlock()
		p.proposePendingWrites()
		if !isClosed(ch.Proposed()) {
			t.Fatal("proposed must be signalled right after proposing")
		}
		if isClosed(ch.Done()) {
			t.Fatal("request must not complete before the commit")
		}
	})
}

func TestProposeFailureReportsEveryChannel(t *testing.T) {
	raftLog := newFakeLog()
	raftLog.failWith = errors.New("log closed")
	p, _ := newTestPeer(raftLog)

	ch1, ch2 := write.NewResponseChannel(), write.NewResponseChannel()
	p.onSimpleWrite(p.Header(), []write.Op{put("b")}, ch1)
	p.onSimpleWrite(p.Header(), []write.Op{put("c")}, ch2)
	p.proposePendingWrites()

	for _, ch := range []*write.ResponseChannel{ch1, ch2} {
		expectCode(t, ch, partition.RetCProposalDropped)
		if ch.ReportSuccess(write.Result{Index: 1}) {
			t.Error("a second terminal report must not take effect")
		}
	}
}

func TestApplyErrorReachesEveryChannel(t *testing.T) {
	raftLog := newFakeLog()
	p, _ := newTestPeer(raftLog)

	ch1, ch2 := write.NewResponseChannel(), write.NewResponseChannel()
	p.onSimpleWrite(p.Header(), []write.Op{put("b")}, ch1)
	p.onSimpleWrite(p.Header(), []write.Op{put("c")}, ch2)
	p.proposePendingWrites()

	raftLog.resolve(0, partition.NewError(partition.RetCKeyNotInRange, 1, "split away"))
	expectCode(t, ch1, partition.RetCKeyNotInRange)
	expectCode(t, ch2, partition.RetCKeyNotInRange)
}

// --------------------------------------------------------------------------
// Conflicts
// --------------------------------------------------------------------------

func TestBoundaryChangeDefersRequests(t *testing.T) {
	tests := []struct {
		name    string
		version uint64 // version installed on resolution
		want    partition.RetCode
	}{
		{name: "split committed", version: testMeta.Epoch.Version + 1, want: partition.RetCEpochNotMatch},
		{name: "split aborted", version: testMeta.Epoch.Version, want: partition.RetCSuccess},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raftLog := newFakeLog()
			raftLog.auto = true
			p, _ := newTestPeer(raftLog)

			before := write.NewResponseChannel()
			p.onSimpleWrite(p.Header(), []write.Op{put("b")}, before)
			if err := p.onBeginBoundaryChange(); err != nil {
				t.Fatal(err)
			}
			if raftLog.numProposals() != 1 {
				t.Fatal("pending writes must be proposed before the boundary change")
			}

			deferred := []*write.ResponseChannel{write.NewResponseChannel(), write.NewResponseChannel()}
			for i, ch := range deferred {
				p.onSimpleWrite(p.Header(), []write.Op{put(string(rune('c' + i)))}, ch)
			}
			p.proposePendingWrites()
			if raftLog.numProposals() != 1 || p.control.NumDeferred() != 2 {
				t.Fatalf("requests must be deferred: %d proposals, %d deferred", raftLog.numProposals(), p.control.NumDeferred())
			}
			for _, ch := range deferred {
				if ch.Completed() {
					t.Fatal("deferred request must not complete")
				}
			}

			meta := testMeta.Clone()
			meta.Epoch.Version = tt.version
			p.onResolveBoundaryChange(meta)
			p.proposePendingWrites()

			for _, ch := range deferred {
				expectCode(t, ch, tt.want)
			}
			if p.control.NumDeferred() != 0 {
				t.Error("deferred queue must be empty")
			}
		})
	}
}

func TestRedriveKeepsOrder(t *testing.T) {
	raftLog := newFakeLog()
	raftLog.auto = true
	p, _ := newTestPeer(raftLog)

	if err := p.onBeginBoundaryChange(); err != nil {
		t.Fatal(err)
	}
	for _, k := range []string{"b", "c", "d"} {
		p.onSimpleWrite(p.Header(), []write.Op{put(k)}, write.NewResponseChannel())
	}
	p.onResolveBoundaryChange(testMeta)
	p.proposePendingWrites()

	var keys []string
	for i := 0; i < raftLog.numProposals(); i++ {
		_, ops := raftLog.proposal(t, i)
		for _, op := range ops {
			keys = append(keys, string(op.Key))
		}
	}
	if fmt.Sprint(keys) != "[b c d]" {
		t.Errorf("got %v, want [b c d]", keys)
	}
}

func TestMergeRejectsRequests(t *testing.T) {
	raftLog := newFakeLog()
	raftLog.auto = true
	p, _ := newTestPeer(raftLog)

	pending := write.NewResponseChannel()
	p.onSimpleWrite(p.Header(), []write.Op{put("b")}, pending)
	if err := p.onPrepareMerge(); err != nil {
		t.Fatal(err)
	}
	if raftLog.numProposals() != 1 {
		t.Fatal("pending writes must be proposed before the merge")
	}

	ch := write.NewResponseChannel()
	p.onSimpleWrite(p.Header(), []write.Op{put("c")}, ch)
	expectCode(t, ch, partition.RetCMergeRejected)
	if !partition.IsRetryable(func() error { _, err := waitErr(t, ch); return err }()) {
		t.Error("merge rejection must be retryable")
	}

	if err := p.onBeginBoundaryChange(); partition.CodeOf(err) != partition.RetCMergeRejected {
		t.Errorf("boundary change during merge: got %v", err)
	}

	p.control.EnterMerging()
	ch = write.NewResponseChannel()
	p.onSimpleWrite(p.Header(), []write.Op{put("c")}, ch)
	expectCode(t, ch, partition.RetCMergeRejected)

	p.onLeaveMerge(testMeta)
	ch = write.NewResponseChannel()
	p.onSimpleWrite(p.Header(), []write.Op{put("c")}, ch)
	p.proposePendingWrites()
	expectCode(t, ch, partition.RetCSuccess)
}

// --------------------------------------------------------------------------
// Running Peer
// --------------------------------------------------------------------------

func TestRunningPeerBatchesInOrder(t *testing.T) {
	raftLog := newFakeLog()
	raftLog.auto = true
	p, _ := newTestPeer(raftLog)
	p.Start()
	defer p.Destroy()

	const n = 50
	chs := make([]*write.ResponseChannel, n)
	for i := range chs {
		chs[i] = write.NewResponseChannel()
		p.Submit(p.Header(), []write.Op{put(fmt.Sprintf("b%03d", i))}, chs[i])
	}
	for _, ch := range chs {
		if _, err := waitErr(t, ch); err != nil {
			t.Fatal(err)
		}
	}

	var keys []string
	for i := 0; i < raftLog.numProposals(); i++ {
		_, ops := raftLog.proposal(t, i)
		for _, op := range ops {
			keys = append(keys, string(op.Key))
		}
	}
	if len(keys) != n {
		t.Fatalf("got %d ops, want %d", len(keys), n)
	}
	for i, k := range keys {
		if want := fmt.Sprintf("b%03d", i); k != want {
			t.Fatalf("op %d is %s, want %s", i, k, want)
		}
	}

	s, err := p.Stats()
	if err != nil {
		t.Fatal(err)
	}
	if s.Proposals != int64(raftLog.numProposals()) {
		t.Errorf("stats report %d proposals, log has %d", s.Proposals, raftLog.numProposals())
	}
}

func TestWrite(t *testing.T) {
	raftLog := newFakeLog()
	raftLog.auto = true
	p, _ := newTestPeer(raftLog)
	p.Start()
	defer p.Destroy()

	res, err := p.Write(context.Background(), put("b"), write.Delete(db.CFDefault, []byte("c")))
	if err != nil {
		t.Fatal(err)
	}
	if res.Index != 1 {
		t.Errorf("got index %d, want 1", res.Index)
	}

	_, err = p.Write(context.Background(), put("x"))
	if partition.CodeOf(err) != partition.RetCKeyNotInRange {
		t.Errorf("got %v, want key not in range", err)
	}
}

func TestDestroyCompletesEverything(t *testing.T) {
	raftLog := newFakeLog()
	p, _ := newTestPeer(raftLog)
	p.Start()

	inflight := write.NewResponseChannel()
	p.Submit(p.Header(), []write.Op{put("b")}, inflight)
	if err := p.BeginBoundaryChange(); err != nil {
		t.Fatal(err)
	}
	deferred := write.NewResponseChannel()
	p.Submit(p.Header(), []write.Op{put("c")}, deferred)

	p.Destroy()

	expectCode(t, inflight, partition.RetCPartitionRemoved)
	expectCode(t, deferred, partition.RetCPartitionRemoved)

	// the log may still commit the in-flight proposal, the request stays completed once
	raftLog.resolve(0, nil)
	if _, err := waitErr(t, inflight); partition.CodeOf(err) != partition.RetCPartitionRemoved {
		t.Errorf("outcome changed to %v", err)
	}

	late := write.NewResponseChannel()
	p.Submit(p.Header(), []write.Op{put("d")}, late)
	expectCode(t, late, partition.RetCPartitionRemoved)

	if err := p.UpdateMeta(testMeta); partition.CodeOf(err) != partition.RetCPartitionRemoved {
		t.Errorf("admin call after destroy: got %v", err)
	}
	if _, err := p.Stats(); partition.CodeOf(err) != partition.RetCPartitionRemoved {
		t.Errorf("stats after destroy: got %v", err)
	}
}

func TestDestroyCompletesPendingBatch(t *testing.T) {
	raftLog := newFakeLog()
	p, _ := newTestPeer(raftLog)

	ch := write.NewResponseChannel()
	p.onSimpleWrite(p.Header(), []write.Op{put("b")}, ch)
	p.onDestroy()

	expectCode(t, ch, partition.RetCPartitionRemoved)
	if raftLog.numProposals() != 0 {
		t.Error("a destroyed peer must not propose")
	}
}

func TestUnsafeWrite(t *testing.T) {
	raftLog := newFakeLog()
	raftLog.leader = false
	p, sched := newTestPeer(raftLog)

	ops := []write.Op{put("b"), write.Delete(db.CFLock, []byte("c"))}
	p.onUnsafeWrite(ops)

	if sched.len() != 1 {
		t.Fatalf("got %d scheduled writes, want 1", sched.len())
	}
	h, got, err := write.Decode(sched.data[0])
	if err != nil {
		t.Fatal(err)
	}
	if h != (write.Header{}) {
		t.Errorf("unsafe writes carry an empty header, got %s", h)
	}
	if len(got) != 2 || got[1].CF != db.CFLock || string(got[1].Key) != "c" {
		t.Errorf("unexpected ops %v", got)
	}
	if raftLog.numProposals() != 0 {
		t.Error("unsafe writes bypass the log")
	}

	p.onDestroy()
	p.onUnsafeWrite(ops)
	if sched.len() != 1 {
		t.Error("a destroyed peer must drop unsafe writes")
	}
	if p.UnsafeWrite(ops...) {
		t.Error("UnsafeWrite must fail after destroy")
	}
}
