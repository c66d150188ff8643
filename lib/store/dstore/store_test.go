package dstore

import (
	"sync"
	"testing"
	"time"

	"github.com/ValentinKolb/pKV/lib/db"
	"github.com/ValentinKolb/pKV/lib/partition"
	"github.com/ValentinKolb/pKV/lib/peer"
	"github.com/ValentinKolb/pKV/lib/store"
	"github.com/cockroachdb/pebble/vfs"
	sm "github.com/lni/dragonboat/v4/statemachine"
)

// syncLog commits every proposal right away by applying it on the state machine
type syncLog struct {
	fsm   *StateMachine
	mu    sync.Mutex
	index uint64
}

type syncProposal peer.Result

func (p syncProposal) Wait() peer.Result { return peer.Result(p) }

func (l *syncLog) Propose(data []byte) (peer.Proposal, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.index++
	entries, err := l.fsm.Update([]sm.Entry{{Index: l.index, Cmd: data}})
	if err != nil {
		return nil, err
	}
	return syncProposal(proposalResult(l.fsm.shardID, entries[0].Result)), nil
}

func (l *syncLog) Term() uint64               { return testHeader.Term }
func (l *syncLog) IsLeader() bool             { return true }
func (l *syncLog) AppliedToCurrentTerm() bool { return l.fsm.appliedTerm.Load() == testHeader.Term }
func (l *syncLog) ScheduleUnsafeWrite(data []byte) {
	l.fsm.ScheduleUnsafeWrite(data)
}

// newTestStore creates a store whose peer proposes straight into a state machine
func newTestStore(t *testing.T) (*storeImpl, *StateMachine) {
	t.Helper()
	h := newTestHost(t, vfs.NewMem())
	fsm, _ := openMachine(t, h)
	l := &syncLog{fsm: fsm}

	p := peer.NewPeer(testMeta, l, l, peer.DefaultConfig())
	p.Start()
	t.Cleanup(func() {
		p.Destroy()
		_ = fsm.Close()
	})

	return &storeImpl{
		PeerWriter: store.PeerWriter{Peer: p, Timeout: time.Second, Retries: 3},
		host:       h,
		p:          p,
		shardID:    testMeta.ID,
		replicaID:  1,
	}, fsm
}

func widenedMeta(version uint64) partition.Meta {
	meta := testMeta.Clone()
	meta.Epoch.Version = version
	meta.EndKey = []byte("z")
	return meta
}

func waitDeferred(t *testing.T, p *peer.Peer, n int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for {
		stats, err := p.Stats()
		if err != nil {
			t.Fatal(err)
		}
		if stats.CurrentlyDeferred == n {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("%d writes deferred, want %d", stats.CurrentlyDeferred, n)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestResolveBoundaryChangeReachesStateMachine(t *testing.T) {
	s, fsm := newTestStore(t)

	if err := s.BeginBoundaryChange(); err != nil {
		t.Fatal(err)
	}
	parked := make(chan error, 1)
	go func() { parked <- s.Put(db.CFDefault, []byte("b"), []byte("parked")) }()
	waitDeferred(t, s.p, 1)

	if err := s.ResolveBoundaryChange(widenedMeta(2)); err != nil {
		t.Fatal(err)
	}
	if err := <-parked; err != nil {
		t.Fatalf("parked write failed: %v", err)
	}
	if err := s.Put(db.CFDefault, []byte("p"), []byte("1")); err != nil {
		t.Fatalf("Put after widening: %v", err)
	}

	if v, ok := lookup(t, fsm, "p"); !ok || v != "1" {
		t.Errorf("p = %q, %v", v, ok)
	}
	if m, _ := s.host.metas.Load(testMeta.ID); m.Epoch.Version != 2 {
		t.Errorf("host keeps epoch %s, want version 2", m.Epoch)
	}
}

func TestLeaveMergeReachesStateMachine(t *testing.T) {
	s, fsm := newTestStore(t)

	if err := s.PrepareMerge(); err != nil {
		t.Fatal(err)
	}
	if err := s.Put(db.CFDefault, []byte("b"), []byte("1")); partition.CodeOf(err) != partition.RetCMergeRejected {
		t.Errorf("Put during merge: got %v, want merge rejected", err)
	}
	if err := s.EnterMerging(); err != nil {
		t.Fatal(err)
	}
	if err := s.LeaveMerge(widenedMeta(3)); err != nil {
		t.Fatal(err)
	}

	if err := s.Put(db.CFDefault, []byte("p"), []byte("merged")); err != nil {
		t.Fatalf("Put after merge: %v", err)
	}
	if v, ok := lookup(t, fsm, "p"); !ok || v != "merged" {
		t.Errorf("p = %q, %v", v, ok)
	}
}
