package lstore

import (
	"sync"
	"sync/atomic"

	"github.com/ValentinKolb/pKV/lib/apply"
	"github.com/ValentinKolb/pKV/lib/partition"
	"github.com/ValentinKolb/pKV/lib/peer"
	"github.com/ValentinKolb/pKV/lib/util"
)

// localTerm is the only term of a local log, there are no elections.
const localTerm = 1

type taskKind uint8

const (
	taskEntry taskKind = iota
	taskUnsafeWrite
	taskSetMeta
	taskInfo
	taskStop
)

type task struct {
	kind   taskKind
	index  uint64
	data   []byte
	meta   partition.Meta
	result chan peer.Result
	info   chan apply.Info
	done   chan error
}

// localLog is a peer.Log that commits every proposal immediately and applies it on a single
// apply goroutine, strictly in index order.
type localLog struct {
	partitionID uint64
	applier     *apply.Applier

	mu        sync.Mutex // orders index assignment with the push
	lastIndex uint64

	tasks       *util.Mailbox[task]
	appliedTerm atomic.Uint64
	stopped     chan struct{}
}

func newLocalLog(applier *apply.Applier) *localLog {
	index, term := applier.AppliedIndex()
	l := &localLog{
		partitionID: applier.Meta().ID,
		applier:     applier,
		lastIndex:   index,
		tasks:       util.NewMailbox[task](),
		stopped:     make(chan struct{}),
	}
	l.appliedTerm.Store(term)
	go l.run()
	return l
}

// --------------------------------------------------------------------------
// peer.Log and peer.ApplyScheduler
// --------------------------------------------------------------------------

type localProposal chan peer.Result

func (p localProposal) Wait() peer.Result {
	return <-p
}

func (l *localLog) Propose(data []byte) (peer.Proposal, error) {
	result := make(chan peer.Result, 1)
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.tasks.Push(task{kind: taskEntry, index: l.lastIndex + 1, data: data, result: result}) {
		return nil, l.removedError()
	}
	l.lastIndex++
	return localProposal(result), nil
}

func (l *localLog) Term() uint64 {
	return localTerm
}

func (l *localLog) IsLeader() bool {
	return !l.tasks.IsClosed()
}

func (l *localLog) AppliedToCurrentTerm() bool {
	return l.appliedTerm.Load() == localTerm
}

func (l *localLog) ScheduleUnsafeWrite(data []byte) {
	l.tasks.Push(task{kind: taskUnsafeWrite, data: data})
}

// --------------------------------------------------------------------------
// Apply Side
// --------------------------------------------------------------------------

func (l *localLog) setMeta(meta partition.Meta) error {
	done := make(chan error, 1)
	if !l.tasks.Push(task{kind: taskSetMeta, meta: meta, done: done}) {
		return l.removedError()
	}
	return <-done
}

func (l *localLog) info() (apply.Info, error) {
	c := make(chan apply.Info, 1)
	if !l.tasks.Push(task{kind: taskInfo, info: c}) {
		return apply.Info{}, l.removedError()
	}
	info, ok := <-c
	if !ok {
		return apply.Info{}, l.removedError()
	}
	return info, nil
}

// stop applies everything proposed so far and ends the apply goroutine.
func (l *localLog) stop() {
	done := make(chan error, 1)
	if l.tasks.Push(task{kind: taskStop, done: done}) {
		<-done
	}
	<-l.stopped
}

type applied struct {
	result chan peer.Result
	res    peer.Result
}

func (l *localLog) run() {
	defer close(l.stopped)

	var results []applied
	for {
		var stop chan error
		for stop == nil {
			t, ok := l.tasks.TryPop()
			if !ok {
				break
			}
			switch t.kind {
			case taskEntry:
				err := l.applier.ApplyEntry(t.index, t.data)
				results = append(results, applied{result: t.result, res: peer.Result{Index: t.index, Err: err}})
			case taskUnsafeWrite:
				if err := l.applier.ApplyUnsafeWrite(t.data); err != nil {
					log.Warningf("partition %d: unsafe write failed: %v", l.partitionID, err)
				}
			case taskSetMeta:
				l.applier.SetMeta(t.meta)
				t.done <- nil
			case taskInfo:
				t.info <- l.applier.Info()
			case taskStop:
				stop = t.done
			}
		}

		// results are delivered once the cycle is durable
		l.applier.FinishCycle()
		_, term := l.applier.AppliedIndex()
		l.appliedTerm.Store(term)
		for _, a := range results {
			a.result <- a.res
		}
		results = results[:0]

		if stop != nil {
			l.drain()
			stop <- nil
			return
		}
		<-l.tasks.Notify()
	}
}

func (l *localLog) drain() {
	err := l.removedError()
	for _, t := range l.tasks.Close() {
		switch t.kind {
		case taskEntry:
			t.result <- peer.Result{Index: t.index, Err: err}
		case taskSetMeta, taskStop:
			t.done <- err
		case taskInfo:
			close(t.info)
		}
	}
}

func (l *localLog) removedError() error {
	return partition.NewError(partition.RetCPartitionRemoved, l.partitionID, "partition replica was removed")
}
