package dstore

import (
	"errors"
	"time"

	"github.com/ValentinKolb/pKV/lib/db"
	"github.com/ValentinKolb/pKV/lib/partition"
	"github.com/ValentinKolb/pKV/lib/peer"
	"github.com/lni/dragonboat/v4"
	"github.com/lni/dragonboat/v4/client"
	sm "github.com/lni/dragonboat/v4/statemachine"
)

// replicatedLog is the peer.Log of a partition backed by a Dragonboat shard.
type replicatedLog struct {
	host      *Host
	shardID   uint64
	replicaID uint64
	session   *client.Session
	timeout   time.Duration
}

func (l *replicatedLog) Propose(data []byte) (peer.Proposal, error) {
	rs, err := l.host.nh.Propose(l.session, data, l.timeout)
	if err != nil {
		return nil, mapError(l.shardID, err)
	}
	return &replicatedProposal{shardID: l.shardID, rs: rs}, nil
}

func (l *replicatedLog) Term() uint64 {
	_, term, _, err := l.host.nh.GetLeaderID(l.shardID)
	if err != nil {
		return 0
	}
	return term
}

func (l *replicatedLog) IsLeader() bool {
	leaderID, _, valid, err := l.host.nh.GetLeaderID(l.shardID)
	return err == nil && valid && leaderID == l.replicaID
}

// AppliedToCurrentTerm compares the term of the last applied write command with the current term.
func (l *replicatedLog) AppliedToCurrentTerm() bool {
	fsm, ok := l.host.machines.Load(l.shardID)
	if !ok {
		return false
	}
	term := l.Term()
	return term != 0 && fsm.appliedTerm.Load() == term
}

// ScheduleUnsafeWrite hands the command to the local state machine.
func (l *replicatedLog) ScheduleUnsafeWrite(data []byte) {
	fsm, ok := l.host.machines.Load(l.shardID)
	if !ok {
		log.Warningf("partition %d: dropping unsafe write, state machine is not open", l.shardID)
		return
	}
	fsm.ScheduleUnsafeWrite(data)
}

// --------------------------------------------------------------------------
// Proposal
// --------------------------------------------------------------------------

type replicatedProposal struct {
	shardID uint64
	rs      *dragonboat.RequestState
}

func (p *replicatedProposal) Wait() peer.Result {
	defer p.rs.Release()
	r := <-p.rs.ResultC()

	switch {
	case r.Completed():
		return proposalResult(p.shardID, r.GetResult())
	case r.Timeout():
		return peer.Result{Err: partition.NewError(partition.RetCTimeout, p.shardID, "proposal timed out")}
	case r.Terminated():
		return peer.Result{Err: partition.NewError(partition.RetCPartitionRemoved, p.shardID, "shard was stopped")}
	case r.Dropped(), r.Rejected():
		return peer.Result{Err: partition.NewError(partition.RetCProposalDropped, p.shardID, "proposal dropped")}
	default:
		return peer.Result{Err: partition.NewError(partition.RetCProposalDropped, p.shardID, "proposal aborted")}
	}
}

// proposalResult decodes the result the state machine produced for an entry (see entryResult).
func proposalResult(shardID uint64, res sm.Result) peer.Result {
	if code := partition.RetCode(res.Value); code != partition.RetCSuccess {
		return peer.Result{Err: partition.NewError(code, shardID, string(res.Data))}
	}
	index, err := db.DecodeUint64(res.Data)
	if err != nil {
		return peer.Result{Err: partition.NewError(partition.RetCInternalError, shardID, err.Error())}
	}
	return peer.Result{Index: index}
}

// mapError translates Dragonboat errors into partition errors.
func mapError(shardID uint64, err error) error {
	var pErr *partition.Error
	switch {
	case errors.As(err, &pErr):
		return pErr
	case errors.Is(err, dragonboat.ErrSystemBusy), errors.Is(err, dragonboat.ErrShardNotReady):
		return partition.NewError(partition.RetCProposalDropped, shardID, err.Error())
	case errors.Is(err, dragonboat.ErrTimeout):
		return partition.NewError(partition.RetCTimeout, shardID, err.Error())
	case errors.Is(err, dragonboat.ErrShardNotFound):
		return partition.NewError(partition.RetCPartitionNotFound, shardID, err.Error())
	case errors.Is(err, dragonboat.ErrClosed), errors.Is(err, dragonboat.ErrShardClosed):
		return partition.NewError(partition.RetCPartitionRemoved, shardID, err.Error())
	default:
		return partition.NewError(partition.RetCInternalError, shardID, err.Error())
	}
}
