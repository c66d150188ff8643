// Package partition holds the metadata every other layer of the write pipeline checks requests against:
// the partition epoch, the key range a partition owns and the typed errors returned to clients.
//
// Key Components:
//
//   - Meta and Epoch: the identity of a partition. The epoch consists of a configuration version
//     (bumped on membership change) and a boundary version (bumped on split or merge). A request
//     that was built against an older epoch must be rejected, because the partition it targeted
//     may no longer own the keys it touches.
//
//   - Error: a structured error carrying a RetCode, the partition id and a message. Codes mark
//     whether the client should retry (MergeRejected, EpochNotMatch, ProposalDropped) or give up.
//
//   - Router: an ordered index from start key to partition, used by the server to locate the
//     partition owning a key when the client did not name one.
package partition
