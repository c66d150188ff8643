// Package peer runs the proposal side of one partition replica.
//
// Every partition has exactly one goroutine that owns its proposal state: the pending batch
// (write.Encoder), the proposal control and the partition metadata. Clients and admin code talk
// to it only through its mailbox, so that state is never shared and never locked.
//
// Write submission follows a fixed order for every request:
//
//  1. a replica that is destroyed or not leader rejects the request (PartitionUnavailable);
//  2. a request with the same partition id, epoch and term as the pending batch is merged into it
//     while the batch is below its size limit;
//  3. otherwise the request is validated against the current metadata (partition id, term, epoch
//     version, key ranges);
//  4. the pending batch is proposed, so requests reach the log in submission order;
//  5. while a boundary change is being proposed the request is parked in the proposal control;
//  6. while a merge is pending or running the request is rejected (MergeRejected, retryable);
//  7. otherwise the request starts a new pending batch.
//
// The pending batch is proposed when the mailbox runs empty, when a request cannot be merged into
// it, and before any admin operation that changes what later requests are checked against.
// Before proposing, a batch that was not created after the replica applied an entry of the
// current term is checked against the current epoch once more; a stale batch fails all of its
// requests with EpochNotMatch and never reaches the log.
//
// Log, ApplyScheduler and the response channels are the only ways the goroutine reaches the
// outside world. Destroying a peer completes every request it still holds with PartitionRemoved.
package peer
