// Package write defines the write commands that travel through the replicated log and the
// machinery that batches them on the proposal side.
//
// Key Components:
//
//   - Op: a single mutation (Put, Delete, DeleteRange or Ingest). Ops inside one command are
//     applied in order.
//
//   - Header: partition id, epoch, term and replica id a command was built against. Requests with
//     equal partition id, epoch and term may share one log entry.
//
//   - Codec: Encode and Decode translate a header plus ops to the bytes stored in a log entry.
//     All integers are big endian. Layout:
//
//     version(1) | partitionID(8) | confVer(8) | version(8) | term(8) | replicaID(8) | opCount(4) | op...
//
//     Put:         tag(1) | cf(1) | keyLen(4) | key | valueLen(4) | value
//     Delete:      tag(1) | cf(1) | keyLen(4) | key
//     DeleteRange: tag(1) | cf(1) | startLen(4) | start | endLen(4) | end
//     Ingest:      tag(1) | cf(1) | count(4) | (descLen(4) | descriptor)...
//
//   - Encoder: the pending batch of a partition. It merges requests with an equal header until the
//     encoded size reaches its limit and remembers the response channel of every merged request.
//
//   - ResponseChannel: the per request completion handle. It receives exactly one terminal
//     outcome and, before that, optional proposed and committed notifications.
package write
