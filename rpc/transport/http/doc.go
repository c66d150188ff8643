// Package http implements the HTTP transport of the RPC layer.
//
// The server routes with chi: POST /{partitionId} carries one serialized request for a
// partition (0 lets the server locate the partition by key), GET /health is a liveness
// check and GET /metrics exposes the process wide counters in Prometheus format.
//
// The client spreads requests round-robin over the configured endpoints. A failed
// request is retried on the next endpoint up to RetryCount times. Only transport
// failures are retried here, partition errors are part of a successful response and
// are handled by the RPC client.
//
// Thread Safety:
//
//	The client transport is thread-safe and can be used concurrently. It uses
//	atomic operations for the round-robin counter.
package http
