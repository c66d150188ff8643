package peer

import (
	gometrics "github.com/rcrowley/go-metrics"
)

// stats is the per partition metrics registry.
type stats struct {
	registry       gometrics.Registry
	proposals      gometrics.Meter
	proposalBytes  gometrics.Histogram
	batchRequests  gometrics.Histogram
	deferred       gometrics.Counter
	rejected       gometrics.Counter
	epochMismatch  gometrics.Counter
	proposeFailure gometrics.Counter
}

func newStats() *stats {
	r := gometrics.NewRegistry()
	return &stats{
		registry:       r,
		proposals:      gometrics.GetOrRegisterMeter("proposals", r),
		proposalBytes:  gometrics.GetOrRegisterHistogram("proposal_bytes", r, gometrics.NewExpDecaySample(1028, 0.015)),
		batchRequests:  gometrics.GetOrRegisterHistogram("batch_requests", r, gometrics.NewExpDecaySample(1028, 0.015)),
		deferred:       gometrics.GetOrRegisterCounter("deferred", r),
		rejected:       gometrics.GetOrRegisterCounter("rejected", r),
		epochMismatch:  gometrics.GetOrRegisterCounter("epoch_mismatch_at_flush", r),
		proposeFailure: gometrics.GetOrRegisterCounter("propose_failures", r),
	}
}

// Stats is a point in time view of the proposal side of a partition.
type Stats struct {
	Proposals            int64   `json:"proposals"`
	ProposalRate1m       float64 `json:"proposal_rate_1m"`
	MeanProposalBytes    float64 `json:"mean_proposal_bytes"`
	P99ProposalBytes     float64 `json:"p99_proposal_bytes"`
	MeanRequestsPerBatch float64 `json:"mean_requests_per_batch"`
	Deferred             int64   `json:"deferred"`
	Rejected             int64   `json:"rejected"`
	EpochMismatchAtFlush int64   `json:"epoch_mismatch_at_flush"`
	ProposeFailures      int64   `json:"propose_failures"`
	CurrentlyDeferred    int     `json:"currently_deferred"`
	PendingBatchRequests int     `json:"pending_batch_requests"`
	OutstandingProposals int     `json:"outstanding_proposals"`
	BoundaryChange       bool    `json:"boundary_change"`
	Merging              bool    `json:"merging"`
}

func (s *stats) snapshot() Stats {
	proposals := s.proposals.Snapshot()
	bytes := s.proposalBytes.Snapshot()
	return Stats{
		Proposals:            proposals.Count(),
		ProposalRate1m:       proposals.Rate1(),
		MeanProposalBytes:    bytes.Mean(),
		P99ProposalBytes:     bytes.Percentile(0.99),
		MeanRequestsPerBatch: s.batchRequests.Snapshot().Mean(),
		Deferred:             s.deferred.Snapshot().Count(),
		Rejected:             s.rejected.Snapshot().Count(),
		EpochMismatchAtFlush: s.epochMismatch.Snapshot().Count(),
		ProposeFailures:      s.proposeFailure.Snapshot().Count(),
	}
}

func (s *stats) stop() {
	s.proposals.Stop()
	s.registry.UnregisterAll()
}
