// Package queue defines message payloads exchanged over the message broker.
package queue

// Queue names.  Each event type is routed to its own durable queue.
const (
    ConsortiumFinalizedQueue = "consortium.finalized"
    KYCDecidedQueue          = "kyc.decided"
    RequestClosedQueue       = "request.closed"
)

// Event is a payload that knows which queue it belongs to.
type Event interface {
    QueueName() string
}

// AllocationLine is one provider's share inside a finalized consortium.
type AllocationLine struct {
    BidID           uint64 `json:"bid_id"`
    ProviderID      uint64 `json:"provider_id"`
    CoveragePercent string `json:"coverage_percent"`
    Premium         string `json:"premium"`
    PremiumCurrency string `json:"premium_currency"`
}

// ConsortiumFinalizedEvent is published after a consortium has been locked
// and its bids resolved.  It carries the snapshot so that downstream
// consumers can notify providers without querying the primary database.
type ConsortiumFinalizedEvent struct {
    EventID        string           `json:"event_id"`
    RequestID      uint64           `json:"request_id"`
    CompanyID      uint64           `json:"company_id"`
    Title          string           `json:"title"`
    TargetCoverage int              `json:"target_coverage"`
    SumInsured     string           `json:"sum_insured"`
    Currency       string           `json:"currency"`
    Allocations    []AllocationLine `json:"allocations"`
    AcceptedBidIDs []uint64         `json:"accepted_bid_ids"`
    RejectedBidIDs []uint64         `json:"rejected_bid_ids"`
    FinalizedAt    string           `json:"finalized_at"`
}

func (ConsortiumFinalizedEvent) QueueName() string { return ConsortiumFinalizedQueue }

// KYCDecidedEvent is published when a reviewer verifies or rejects a provider.
type KYCDecidedEvent struct {
    EventID    string `json:"event_id"`
    ProviderID uint64 `json:"provider_id"`
    ReviewerID uint64 `json:"reviewer_id"`
    Status     string `json:"status"`
    Note       string `json:"note,omitempty"`
    DecidedAt  string `json:"decided_at"`
}

func (KYCDecidedEvent) QueueName() string { return KYCDecidedQueue }

// RequestClosedEvent is published when a request is withdrawn by its owner
// or closed by the deadline scheduler.
type RequestClosedEvent struct {
    EventID   string `json:"event_id"`
    RequestID uint64 `json:"request_id"`
    CompanyID uint64 `json:"company_id"`
    ClosedBy  string `json:"closed_by"`
    ClosedAt  string `json:"closed_at"`
}

func (RequestClosedEvent) QueueName() string { return RequestClosedQueue }
