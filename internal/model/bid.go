package model

import (
    "sort"
    "time"

    "github.com/shopspring/decimal"
)

// BidStatus is the state of a single bid.
type BidStatus string

const (
    BidPending   BidStatus = "pending"
    BidAccepted  BidStatus = "accepted"
    BidRejected  BidStatus = "rejected"
    BidWithdrawn BidStatus = "withdrawn"
    BidExpired   BidStatus = "expired"
)

// Terminal reports whether the status can never change again.
func (s BidStatus) Terminal() bool { return s != BidPending }

// Coverage percentages accepted on a bid, inclusive.
var (
    MinCoveragePercent = decimal.NewFromInt(1)
    MaxCoveragePercent = decimal.NewFromInt(100)
)

// Fractional digits kept in storage.  Values with more digits are
// rejected rather than rounded.
const (
    CoverageScale int32 = 6
    MoneyScale    int32 = 2
)

// FitsScale reports whether d has at most places fractional digits.
func FitsScale(d decimal.Decimal, places int32) bool { return d.Equal(d.Truncate(places)) }

// Bid is one provider's offer against a request.  Amounts are exact
// decimals so that coverage sums compare exactly.
//
// Fields:
//  ID              – primary key identifier.
//  RequestID       – request the bid is placed on.
//  ProviderID      – user id of the bidding provider.
//  CoveragePercent – share of the sum insured offered (1..100).
//  Premium         – premium asked, non-negative.
//  PremiumCurrency – currency of the premium.
//  Terms           – optional free text.
//  Status          – pending until withdrawn, expired or decided.
//  CreatedAt       – creation timestamp.
//  UpdatedAt       – last update timestamp.
type Bid struct {
    ID              uint64          // bids.id
    RequestID       uint64          // bids.request_id
    ProviderID      uint64          // bids.provider_id
    CoveragePercent decimal.Decimal // bids.coverage_percent
    Premium         decimal.Decimal // bids.premium
    PremiumCurrency string          // bids.premium_currency
    Terms           string          // bids.terms
    Status          BidStatus       // bids.status
    CreatedAt       time.Time       // bids.created_at
    UpdatedAt       time.Time       // bids.updated_at
}

// ConsortiumEntry is a denormalized snapshot of a selected bid.
type ConsortiumEntry struct {
    BidID           uint64
    ProviderID      uint64
    CoveragePercent decimal.Decimal
    Premium         decimal.Decimal
    PremiumCurrency string
    TermsSnapshot   string
}

// EntryFromBid snapshots b.
func EntryFromBid(b Bid) ConsortiumEntry {
    return ConsortiumEntry{
        BidID:           b.ID,
        ProviderID:      b.ProviderID,
        CoveragePercent: b.CoveragePercent,
        Premium:         b.Premium,
        PremiumCurrency: b.PremiumCurrency,
        TermsSnapshot:   b.Terms,
    }
}

// Consortium is the company's draft or locked allocation for a request.
// There is at most one per request.  A draft is replaced wholesale on
// every save; a locked consortium never changes again.
type Consortium struct {
    RequestID          uint64            // consortiums.request_id
    Entries            []ConsortiumEntry // consortium_entries rows
    TotalCoverage      decimal.Decimal   // consortiums.total_coverage
    IsLocked           bool              // consortiums.is_locked
    Revision           int               // consortiums.revision
    SumInsuredSnapshot decimal.Decimal   // consortiums.sum_insured_snapshot
    Currency           string            // consortiums.currency
    FinalizedAt        *time.Time        // consortiums.finalized_at (nullable)
    CreatedAt          time.Time         // consortiums.created_at
    UpdatedAt          time.Time         // consortiums.updated_at
}

// SumCoverage adds up the coverage of entries.
func SumCoverage(entries []ConsortiumEntry) decimal.Decimal {
    total := decimal.Zero
    for _, e := range entries {
        total = total.Add(e.CoveragePercent)
    }
    return total
}

// SortEntries orders entries by bid id so equal selections compare equal.
func SortEntries(entries []ConsortiumEntry) {
    sort.Slice(entries, func(i, j int) bool { return entries[i].BidID < entries[j].BidID })
}

// Clone returns a deep copy of c.
func (c Consortium) Clone() Consortium {
    out := c
    out.Entries = append([]ConsortiumEntry(nil), c.Entries...)
    return out
}

// EntryFor returns the entry for bidID, if present.
func (c Consortium) EntryFor(bidID uint64) (ConsortiumEntry, bool) {
    for _, e := range c.Entries {
        if e.BidID == bidID {
            return e, true
        }
    }
    return ConsortiumEntry{}, false
}
