package model

import (
    "errors"
    "time"

    "github.com/shopspring/decimal"
)

// ErrNotFound is returned by stores when a row does not exist.
var ErrNotFound = errors.New("model: not found")

// RequestStatus is the top-level state of an insurance request.
type RequestStatus string

const (
    RequestOpen             RequestStatus = "open"
    RequestConsortiumFormed RequestStatus = "consortium_formed"
    RequestFinalized        RequestStatus = "finalized"
    RequestClosed           RequestStatus = "closed"
)

var requestTransitions = map[RequestStatus][]RequestStatus{
    RequestOpen:             {RequestConsortiumFormed, RequestClosed},
    RequestConsortiumFormed: {RequestFinalized, RequestClosed},
}

// CanTransitionTo reports whether the request state machine allows
// moving from s to next.  Finalized and closed are terminal.
func (s RequestStatus) CanTransitionTo(next RequestStatus) bool {
    for _, allowed := range requestTransitions[s] {
        if allowed == next {
            return true
        }
    }
    return false
}

// Terminal reports whether no further transition is possible.
func (s RequestStatus) Terminal() bool {
    return len(requestTransitions[s]) == 0
}

// DefaultCurrency is used when an asset does not name one.
const DefaultCurrency = "USD"

// Location is the optional whereabouts of an insured asset.
type Location struct {
    Country string
    City    string
    Lat     *float64
    Lng     *float64
}

// Asset describes what is being insured.
type Asset struct {
    Description string
    SumInsured  decimal.Decimal
    Currency    string
    Location    *Location
    RiskDetails string
}

// Request records a company's ask for coverage on one asset.
//
// Fields:
//  ID             – primary key identifier.
//  CompanyID      – user id of the owning company.
//  Title, Summary – free text shown to providers.
//  TargetCoverage – percent of the sum insured to be covered (1..100),
//                   fixed at creation.
//  Deadline       – bids are accepted strictly before this instant.
//  Asset          – the insured asset.
//  Status         – open, consortium_formed, finalized or closed.
//  FinalizedAt    – set when the consortium is locked.
//  CreatedAt      – creation timestamp.
//  UpdatedAt      – last update timestamp.
type Request struct {
    ID             uint64        // requests.id
    CompanyID      uint64        // requests.company_id
    Title          string        // requests.title
    Summary        string        // requests.summary
    TargetCoverage int           // requests.target_coverage
    Deadline       time.Time     // requests.deadline
    Asset          Asset         // requests.asset_* columns
    Status         RequestStatus // requests.status
    FinalizedAt    *time.Time    // requests.finalized_at (nullable)
    CreatedAt      time.Time     // requests.created_at
    UpdatedAt      time.Time     // requests.updated_at
}

// Target returns the target coverage as a decimal percent.
func (r *Request) Target() decimal.Decimal {
    return decimal.NewFromInt(int64(r.TargetCoverage))
}

// AcceptsBidsAt reports whether a new bid may be placed at now.
func (r *Request) AcceptsBidsAt(now time.Time) bool {
    return r.Status == RequestOpen && now.Before(r.Deadline)
}

// OpenRequestSort selects the ordering of the open-request listing.
type OpenRequestSort string

const (
    SortNewest      OpenRequestSort = "new"
    SortSumDesc     OpenRequestSort = "sum_desc"
    SortDeadlineAsc OpenRequestSort = "deadline_asc"
)

const (
    DefaultPageLimit = 20
    MaxPageLimit     = 100
)

// OpenRequestQuery filters the discovery listing.  Zero values mean
// "no filter".
type OpenRequestQuery struct {
    Search  string
    Country string
    MinSum  *decimal.Decimal
    MaxSum  *decimal.Decimal
    Sort    OpenRequestSort
    Page    int
    Limit   int
}

// Normalize clamps paging values and falls back to the newest-first sort.
func (q OpenRequestQuery) Normalize() OpenRequestQuery {
    q.Page, q.Limit = NormalizePage(q.Page, q.Limit)
    switch q.Sort {
    case SortNewest, SortSumDesc, SortDeadlineAsc:
    default:
        q.Sort = SortNewest
    }
    return q
}

// Offset is the number of rows skipped before the current page.
func (q OpenRequestQuery) Offset() int { return (q.Page - 1) * q.Limit }

// NormalizePage applies the default page (1) and limit bounds.
func NormalizePage(page, limit int) (int, int) {
    if page < 1 {
        page = 1
    }
    if limit < 1 {
        limit = DefaultPageLimit
    }
    if limit > MaxPageLimit {
        limit = MaxPageLimit
    }
    return page, limit
}

// Page is one slice of a paginated listing.
type Page[T any] struct {
    Items   []T
    Page    int
    Limit   int
    Total   int
    HasMore bool
}

// NewPage assembles a Page and computes HasMore from the total.
func NewPage[T any](items []T, page, limit, total int) Page[T] {
    if items == nil {
        items = []T{}
    }
    return Page[T]{
        Items:   items,
        Page:    page,
        Limit:   limit,
        Total:   total,
        HasMore: page*limit < total,
    }
}
