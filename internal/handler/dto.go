package handler

import (
    "encoding/json"
    "strconv"
    "time"

    "github.com/shopspring/decimal"

    "github.com/iliyamo/coverage-consortium/internal/model"
    "github.com/iliyamo/coverage-consortium/internal/service"
)

// JSON views.  Ids are strings and amounts plain JSON numbers rendered
// from the exact decimal, so 33.333333 never turns into a float.

func idStr(id uint64) string { return strconv.FormatUint(id, 10) }

func num(d decimal.Decimal) json.Number { return json.Number(d.String()) }

type geoJSON struct {
    Lat float64 `json:"lat"`
    Lng float64 `json:"lng"`
}

type locationJSON struct {
    Country string   `json:"country,omitempty"`
    City    string   `json:"city,omitempty"`
    Geo     *geoJSON `json:"geo,omitempty"`
}

type assetJSON struct {
    Description string        `json:"description"`
    SumInsured  json.Number   `json:"sumInsured"`
    Currency    string        `json:"currency"`
    Location    *locationJSON `json:"location,omitempty"`
    RiskDetails string        `json:"riskDetails,omitempty"`
}

type requestJSON struct {
    ID             string              `json:"id"`
    ClientID       string              `json:"clientId"`
    Title          string              `json:"title"`
    Summary        string              `json:"summary"`
    TargetCoverage int                 `json:"targetCoverage"`
    Status         model.RequestStatus `json:"status"`
    Deadline       time.Time           `json:"deadline"`
    Asset          assetJSON           `json:"asset"`
    FinalizedAt    *time.Time          `json:"finalizedAt,omitempty"`
    CreatedAt      time.Time           `json:"createdAt"`
}

func requestView(r model.Request) requestJSON {
    a := assetJSON{
        Description: r.Asset.Description,
        SumInsured:  num(r.Asset.SumInsured),
        Currency:    r.Asset.Currency,
        RiskDetails: r.Asset.RiskDetails,
    }
    if l := r.Asset.Location; l != nil {
        a.Location = &locationJSON{Country: l.Country, City: l.City}
        if l.Lat != nil && l.Lng != nil {
            a.Location.Geo = &geoJSON{Lat: *l.Lat, Lng: *l.Lng}
        }
    }
    return requestJSON{
        ID:             idStr(r.ID),
        ClientID:       idStr(r.CompanyID),
        Title:          r.Title,
        Summary:        r.Summary,
        TargetCoverage: r.TargetCoverage,
        Status:         r.Status,
        Deadline:       r.Deadline.UTC(),
        Asset:          a,
        FinalizedAt:    r.FinalizedAt,
        CreatedAt:      r.CreatedAt.UTC(),
    }
}

func requestViews(rs []model.Request) []requestJSON {
    out := make([]requestJSON, 0, len(rs))
    for _, r := range rs {
        out = append(out, requestView(r))
    }
    return out
}

type providerJSON struct {
    ID          string          `json:"id"`
    Name        string          `json:"name"`
    Email       string          `json:"email"`
    OrgName     string          `json:"orgName,omitempty"`
    Country     string          `json:"country,omitempty"`
    KYCStatus   model.KYCStatus `json:"kycStatus"`
    SubmittedAt *time.Time      `json:"kycSubmittedAt,omitempty"`
}

func providerView(p model.ProviderLite) providerJSON {
    return providerJSON{
        ID:          idStr(p.ID),
        Name:        p.Name,
        Email:       p.Email,
        OrgName:     p.OrgName,
        Country:     p.Country,
        KYCStatus:   p.KYCStatus,
        SubmittedAt: p.SubmittedAt,
    }
}

type bidJSON struct {
    ID              string          `json:"id"`
    RequestID       string          `json:"requestId"`
    ProviderID      string          `json:"providerId"`
    CoveragePercent json.Number     `json:"coveragePercent"`
    Premium         json.Number     `json:"premium"`
    PremiumCurrency string          `json:"premiumCurrency"`
    Terms           string          `json:"terms,omitempty"`
    Status          model.BidStatus `json:"status"`
    Provider        *providerJSON   `json:"provider,omitempty"`
    CreatedAt       time.Time       `json:"createdAt"`
    UpdatedAt       time.Time       `json:"updatedAt"`
}

func bidView(b model.Bid) bidJSON {
    return bidJSON{
        ID:              idStr(b.ID),
        RequestID:       idStr(b.RequestID),
        ProviderID:      idStr(b.ProviderID),
        CoveragePercent: num(b.CoveragePercent),
        Premium:         num(b.Premium),
        PremiumCurrency: b.PremiumCurrency,
        Terms:           b.Terms,
        Status:          b.Status,
        CreatedAt:       b.CreatedAt.UTC(),
        UpdatedAt:       b.UpdatedAt.UTC(),
    }
}

func bidViews(vs []service.BidView) []bidJSON {
    out := make([]bidJSON, 0, len(vs))
    for _, v := range vs {
        j := bidView(v.Bid)
        p := providerView(v.Provider)
        j.Provider = &p
        out = append(out, j)
    }
    return out
}

type entryJSON struct {
    BidID           string      `json:"bidId"`
    ProviderID      string      `json:"providerId"`
    CoveragePercent json.Number `json:"coveragePercent"`
    Premium         json.Number `json:"premium"`
    PremiumCurrency string      `json:"premiumCurrency"`
    TermsSnapshot   string      `json:"termsSnapshot,omitempty"`
}

type consortiumJSON struct {
    RequestID          string      `json:"requestId"`
    Entries            []entryJSON `json:"entries"`
    TotalCoverage      json.Number `json:"totalCoverage"`
    IsLocked           bool        `json:"isLocked"`
    Revision           int         `json:"revision"`
    SumInsuredSnapshot json.Number `json:"sumInsuredSnapshot"`
    Currency           string      `json:"currency"`
    FinalizedAt        *time.Time  `json:"finalizedAt,omitempty"`
}

func consortiumView(c *model.Consortium) *consortiumJSON {
    if c == nil {
        return nil
    }
    entries := make([]entryJSON, 0, len(c.Entries))
    for _, e := range c.Entries {
        entries = append(entries, entryJSON{
            BidID:           idStr(e.BidID),
            ProviderID:      idStr(e.ProviderID),
            CoveragePercent: num(e.CoveragePercent),
            Premium:         num(e.Premium),
            PremiumCurrency: e.PremiumCurrency,
            TermsSnapshot:   e.TermsSnapshot,
        })
    }
    return &consortiumJSON{
        RequestID:          idStr(c.RequestID),
        Entries:            entries,
        TotalCoverage:      num(c.TotalCoverage),
        IsLocked:           c.IsLocked,
        Revision:           c.Revision,
        SumInsuredSnapshot: num(c.SumInsuredSnapshot),
        Currency:           c.Currency,
        FinalizedAt:        c.FinalizedAt,
    }
}

type companyJSON struct {
    ID      string `json:"id"`
    Name    string `json:"name"`
    OrgName string `json:"orgName,omitempty"`
    Email   string `json:"email,omitempty"`
}

func companyView(c model.CompanyCard) companyJSON {
    return companyJSON{ID: idStr(c.ID), Name: c.Name, OrgName: c.OrgName, Email: c.Email}
}

type kycJSON struct {
    ProviderID    string          `json:"providerId"`
    Status        model.KYCStatus `json:"kycStatus"`
    ResubmitCount int             `json:"kycResubmitCount"`
    Note          string          `json:"note,omitempty"`
    SubmittedAt   *time.Time      `json:"submittedAt,omitempty"`
    DecidedAt     *time.Time      `json:"decidedAt,omitempty"`
}

func kycView(r model.KYCRecord) kycJSON {
    return kycJSON{
        ProviderID:    idStr(r.ProviderID),
        Status:        r.Status,
        ResubmitCount: r.ResubmitCount,
        Note:          r.Note,
        SubmittedAt:   r.SubmittedAt,
        DecidedAt:     r.DecidedAt,
    }
}

type awardJSON struct {
    Request struct {
        ID             string              `json:"id"`
        Title          string              `json:"title"`
        Summary        string              `json:"summary,omitempty"`
        Status         model.RequestStatus `json:"status"`
        TargetCoverage int                 `json:"targetCoverage"`
        FinalizedAt    *time.Time          `json:"finalizedAt,omitempty"`
        SumInsured     json.Number         `json:"sumInsured"`
        Currency       string              `json:"currency"`
        Deadline       time.Time           `json:"deadline"`
    } `json:"request"`
    Allocation struct {
        CoveragePercent json.Number `json:"coveragePercent"`
        Premium         json.Number `json:"premium"`
        PremiumCurrency string      `json:"premiumCurrency"`
    } `json:"allocation"`
    Company companyJSON `json:"company"`
}

func awardView(a service.Award) awardJSON {
    var j awardJSON
    j.Request.ID = idStr(a.Request.ID)
    j.Request.Title = a.Request.Title
    j.Request.Summary = a.Request.Summary
    j.Request.Status = a.Request.Status
    j.Request.TargetCoverage = a.Request.TargetCoverage
    j.Request.FinalizedAt = a.Request.FinalizedAt
    j.Request.SumInsured = num(a.Request.Asset.SumInsured)
    j.Request.Currency = a.Request.Asset.Currency
    j.Request.Deadline = a.Request.Deadline.UTC()
    j.Allocation.CoveragePercent = num(a.Allocation.CoveragePercent)
    j.Allocation.Premium = num(a.Allocation.Premium)
    j.Allocation.PremiumCurrency = a.Allocation.PremiumCurrency
    j.Company = companyView(a.Company)
    return j
}

type pageJSON[T any] struct {
    Items   []T  `json:"items"`
    Page    int  `json:"page"`
    Limit   int  `json:"limit"`
    Total   int  `json:"total"`
    HasMore bool `json:"hasMore"`
}

func pageView[S, T any](p model.Page[S], conv func(S) T) pageJSON[T] {
    items := make([]T, 0, len(p.Items))
    for _, it := range p.Items {
        items = append(items, conv(it))
    }
    return pageJSON[T]{Items: items, Page: p.Page, Limit: p.Limit, Total: p.Total, HasMore: p.HasMore}
}
