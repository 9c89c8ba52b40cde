package model

import (
    "errors"
    "time"
)

// ErrEmailExists is returned when registering an address that is taken.
var ErrEmailExists = errors.New("email already exists")

// Role names the kind of account making a call.  Roles travel in the
// JWT "role" claim and are checked by the engine, not the transport.
type Role string

const (
    RoleCompany  Role = "company"  // posts requests and assembles consortia
    RoleProvider Role = "provider" // underwriter placing bids; gated by KYC
    RoleAdmin    Role = "admin"    // KYC reviewer
    RoleSystem   Role = "system"   // internal callers such as the deadline scheduler
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
    switch r {
    case RoleCompany, RoleProvider, RoleAdmin, RoleSystem:
        return true
    }
    return false
}

// KYCStatus is the verification state of a provider.
type KYCStatus string

const (
    KYCPending  KYCStatus = "pending"
    KYCVerified KYCStatus = "verified"
    KYCRejected KYCStatus = "rejected"
)

// User represents an account as stored in the `users` table.  The user
// row is the single source of truth for role and KYC state; KYCRecord,
// ProviderLite and CompanyCard are read-only views derived from it.
//
// Fields:
//  ID               – primary key identifier of the user.
//  Name             – display name.
//  Email            – unique, lower-cased email address.
//  PasswordHash     – bcrypt hashed password.
//  Role             – company, provider or admin.
//  OrgName          – organisation the account acts for.
//  Country          – optional country of the organisation.
//  KYCStatus        – verification state (meaningful for providers).
//  KYCResubmitCount – number of resubmissions already used.
//  KYCNote          – last reviewer note or rejection reason.
//  KYCSubmittedAt   – when the provider last entered review.
//  KYCDecidedAt     – when a reviewer last decided.
//  IsActive         – whether the account is active.
//  CreatedAt        – timestamp of creation.
//  UpdatedAt        – timestamp of last update.
type User struct {
    ID               uint64     // users.id
    Name             string     // users.name
    Email            string     // users.email
    PasswordHash     string     // users.password_hash
    Role             Role       // users.role
    OrgName          string     // users.org_name
    Country          string     // users.country
    KYCStatus        KYCStatus  // users.kyc_status
    KYCResubmitCount int        // users.kyc_resubmit_count
    KYCNote          string     // users.kyc_note
    KYCSubmittedAt   *time.Time // users.kyc_submitted_at (nullable)
    KYCDecidedAt     *time.Time // users.kyc_decided_at (nullable)
    IsActive         bool       // users.is_active
    CreatedAt        time.Time  // users.created_at
    UpdatedAt        time.Time  // users.updated_at
}

// NewUser carries the fields needed to register an account.
type NewUser struct {
    Name     string
    Email    string
    Password string
    Role     Role
    OrgName  string
    Country  string
}

// KYCRecord is the verification view of a provider.
type KYCRecord struct {
    ProviderID    uint64
    Status        KYCStatus
    ResubmitCount int
    Note          string
    SubmittedAt   *time.Time
    DecidedAt     *time.Time
}

// KYC returns the verification view of u.
func (u User) KYC() KYCRecord {
    return KYCRecord{
        ProviderID:    u.ID,
        Status:        u.KYCStatus,
        ResubmitCount: u.KYCResubmitCount,
        Note:          u.KYCNote,
        SubmittedAt:   u.KYCSubmittedAt,
        DecidedAt:     u.KYCDecidedAt,
    }
}

// ProviderLite is the provider card shown next to bids and in the
// reviewer queue.
type ProviderLite struct {
    ID          uint64
    Name        string
    Email       string
    OrgName     string
    Country     string
    KYCStatus   KYCStatus
    SubmittedAt *time.Time
}

// Lite returns the provider card for u.
func (u User) Lite() ProviderLite {
    return ProviderLite{
        ID:          u.ID,
        Name:        u.Name,
        Email:       u.Email,
        OrgName:     u.OrgName,
        Country:     u.Country,
        KYCStatus:   u.KYCStatus,
        SubmittedAt: u.KYCSubmittedAt,
    }
}

// CompanyCard identifies the company behind a request.
type CompanyCard struct {
    ID      uint64
    Name    string
    OrgName string
    Email   string
}

// Card returns the company card for u.
func (u User) Card() CompanyCard {
    return CompanyCard{ID: u.ID, Name: u.Name, OrgName: u.OrgName, Email: u.Email}
}

// RefreshToken models an entry in the `refresh_tokens` table.  Only the
// SHA‑256 hash of the token value is stored.
type RefreshToken struct {
    ID        uint64     // refresh_tokens.id
    UserID    uint64     // refresh_tokens.user_id
    TokenHash string     // refresh_tokens.token_hash
    ExpiresAt time.Time  // refresh_tokens.expires_at
    RevokedAt *time.Time // refresh_tokens.revoked_at (nullable)
    CreatedAt time.Time  // refresh_tokens.created_at
}
