package handler

import (
    "context"
    "errors"
    "net/http"
    "strings"
    "time"

    "github.com/labstack/echo/v4"
    "go.uber.org/zap"

    "github.com/iliyamo/coverage-consortium/internal/config"
    "github.com/iliyamo/coverage-consortium/internal/model"
    "github.com/iliyamo/coverage-consortium/internal/utils"
)

// Accounts is the user store behind registration and login.
// repository.UserRepo and memstore.Store both satisfy it.
type Accounts interface {
    Create(ctx context.Context, in model.NewUser, cost int) (uint64, error)
    GetByEmail(ctx context.Context, email string) (*model.User, error)
    GetByID(ctx context.Context, id uint64) (*model.User, error)
}

// Sessions stores hashed refresh tokens.
type Sessions interface {
    StoreRefresh(ctx context.Context, userID uint64, tokenHash string, exp time.Time) error
    ValidateRefresh(ctx context.Context, tokenHash string, now time.Time) (uint64, error)
    RevokeByHash(ctx context.Context, tokenHash string) error
    RevokeAllForUser(ctx context.Context, userID uint64) error
}

// ReviewQueue receives newly registered providers.
type ReviewQueue interface {
    SubmitForReview(ctx context.Context, providerID uint64) (model.KYCRecord, error)
}

// AuthHandler bundles dependencies for auth endpoints.
type AuthHandler struct {
    Cfg     config.Config
    Users   Accounts
    Tokens  Sessions
    Reviews ReviewQueue
    Log     *zap.Logger
}

func NewAuthHandler(cfg config.Config, u Accounts, t Sessions, r ReviewQueue, log *zap.Logger) *AuthHandler {
    return &AuthHandler{Cfg: cfg, Users: u, Tokens: t, Reviews: r, Log: log.Named("auth")}
}

type registerReq struct {
    Name     string `json:"name"`
    Email    string `json:"email"`
    Password string `json:"password"`
    Role     string `json:"role"` // company | provider
    OrgName  string `json:"orgName"`
    Country  string `json:"country"`
}
type loginReq struct {
    Email    string `json:"email"`
    Password string `json:"password"`
}
type refreshReq struct {
    RefreshToken string `json:"refresh_token"`
}

type tokenPart struct {
    Token   string    `json:"token"`
    Expires time.Time `json:"expires"`
}
type userPart struct {
    ID               string          `json:"id"`
    Name             string          `json:"name"`
    Email            string          `json:"email"`
    Role             model.Role      `json:"role"`
    OrgName          string          `json:"orgName,omitempty"`
    KYCStatus        model.KYCStatus `json:"kycStatus,omitempty"`
    KYCResubmitCount int             `json:"kycResubmitCount"`
}
type authResp struct {
    Token   string    `json:"token"` // same as Access.Token
    User    userPart  `json:"user"`
    Access  tokenPart `json:"access"`
    Refresh tokenPart `json:"refresh"`
}

func userView(u *model.User) userPart {
    return userPart{
        ID:               idStr(u.ID),
        Name:             u.Name,
        Email:            u.Email,
        Role:             u.Role,
        OrgName:          u.OrgName,
        KYCStatus:        u.KYCStatus,
        KYCResubmitCount: u.KYCResubmitCount,
    }
}

// issue signs an access token and stores a fresh refresh token for u.
func (h *AuthHandler) issue(ctx context.Context, u *model.User) (authResp, error) {
    access, err := utils.NewAccessToken(h.Cfg.JWTSecret, u.ID, string(u.Role), h.Cfg.AccessTTLMin)
    if err != nil {
        return authResp{}, err
    }
    refresh, err := utils.NewRefreshToken(h.Cfg.RefreshTTLDays)
    if err != nil {
        return authResp{}, err
    }
    if err := h.Tokens.StoreRefresh(ctx, u.ID, utils.HashRefreshRaw(refresh.Raw), refresh.Exp); err != nil {
        return authResp{}, err
    }
    return authResp{
        Token:   access.Token,
        User:    userView(u),
        Access:  tokenPart{Token: access.Token, Expires: access.Exp},
        Refresh: tokenPart{Token: refresh.Raw, Expires: refresh.Exp},
    }, nil
}

// Register creates a company or provider account and returns tokens.
// Providers are queued for KYC review immediately.
func (h *AuthHandler) Register(c echo.Context) error {
    var req registerReq
    if err := c.Bind(&req); err != nil {
        return badRequest(c, "invalid body")
    }
    req.Email = strings.ToLower(strings.TrimSpace(req.Email))
    req.Name = strings.TrimSpace(req.Name)
    if req.Email == "" || req.Password == "" || req.Name == "" {
        return badRequest(c, "name, email and password are required")
    }
    role := model.Role(strings.ToLower(strings.TrimSpace(req.Role)))
    if role != model.RoleCompany && role != model.RoleProvider {
        return badRequest(c, "role must be company or provider")
    }

    ctx, cancel := callCtx(c)
    defer cancel()

    uid, err := h.Users.Create(ctx, model.NewUser{
        Name: req.Name, Email: req.Email, Password: req.Password,
        Role: role, OrgName: req.OrgName, Country: req.Country,
    }, h.Cfg.BcryptCost)
    switch {
    case errors.Is(err, model.ErrEmailExists):
        return c.JSON(http.StatusConflict, echo.Map{"error": "email_exists", "message": "email already exists"})
    case errors.Is(err, utils.ErrWeakPassword):
        return badRequest(c, err.Error())
    case err != nil:
        return fail(c, err)
    }

    if role == model.RoleProvider {
        if _, err := h.Reviews.SubmitForReview(ctx, uid); err != nil {
            return fail(c, err)
        }
    }
    u, err := h.Users.GetByID(ctx, uid)
    if err != nil {
        return fail(c, err)
    }
    resp, err := h.issue(ctx, u)
    if err != nil {
        return fail(c, err)
    }
    h.Log.Info("registered", zap.Uint64("user_id", uid), zap.String("role", string(role)))
    return c.JSON(http.StatusCreated, resp)
}

// Login verifies credentials and returns a new token pair.
func (h *AuthHandler) Login(c echo.Context) error {
    var req loginReq
    if err := c.Bind(&req); err != nil {
        return badRequest(c, "invalid body")
    }
    req.Email = strings.ToLower(strings.TrimSpace(req.Email))
    if req.Email == "" || req.Password == "" {
        return badRequest(c, "email/password required")
    }

    ctx, cancel := callCtx(c)
    defer cancel()

    u, err := h.Users.GetByEmail(ctx, req.Email)
    if errors.Is(err, model.ErrNotFound) || (err == nil && (!u.IsActive || !utils.VerifyPassword(u.PasswordHash, req.Password))) {
        return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized", "message": "invalid credentials"})
    }
    if err != nil {
        return fail(c, err)
    }
    resp, err := h.issue(ctx, u)
    if err != nil {
        return fail(c, err)
    }
    return c.JSON(http.StatusOK, resp)
}

// refreshUser resolves the owner of a raw refresh token.
func (h *AuthHandler) refreshUser(ctx context.Context, raw string) (*model.User, string, error) {
    hash := utils.HashRefreshRaw(strings.TrimSpace(raw))
    uid, err := h.Tokens.ValidateRefresh(ctx, hash, time.Now().UTC())
    if err != nil {
        return nil, "", err
    }
    u, err := h.Users.GetByID(ctx, uid)
    if err != nil {
        return nil, "", err
    }
    return u, hash, nil
}

// Refresh rotates the refresh token and issues a new pair.
func (h *AuthHandler) Refresh(c echo.Context) error {
    var req refreshReq
    if err := c.Bind(&req); err != nil || strings.TrimSpace(req.RefreshToken) == "" {
        return badRequest(c, "refresh_token required")
    }
    ctx, cancel := callCtx(c)
    defer cancel()

    u, hash, err := h.refreshUser(ctx, req.RefreshToken)
    if errors.Is(err, model.ErrNotFound) {
        return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized", "message": "invalid refresh"})
    }
    if err != nil {
        return fail(c, err)
    }
    if err := h.Tokens.RevokeByHash(ctx, hash); err != nil {
        return fail(c, err)
    }
    resp, err := h.issue(ctx, u)
    if err != nil {
        return fail(c, err)
    }
    return c.JSON(http.StatusOK, resp)
}

// RefreshAccess issues a new access token without rotating the refresh
// token.
func (h *AuthHandler) RefreshAccess(c echo.Context) error {
    var req refreshReq
    if err := c.Bind(&req); err != nil || strings.TrimSpace(req.RefreshToken) == "" {
        return badRequest(c, "refresh_token required")
    }
    ctx, cancel := callCtx(c)
    defer cancel()

    u, _, err := h.refreshUser(ctx, req.RefreshToken)
    if errors.Is(err, model.ErrNotFound) {
        return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized", "message": "invalid refresh"})
    }
    if err != nil {
        return fail(c, err)
    }
    access, err := utils.NewAccessToken(h.Cfg.JWTSecret, u.ID, string(u.Role), h.Cfg.AccessTTLMin)
    if err != nil {
        return fail(c, err)
    }
    return c.JSON(http.StatusOK, echo.Map{
        "access": tokenPart{Token: access.Token, Expires: access.Exp},
    })
}

// Logout revokes one session when a refresh_token is supplied, otherwise
// every session of the bearer.
func (h *AuthHandler) Logout(c echo.Context) error {
    var uid uint64
    if auth := c.Request().Header.Get(echo.HeaderAuthorization); strings.HasPrefix(auth, "Bearer ") {
        if claims, err := utils.ParseAccessToken(h.Cfg.JWTSecret, strings.TrimPrefix(auth, "Bearer ")); err == nil {
            uid, _ = claims.UserID()
        }
    }
    var req refreshReq
    _ = c.Bind(&req)
    raw := strings.TrimSpace(req.RefreshToken)

    ctx, cancel := callCtx(c)
    defer cancel()

    switch {
    case raw != "":
        hash := utils.HashRefreshRaw(raw)
        if _, err := h.Tokens.ValidateRefresh(ctx, hash, time.Now().UTC()); err != nil {
            return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized", "message": "invalid refresh token"})
        }
        if err := h.Tokens.RevokeByHash(ctx, hash); err != nil {
            return fail(c, err)
        }
    case uid != 0:
        if err := h.Tokens.RevokeAllForUser(ctx, uid); err != nil {
            return fail(c, err)
        }
    default:
        return badRequest(c, "provide Authorization header or refresh_token")
    }
    return c.NoContent(http.StatusNoContent)
}

// Me returns the caller's profile including KYC state.
func (h *AuthHandler) Me(c echo.Context) error {
    a, ok := actor(c)
    if !ok {
        return unauthorized(c)
    }
    ctx, cancel := callCtx(c)
    defer cancel()
    u, err := h.Users.GetByID(ctx, a.UserID)
    if errors.Is(err, model.ErrNotFound) {
        return unauthorized(c)
    }
    if err != nil {
        return fail(c, err)
    }
    return c.JSON(http.StatusOK, echo.Map{"user": userView(u)})
}
