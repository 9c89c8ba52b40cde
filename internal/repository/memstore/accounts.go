package memstore

import (
	"context"
	"strings"
	"time"

	"github.com/iliyamo/coverage-consortium/internal/model"
	"github.com/iliyamo/coverage-consortium/internal/utils"
)

// Account and refresh-token methods mirror repository.UserRepo and
// repository.TokenRepo so the HTTP layer can run without MySQL.

type session struct {
	userID  uint64
	expires time.Time
	revoked bool
}

// Create registers an account.  Providers start in KYC review.
func (s *Store) Create(_ context.Context, in model.NewUser, cost int) (uint64, error) {
	email := strings.ToLower(strings.TrimSpace(in.Email))
	hash, err := utils.HashPassword(in.Password, cost)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Email == email {
			return 0, model.ErrEmailExists
		}
	}
	now := time.Now().UTC()
	u := model.User{
		ID:           s.nextUser.Add(1),
		Name:         strings.TrimSpace(in.Name),
		Email:        email,
		PasswordHash: hash,
		Role:         in.Role,
		OrgName:      strings.TrimSpace(in.OrgName),
		Country:      strings.TrimSpace(in.Country),
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if in.Role == model.RoleProvider {
		u.KYCStatus = model.KYCPending
	}
	s.users[u.ID] = u
	return u.ID, nil
}

// GetByEmail fetches a user by normalized email.
func (s *Store) GetByEmail(_ context.Context, email string) (*model.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if u.Email == email {
			return &u, nil
		}
	}
	return nil, model.ErrNotFound
}

// GetByID fetches a committed user.
func (s *Store) GetByID(_ context.Context, id uint64) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	return &u, nil
}

func (s *Store) StoreRefresh(_ context.Context, userID uint64, tokenHash string, exp time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[tokenHash] = session{userID: userID, expires: exp}
	return nil
}

func (s *Store) ValidateRefresh(_ context.Context, tokenHash string, now time.Time) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.sessions[tokenHash]
	if !ok || t.revoked || !now.Before(t.expires) {
		return 0, model.ErrNotFound
	}
	return t.userID, nil
}

func (s *Store) RevokeByHash(_ context.Context, tokenHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.sessions[tokenHash]; ok {
		t.revoked = true
		s.sessions[tokenHash] = t
	}
	return nil
}

func (s *Store) RevokeAllForUser(_ context.Context, userID uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for h, t := range s.sessions {
		if t.userID == userID {
			t.revoked = true
			s.sessions[h] = t
		}
	}
	return nil
}
