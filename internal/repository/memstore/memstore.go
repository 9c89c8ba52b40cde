// Package memstore is an in-process implementation of service.Store.  It
// keeps the same locking contract as the MySQL store: LockRequest and
// LockUser hold a per-row lock until the unit of work ends, and writes
// become visible to other units of work only on commit.
package memstore

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/iliyamo/coverage-consortium/internal/model"
	"github.com/iliyamo/coverage-consortium/internal/service"
)

var errReadOnly = errors.New("memstore: write in read-only transaction")

// Store holds all rows in memory.
type Store struct {
	mu         sync.RWMutex
	requests   map[uint64]model.Request
	users      map[uint64]model.User
	bids       map[uint64]model.Bid
	consortium map[uint64]model.Consortium
	sessions   map[string]session

	lockMu sync.Mutex
	locks  map[string]chan struct{}

	nextRequest atomic.Uint64
	nextUser    atomic.Uint64
	nextBid     atomic.Uint64
}

// New returns an empty store.
func New() *Store {
	return &Store{
		requests:   make(map[uint64]model.Request),
		users:      make(map[uint64]model.User),
		bids:       make(map[uint64]model.Bid),
		consortium: make(map[uint64]model.Consortium),
		sessions:   make(map[string]session),
		locks:      make(map[string]chan struct{}),
	}
}

var _ service.Store = (*Store)(nil)

// AddUser inserts u directly, assigning an id when u.ID is zero, and
// returns the stored copy.  It is meant for seeding.
func (s *Store) AddUser(u model.User) model.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.ID == 0 {
		u.ID = s.nextUser.Add(1)
	} else if u.ID > s.nextUser.Load() {
		s.nextUser.Store(u.ID)
	}
	s.users[u.ID] = u
	return u
}

// InTx runs fn in a unit of work and commits its writes when fn returns nil.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx service.Tx) error) error {
	tx := s.begin(false)
	defer tx.release()
	if err := fn(ctx, tx); err != nil {
		return err
	}
	s.commit(tx)
	return nil
}

// View runs fn in a read-only unit of work.
func (s *Store) View(ctx context.Context, fn func(ctx context.Context, tx service.Tx) error) error {
	tx := s.begin(true)
	defer tx.release()
	return fn(ctx, tx)
}

func (s *Store) begin(readOnly bool) *memTx {
	return &memTx{
		s:          s,
		readOnly:   readOnly,
		held:       make(map[string]chan struct{}),
		requests:   make(map[uint64]model.Request),
		users:      make(map[uint64]model.User),
		bids:       make(map[uint64]model.Bid),
		consortium: make(map[uint64]model.Consortium),
	}
}

func (s *Store) commit(tx *memTx) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, r := range tx.requests {
		s.requests[id] = r
	}
	for id, u := range tx.users {
		s.users[id] = u
	}
	for id, b := range tx.bids {
		s.bids[id] = b
	}
	for id, c := range tx.consortium {
		s.consortium[id] = c
	}
}

func (s *Store) lockFor(key string) chan struct{} {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	ch, ok := s.locks[key]
	if !ok {
		ch = make(chan struct{}, 1)
		s.locks[key] = ch
	}
	return ch
}

// memTx buffers writes in an overlay that is merged on commit.
type memTx struct {
	s        *Store
	readOnly bool
	held     map[string]chan struct{}

	requests   map[uint64]model.Request
	users      map[uint64]model.User
	bids       map[uint64]model.Bid
	consortium map[uint64]model.Consortium
}

func (tx *memTx) lock(ctx context.Context, key string) error {
	if _, ok := tx.held[key]; ok {
		return nil
	}
	ch := tx.s.lockFor(key)
	select {
	case ch <- struct{}{}:
		tx.held[key] = ch
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (tx *memTx) release() {
	for key, ch := range tx.held {
		<-ch
		delete(tx.held, key)
	}
}

func (tx *memTx) writable() error {
	if tx.readOnly {
		return errReadOnly
	}
	return nil
}

func requestKey(id uint64) string { return "request:" + strconv.FormatUint(id, 10) }
func userKey(id uint64) string    { return "user:" + strconv.FormatUint(id, 10) }

// ---- requests

func (tx *memTx) request(id uint64) (model.Request, bool) {
	if r, ok := tx.requests[id]; ok {
		return r, true
	}
	tx.s.mu.RLock()
	defer tx.s.mu.RUnlock()
	r, ok := tx.s.requests[id]
	return r, ok
}

func (tx *memTx) allRequests() []model.Request {
	tx.s.mu.RLock()
	merged := make(map[uint64]model.Request, len(tx.s.requests)+len(tx.requests))
	for id, r := range tx.s.requests {
		merged[id] = r
	}
	tx.s.mu.RUnlock()
	for id, r := range tx.requests {
		merged[id] = r
	}
	out := make([]model.Request, 0, len(merged))
	for _, r := range merged {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (tx *memTx) LockRequest(ctx context.Context, id uint64) (*model.Request, error) {
	if err := tx.lock(ctx, requestKey(id)); err != nil {
		return nil, err
	}
	return tx.GetRequest(ctx, id)
}

func (tx *memTx) GetRequest(_ context.Context, id uint64) (*model.Request, error) {
	r, ok := tx.request(id)
	if !ok {
		return nil, model.ErrNotFound
	}
	return &r, nil
}

func (tx *memTx) InsertRequest(_ context.Context, r *model.Request) error {
	if err := tx.writable(); err != nil {
		return err
	}
	r.ID = tx.s.nextRequest.Add(1)
	tx.requests[r.ID] = *r
	return nil
}

func (tx *memTx) UpdateRequestStatus(_ context.Context, id uint64, status model.RequestStatus, finalizedAt *time.Time, now time.Time) error {
	if err := tx.writable(); err != nil {
		return err
	}
	r, ok := tx.request(id)
	if !ok {
		return model.ErrNotFound
	}
	r.Status = status
	if finalizedAt != nil {
		r.FinalizedAt = finalizedAt
	}
	r.UpdatedAt = now
	tx.requests[id] = r
	return nil
}

func (tx *memTx) ListRequestsByCompany(_ context.Context, companyID uint64) ([]model.Request, error) {
	var out []model.Request
	for _, r := range tx.allRequests() {
		if r.CompanyID == companyID {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (tx *memTx) SearchOpenRequests(_ context.Context, q model.OpenRequestQuery, now time.Time) ([]model.Request, int, error) {
	needle := strings.ToLower(q.Search)
	var matched []model.Request
	for _, r := range tx.allRequests() {
		if !r.AcceptsBidsAt(now) {
			continue
		}
		if needle != "" &&
			!strings.Contains(strings.ToLower(r.Title), needle) &&
			!strings.Contains(strings.ToLower(r.Summary), needle) &&
			!strings.Contains(strings.ToLower(r.Asset.Description), needle) {
			continue
		}
		if q.Country != "" && (r.Asset.Location == nil || !strings.EqualFold(r.Asset.Location.Country, q.Country)) {
			continue
		}
		if q.MinSum != nil && r.Asset.SumInsured.LessThan(*q.MinSum) {
			continue
		}
		if q.MaxSum != nil && r.Asset.SumInsured.GreaterThan(*q.MaxSum) {
			continue
		}
		matched = append(matched, r)
	}
	sort.SliceStable(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		switch q.Sort {
		case model.SortSumDesc:
			if !a.Asset.SumInsured.Equal(b.Asset.SumInsured) {
				return a.Asset.SumInsured.GreaterThan(b.Asset.SumInsured)
			}
		case model.SortDeadlineAsc:
			if !a.Deadline.Equal(b.Deadline) {
				return a.Deadline.Before(b.Deadline)
			}
		default:
			if !a.CreatedAt.Equal(b.CreatedAt) {
				return a.CreatedAt.After(b.CreatedAt)
			}
		}
		return a.ID > b.ID
	})
	total := len(matched)
	start := q.Offset()
	if start > total {
		start = total
	}
	end := start + q.Limit
	if end > total {
		end = total
	}
	return matched[start:end], total, nil
}

func (tx *memTx) ListOverdueRequests(_ context.Context, now time.Time, afterID uint64, limit int) ([]uint64, error) {
	pending := make(map[uint64]bool)
	for _, b := range tx.allBids() {
		if b.Status == model.BidPending {
			pending[b.RequestID] = true
		}
	}
	var ids []uint64
	for _, r := range tx.allRequests() {
		if r.ID <= afterID || now.Before(r.Deadline) {
			continue
		}
		active := r.Status == model.RequestOpen || r.Status == model.RequestConsortiumFormed
		if !active && !pending[r.ID] {
			continue
		}
		ids = append(ids, r.ID)
		if limit > 0 && len(ids) == limit {
			break
		}
	}
	return ids, nil
}

// ---- users

func (tx *memTx) user(id uint64) (model.User, bool) {
	if u, ok := tx.users[id]; ok {
		return u, true
	}
	tx.s.mu.RLock()
	defer tx.s.mu.RUnlock()
	u, ok := tx.s.users[id]
	return u, ok
}

func (tx *memTx) LockUser(ctx context.Context, id uint64) (*model.User, error) {
	if err := tx.lock(ctx, userKey(id)); err != nil {
		return nil, err
	}
	return tx.GetUser(ctx, id)
}

func (tx *memTx) GetUser(_ context.Context, id uint64) (*model.User, error) {
	u, ok := tx.user(id)
	if !ok {
		return nil, model.ErrNotFound
	}
	return &u, nil
}

func (tx *memTx) UpdateKYC(_ context.Context, u *model.User) error {
	if err := tx.writable(); err != nil {
		return err
	}
	cur, ok := tx.user(u.ID)
	if !ok {
		return model.ErrNotFound
	}
	cur.KYCStatus = u.KYCStatus
	cur.KYCResubmitCount = u.KYCResubmitCount
	cur.KYCNote = u.KYCNote
	cur.KYCSubmittedAt = u.KYCSubmittedAt
	cur.KYCDecidedAt = u.KYCDecidedAt
	tx.users[u.ID] = cur
	return nil
}

func (tx *memTx) ListProvidersByKYC(_ context.Context, status model.KYCStatus, search string, offset, limit int) ([]model.User, int, error) {
	tx.s.mu.RLock()
	merged := make(map[uint64]model.User, len(tx.s.users))
	for id, u := range tx.s.users {
		merged[id] = u
	}
	tx.s.mu.RUnlock()
	for id, u := range tx.users {
		merged[id] = u
	}
	needle := strings.ToLower(search)
	var out []model.User
	for _, u := range merged {
		if u.Role != model.RoleProvider || u.KYCStatus != status {
			continue
		}
		if needle != "" &&
			!strings.Contains(strings.ToLower(u.Name), needle) &&
			!strings.Contains(strings.ToLower(u.Email), needle) &&
			!strings.Contains(strings.ToLower(u.OrgName), needle) {
			continue
		}
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := submitted(out[i]), submitted(out[j])
		if !a.Equal(b) {
			return a.Before(b)
		}
		return out[i].ID < out[j].ID
	})
	total := len(out)
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return out[offset:end], total, nil
}

func submitted(u model.User) time.Time {
	if u.KYCSubmittedAt != nil {
		return *u.KYCSubmittedAt
	}
	return u.CreatedAt
}

// ---- bids

func (tx *memTx) bid(id uint64) (model.Bid, bool) {
	if b, ok := tx.bids[id]; ok {
		return b, true
	}
	tx.s.mu.RLock()
	defer tx.s.mu.RUnlock()
	b, ok := tx.s.bids[id]
	return b, ok
}

func (tx *memTx) allBids() []model.Bid {
	tx.s.mu.RLock()
	merged := make(map[uint64]model.Bid, len(tx.s.bids)+len(tx.bids))
	for id, b := range tx.s.bids {
		merged[id] = b
	}
	tx.s.mu.RUnlock()
	for id, b := range tx.bids {
		merged[id] = b
	}
	out := make([]model.Bid, 0, len(merged))
	for _, b := range merged {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (tx *memTx) InsertBid(_ context.Context, b *model.Bid) error {
	if err := tx.writable(); err != nil {
		return err
	}
	b.ID = tx.s.nextBid.Add(1)
	tx.bids[b.ID] = *b
	return nil
}

func (tx *memTx) GetBid(_ context.Context, id uint64) (*model.Bid, error) {
	b, ok := tx.bid(id)
	if !ok {
		return nil, model.ErrNotFound
	}
	return &b, nil
}

func (tx *memTx) ListBidsByRequest(_ context.Context, requestID uint64) ([]model.Bid, error) {
	var out []model.Bid
	for _, b := range tx.allBids() {
		if b.RequestID == requestID {
			out = append(out, b)
		}
	}
	return out, nil
}

func (tx *memTx) ListBidsByProvider(_ context.Context, providerID uint64) ([]model.Bid, error) {
	var out []model.Bid
	for _, b := range tx.allBids() {
		if b.ProviderID == providerID {
			out = append(out, b)
		}
	}
	return out, nil
}

func (tx *memTx) UpdateBidStatus(_ context.Context, ids []uint64, status model.BidStatus, now time.Time) error {
	if err := tx.writable(); err != nil {
		return err
	}
	for _, id := range ids {
		b, ok := tx.bid(id)
		if !ok {
			return model.ErrNotFound
		}
		b.Status = status
		b.UpdatedAt = now
		tx.bids[id] = b
	}
	return nil
}

// ---- consortia

func (tx *memTx) GetConsortium(_ context.Context, requestID uint64) (*model.Consortium, error) {
	c, ok := tx.consortium[requestID]
	if !ok {
		tx.s.mu.RLock()
		c, ok = tx.s.consortium[requestID]
		tx.s.mu.RUnlock()
	}
	if !ok {
		return nil, model.ErrNotFound
	}
	out := c.Clone()
	return &out, nil
}

func (tx *memTx) SaveConsortium(_ context.Context, c *model.Consortium) error {
	if err := tx.writable(); err != nil {
		return err
	}
	tx.consortium[c.RequestID] = c.Clone()
	return nil
}
