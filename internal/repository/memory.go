package repository

import (
	"bytes"
	"context"
	"sort"
	"sync"

	"github.com/jonboulle/clockwork"

	"floodbuddy/internal/models"
)

// The memory repositories back development runs without Postgres and the
// package tests. They follow the Postgres semantics, including the
// (user_id, device_id) session upsert.

type MemoryUserRepository struct {
	mu    sync.RWMutex
	clock clockwork.Clock
	byID  map[string]models.User
}

func NewMemoryUserRepository(clock clockwork.Clock) *MemoryUserRepository {
	return &MemoryUserRepository{clock: clock, byID: make(map[string]models.User)}
}

func (r *MemoryUserRepository) Create(_ context.Context, user models.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.byID {
		if existing.Email == user.Email {
			return ErrEmailTaken
		}
	}
	now := r.clock.Now().UTC()
	user.CreatedAt = now
	user.UpdatedAt = now
	r.byID[user.ID] = user
	return nil
}

func (r *MemoryUserRepository) FindByEmail(_ context.Context, email string) (models.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, user := range r.byID {
		if user.Email == email {
			return user, nil
		}
	}
	return models.User{}, ErrUserNotFound
}

func (r *MemoryUserRepository) GetByID(_ context.Context, id string) (models.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	user, ok := r.byID[id]
	if !ok {
		return models.User{}, ErrUserNotFound
	}
	return user, nil
}

func (r *MemoryUserRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byID[id]; !ok {
		return ErrUserNotFound
	}
	delete(r.byID, id)
	return nil
}

type MemorySessionRepository struct {
	mu       sync.RWMutex
	clock    clockwork.Clock
	sessions map[string]models.Session
}

func NewMemorySessionRepository(clock clockwork.Clock) *MemorySessionRepository {
	return &MemorySessionRepository{clock: clock, sessions: make(map[string]models.Session)}
}

func (r *MemorySessionRepository) Create(_ context.Context, session models.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now().UTC()
	session.CreatedAt = now
	for id, existing := range r.sessions {
		if existing.UserID == session.UserID && existing.DeviceID == session.DeviceID {
			session.CreatedAt = existing.CreatedAt
			session.DeviceName = existing.DeviceName
			delete(r.sessions, id)
		}
	}
	session.LastSeenAt = now
	r.sessions[session.ID] = session
	return nil
}

func (r *MemorySessionRepository) CountByUser(_ context.Context, userID string) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	now := r.clock.Now()
	count := 0
	for _, s := range r.sessions {
		if s.UserID == userID && !s.Expired(now) {
			count++
		}
	}
	return count, nil
}

func (r *MemorySessionRepository) DeleteOldestSessions(_ context.Context, userID string, keepLatest int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()
	var live []models.Session
	for id, s := range r.sessions {
		if s.UserID != userID {
			continue
		}
		if s.Expired(now) {
			delete(r.sessions, id)
			continue
		}
		live = append(live, s)
	}
	sortByLastSeen(live)
	for i, s := range live {
		if i >= keepLatest {
			delete(r.sessions, s.ID)
		}
	}
	return nil
}

func (r *MemorySessionRepository) DeleteExpired(_ context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()
	var n int64
	for id, s := range r.sessions {
		if s.Expired(now) {
			delete(r.sessions, id)
			n++
		}
	}
	return n, nil
}

func (r *MemorySessionRepository) GetByID(_ context.Context, id string) (models.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[id]
	if !ok {
		return models.Session{}, ErrSessionNotFound
	}
	return s, nil
}

func (r *MemorySessionRepository) DeleteByID(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[id]; !ok {
		return ErrSessionNotFound
	}
	delete(r.sessions, id)
	return nil
}

func (r *MemorySessionRepository) DeleteByDevice(_ context.Context, userID string, deviceID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, s := range r.sessions {
		if s.UserID == userID && s.DeviceID == deviceID {
			delete(r.sessions, id)
		}
	}
	return nil
}

func (r *MemorySessionRepository) FindByRefreshHash(_ context.Context, userID string, refreshHash []byte) (models.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, s := range r.sessions {
		if s.UserID == userID && bytes.Equal(s.RefreshTokenHash, refreshHash) {
			return s, nil
		}
	}
	return models.Session{}, ErrSessionNotFound
}

func (r *MemorySessionRepository) ListByUser(_ context.Context, userID string) ([]models.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	now := r.clock.Now()
	var out []models.Session
	for _, s := range r.sessions {
		if s.UserID == userID && !s.Expired(now) {
			out = append(out, s)
		}
	}
	sortByLastSeen(out)
	return out, nil
}

func sortByLastSeen(sessions []models.Session) {
	sort.Slice(sessions, func(i, j int) bool {
		if sessions[i].LastSeenAt.Equal(sessions[j].LastSeenAt) {
			return sessions[i].ID > sessions[j].ID
		}
		return sessions[i].LastSeenAt.After(sessions[j].LastSeenAt)
	})
}

func (r *MemorySessionRepository) Touch(_ context.Context, sessionID string, ip string, userAgent string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[sessionID]
	if !ok {
		return nil
	}
	s.LastSeenAt = r.clock.Now().UTC()
	if ip != "" {
		s.IPAddress = ip
	}
	if userAgent != "" {
		s.UserAgent = userAgent
	}
	r.sessions[sessionID] = s
	return nil
}

type MemoryReportRepository struct {
	mu      sync.RWMutex
	reports []models.Report
	failure error
}

func NewMemoryReportRepository() *MemoryReportRepository {
	return &MemoryReportRepository{}
}

func (r *MemoryReportRepository) Create(_ context.Context, report models.Report) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.failure != nil {
		return r.failure
	}
	r.reports = append(r.reports, report)
	return nil
}

// FailWrites makes every Create return err until called again with nil.
func (r *MemoryReportRepository) FailWrites(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failure = err
}

func (r *MemoryReportRepository) List(_ context.Context) ([]models.Report, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.Report, len(r.reports))
	copy(out, r.reports)
	return out, nil
}

func (r *MemoryReportRepository) Ping(context.Context) error {
	return nil
}
