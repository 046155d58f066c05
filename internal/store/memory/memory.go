// Package memory implementa los repositorios del core en memoria. Es el
// backend de tests y de desarrollo sin base de datos; replica la semántica
// de los adapters pg (incluida la cascada de borrado de usuario).
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/stridelab/stride/internal/domain/repository"
)

// Store agrupa los repos en memoria sobre un mutex compartido.
type Store struct {
	mu sync.RWMutex

	users       map[int64]*repository.User
	nextUserID  int64
	sessions    map[string]*repository.Session
	providers   map[int64]*repository.IdentityProvider
	nextProvID  int64
	links       []*repository.IdentityLink
	emailTokens map[string]*repository.EmailToken
	nextTokenID int64

	Users       repository.UserRepository
	Sessions    repository.SessionRepository
	Providers   repository.ProviderRepository
	Identities  repository.IdentityRepository
	EmailTokens repository.EmailTokenRepository
}

func New() *Store {
	s := &Store{
		users:       map[int64]*repository.User{},
		sessions:    map[string]*repository.Session{},
		providers:   map[int64]*repository.IdentityProvider{},
		emailTokens: map[string]*repository.EmailToken{},
	}
	s.Users = (*userRepo)(wrap(s))
	s.Sessions = (*sessionRepo)(wrap(s))
	s.Providers = (*providerRepo)(wrap(s))
	s.Identities = (*identityRepo)(wrap(s))
	s.EmailTokens = (*emailTokenRepo)(wrap(s))
	return s
}

type core Store

func wrap(s *Store) *core { return (*core)(s) }

// ---- users ----

type userRepo core

func (r *userRepo) Create(_ context.Context, input repository.CreateUserInput) (*repository.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Username == input.Username || u.Email == input.Email {
			return nil, repository.ErrConflict
		}
	}
	r.nextUserID++
	now := time.Now().UTC()
	u := &repository.User{
		ID:           r.nextUserID,
		Username:     input.Username,
		Email:        input.Email,
		PasswordHash: input.PasswordHash,
		Active:       input.Active,
		Approved:     input.Approved,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	r.users[u.ID] = u
	cp := *u
	return &cp, nil
}

func (r *userRepo) GetByID(_ context.Context, id int64) (*repository.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (r *userRepo) GetByUsername(_ context.Context, username string) (*repository.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, u := range r.users {
		if u.Username == username {
			cp := *u
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *userRepo) GetByEmail(_ context.Context, email string) (*repository.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, u := range r.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *userRepo) mutate(id int64, fn func(*repository.User)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return repository.ErrNotFound
	}
	fn(u)
	u.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *userRepo) SetPasswordHash(_ context.Context, id int64, phc string) error {
	return r.mutate(id, func(u *repository.User) { u.PasswordHash = phc })
}

func (r *userRepo) SetActive(_ context.Context, id int64, active bool) error {
	return r.mutate(id, func(u *repository.User) { u.Active = active })
}

func (r *userRepo) EnableMFA(_ context.Context, id int64, secretEnc string) error {
	return r.mutate(id, func(u *repository.User) {
		u.MFAEnabled = true
		u.MFASecretEnc = secretEnc
		u.TOTPLastUsedAt = nil
	})
}

func (r *userRepo) DisableMFA(_ context.Context, id int64) error {
	return r.mutate(id, func(u *repository.User) {
		u.MFAEnabled = false
		u.MFASecretEnc = ""
		u.TOTPLastUsedAt = nil
	})
}

func (r *userRepo) SetTOTPLastUsed(_ context.Context, id int64, usedAt time.Time) error {
	return r.mutate(id, func(u *repository.User) {
		t := usedAt
		u.TOTPLastUsedAt = &t
	})
}

// ---- sessions ----

type sessionRepo core

func (r *sessionRepo) Create(_ context.Context, input repository.CreateSessionInput) (*repository.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := &repository.Session{
		ID:               input.ID,
		UserID:           input.UserID,
		RefreshTokenHash: input.RefreshTokenHash,
		CreatedAt:        time.Now().UTC(),
		ExpiresAt:        input.ExpiresAt,
	}
	if input.IPAddress != "" {
		ip := input.IPAddress
		s.IPAddress = &ip
	}
	if input.UserAgent != "" {
		ua := input.UserAgent
		s.UserAgent = &ua
	}
	r.sessions[s.ID] = s
	cp := *s
	return &cp, nil
}

func (r *sessionRepo) GetByID(_ context.Context, id string) (*repository.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (r *sessionRepo) Rotate(_ context.Context, oldHash, newHash string, newExpiresAt time.Time) (*repository.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	for _, s := range r.sessions {
		if s.RefreshTokenHash == oldHash && s.RevokedAt == nil && s.ExpiresAt.After(now) {
			s.RefreshTokenHash = newHash
			s.ExpiresAt = newExpiresAt
			cp := *s
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *sessionRepo) Revoke(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[id]; ok && s.RevokedAt == nil {
		now := time.Now().UTC()
		s.RevokedAt = &now
	}
	return nil
}

func (r *sessionRepo) RevokeAllByUser(_ context.Context, userID int64) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now().UTC()
	n := 0
	for _, s := range r.sessions {
		if s.UserID == userID && s.RevokedAt == nil && s.ExpiresAt.After(now) {
			t := now
			s.RevokedAt = &t
			n++
		}
	}
	return n, nil
}

func (r *sessionRepo) ListByUser(_ context.Context, userID int64) ([]repository.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []repository.Session
	for _, s := range r.sessions {
		if s.UserID == userID {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (r *sessionRepo) DeleteExpired(_ context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	n := 0
	for id, s := range r.sessions {
		if s.ExpiresAt.Before(now) || s.RevokedAt != nil {
			delete(r.sessions, id)
			n++
		}
	}
	return n, nil
}

// ---- providers ----

type providerRepo core

func (r *providerRepo) Create(_ context.Context, p *repository.IdentityProvider) (*repository.IdentityProvider, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.providers {
		if e.Slug == p.Slug {
			return nil, repository.ErrConflict
		}
	}
	r.nextProvID++
	cp := *p
	cp.ID = r.nextProvID
	cp.CreatedAt = time.Now().UTC()
	cp.UpdatedAt = cp.CreatedAt
	r.providers[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (r *providerRepo) Update(_ context.Context, p *repository.IdentityProvider) (*repository.IdentityProvider, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev, ok := r.providers[p.ID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	for id, e := range r.providers {
		if id != p.ID && e.Slug == p.Slug {
			return nil, repository.ErrConflict
		}
	}
	cp := *p
	cp.CreatedAt = prev.CreatedAt
	cp.UpdatedAt = time.Now().UTC()
	r.providers[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (r *providerRepo) GetByID(_ context.Context, id int64) (*repository.IdentityProvider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (r *providerRepo) GetBySlug(_ context.Context, slug string) (*repository.IdentityProvider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.providers {
		if p.Slug == slug {
			cp := *p
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *providerRepo) List(_ context.Context) ([]repository.IdentityProvider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []repository.IdentityProvider
	for _, p := range r.providers {
		out = append(out, *p)
	}
	return out, nil
}

func (r *providerRepo) Delete(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.providers[id]; !ok {
		return repository.ErrNotFound
	}
	for _, l := range r.links {
		if l.ProviderID == id {
			return repository.ErrConflict
		}
	}
	delete(r.providers, id)
	return nil
}

// ---- identity links ----

type identityRepo core

func (r *identityRepo) Create(_ context.Context, link *repository.IdentityLink) (*repository.IdentityLink, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, l := range r.links {
		if l.ProviderID == link.ProviderID && l.Subject == link.Subject {
			return nil, repository.ErrConflict
		}
		if l.ProviderID == link.ProviderID && l.UserID == link.UserID {
			return nil, repository.ErrConflict
		}
	}
	cp := *link
	cp.LinkedAt = time.Now().UTC()
	r.links = append(r.links, &cp)
	out := cp
	return &out, nil
}

func (r *identityRepo) GetBySubject(_ context.Context, providerID int64, subject string) (*repository.IdentityLink, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, l := range r.links {
		if l.ProviderID == providerID && l.Subject == subject {
			cp := *l
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *identityRepo) GetByUserAndProvider(_ context.Context, userID, providerID int64) (*repository.IdentityLink, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, l := range r.links {
		if l.UserID == userID && l.ProviderID == providerID {
			cp := *l
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *identityRepo) ListByUser(_ context.Context, userID int64) ([]repository.IdentityLink, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []repository.IdentityLink
	for _, l := range r.links {
		if l.UserID == userID {
			out = append(out, *l)
		}
	}
	return out, nil
}

func (r *identityRepo) Touch(_ context.Context, providerID int64, subject string, lastLogin time.Time, refreshTokenEnc *string, accessExp *time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, l := range r.links {
		if l.ProviderID == providerID && l.Subject == subject {
			t := lastLogin
			l.LastLogin = &t
			if refreshTokenEnc != nil {
				l.RefreshTokenEnc = refreshTokenEnc
			}
			if accessExp != nil {
				l.AccessTokenExpiresAt = accessExp
			}
			return nil
		}
	}
	return repository.ErrNotFound
}

func (r *identityRepo) Delete(_ context.Context, userID, providerID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, l := range r.links {
		if l.UserID == userID && l.ProviderID == providerID {
			r.links = append(r.links[:i], r.links[i+1:]...)
			return nil
		}
	}
	return repository.ErrNotFound
}

func (r *identityRepo) CountByProvider(_ context.Context, providerID int64) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, l := range r.links {
		if l.ProviderID == providerID {
			n++
		}
	}
	return n, nil
}

// ---- email tokens ----

type emailTokenRepo core

func (r *emailTokenRepo) Create(_ context.Context, userID int64, purpose repository.EmailTokenPurpose, tokenHash string, expiresAt time.Time) (*repository.EmailToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextTokenID++
	t := &repository.EmailToken{
		ID:        r.nextTokenID,
		UserID:    userID,
		Purpose:   purpose,
		TokenHash: tokenHash,
		ExpiresAt: expiresAt,
		CreatedAt: time.Now().UTC(),
	}
	r.emailTokens[tokenHash] = t
	cp := *t
	return &cp, nil
}

func (r *emailTokenRepo) Consume(_ context.Context, purpose repository.EmailTokenPurpose, tokenHash string, now time.Time) (*repository.EmailToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.emailTokens[tokenHash]
	if !ok || t.Purpose != purpose || t.UsedAt != nil || !t.ExpiresAt.After(now) {
		return nil, repository.ErrNotFound
	}
	used := now
	t.UsedAt = &used
	cp := *t
	return &cp, nil
}

func (r *emailTokenRepo) DeleteExpired(_ context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	n := 0
	for k, t := range r.emailTokens {
		if t.ExpiresAt.Before(now) || t.UsedAt != nil {
			delete(r.emailTokens, k)
			n++
		}
	}
	return n, nil
}

// DeleteUser simula la cascada FK: borra usuario, sesiones, links y tokens.
func (s *Store) DeleteUser(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[id]; !ok {
		return repository.ErrNotFound
	}
	delete(s.users, id)
	for sid, sess := range s.sessions {
		if sess.UserID == id {
			delete(s.sessions, sid)
		}
	}
	var kept []*repository.IdentityLink
	for _, l := range s.links {
		if l.UserID != id {
			kept = append(kept, l)
		}
	}
	s.links = kept
	for k, t := range s.emailTokens {
		if t.UserID == id {
			delete(s.emailTokens, k)
		}
	}
	return nil
}
