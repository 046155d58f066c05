// Package auth implementa los flujos de credenciales y sesiones: login local
// con o sin MFA, rotación de refresh tokens, logout y revocación masiva.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/stridelab/stride/internal/domain/repository"
	"github.com/stridelab/stride/internal/jwt"
	"github.com/stridelab/stride/internal/security/password"
	"github.com/stridelab/stride/internal/security/token"
)

var (
	// ErrInvalidCredentials cubre usuario inexistente y password incorrecto
	// con una sola respuesta, para no filtrar cuáles cuentas existen.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	ErrAccountInactive    = errors.New("auth: account inactive")
	ErrAccountNotApproved = errors.New("auth: account pending approval")
	// ErrPendingNotFound: el token de login pendiente no existe o expiró.
	ErrPendingNotFound = errors.New("auth: pending login not found")
	// ErrRefreshReused: el refresh presentado no corresponde a ninguna sesión
	// viva pero la firma es válida. Señal de robo o replay; el caller ya
	// revocó todas las sesiones del usuario cuando recibe este error.
	ErrRefreshReused = errors.New("auth: refresh token reuse detected")
	ErrRefreshError  = errors.New("auth: invalid refresh token")
)

// dummyHash absorbe el costo de argon2 cuando el usuario no existe, para que
// el tiempo de respuesta no distinga cuentas reales de inexistentes.
const dummyHash = "$argon2id$v=19$m=65536,t=3,p=2$AAAAAAAAAAAAAAAAAAAAAA$AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"

// RequestMeta acompaña cada operación con el origen del pedido.
type RequestMeta struct {
	IPAddress string
	UserAgent string
}

// LoginResult distingue el camino directo del camino con MFA: exactamente
// uno de Tokens o MFAToken viene seteado.
type LoginResult struct {
	User        *repository.User
	Tokens      *jwt.TokenPair
	SessionID   string
	MFARequired bool
	MFAToken    string
}

// Service orquesta credenciales, sesiones y MFA.
type Service struct {
	users      repository.UserRepository
	sessions   repository.SessionRepository
	tokens     *jwt.Manager
	mfa        *MFAService
	pending    *PendingLogins
	hashParams password.Params
	adminUsers map[string]struct{}
	log        *zap.Logger
}

func NewService(users repository.UserRepository, sessions repository.SessionRepository, tokens *jwt.Manager, mfa *MFAService, adminUsers []string, log *zap.Logger) *Service {
	admins := make(map[string]struct{}, len(adminUsers))
	for _, u := range adminUsers {
		admins[u] = struct{}{}
	}
	return &Service{
		users:      users,
		sessions:   sessions,
		tokens:     tokens,
		mfa:        mfa,
		pending:    NewPendingLogins(),
		hashParams: password.Default,
		adminUsers: admins,
		log:        log,
	}
}

// MFA expone el subservicio para los handlers de /v1/mfa.
func (s *Service) MFA() *MFAService { return s.mfa }

// Users expone el repo para handlers que solo leen perfil.
func (s *Service) Users() repository.UserRepository { return s.users }

// Sessions expone el repo para la superficie admin.
func (s *Service) Sessions() repository.SessionRepository { return s.sessions }

// ScopesFor deriva los scopes de la cuenta. El scope admin sale de la
// allow-list de configuración, no de una columna.
func (s *Service) ScopesFor(u *repository.User) []string {
	scopes := []string{"user"}
	if _, ok := s.adminUsers[u.Username]; ok {
		scopes = append(scopes, "admin")
	}
	return scopes
}

// Login valida identifier (username o email) + password. Si la cuenta tiene
// MFA, no emite sesión: registra un pendiente y devuelve su token.
func (s *Service) Login(ctx context.Context, identifier, plain string, meta RequestMeta) (*LoginResult, error) {
	u, err := s.lookup(ctx, identifier)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			password.Verify(plain, dummyHash)
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if u.PasswordHash == "" || !password.Verify(plain, u.PasswordHash) {
		s.log.Warn("login failed", zap.Int64("user_id", u.ID), zap.String("ip", meta.IPAddress))
		return nil, ErrInvalidCredentials
	}
	if err := s.checkAccount(u); err != nil {
		return nil, err
	}
	if u.MFAEnabled {
		pl := s.pending.Begin(u.ID, meta.IPAddress, meta.UserAgent)
		s.log.Info("login pending mfa", zap.Int64("user_id", u.ID))
		return &LoginResult{User: u, MFARequired: true, MFAToken: pl.Token}, nil
	}
	return s.establish(ctx, u, meta)
}

// CompleteMFA cierra un login pendiente con un código TOTP válido. El
// pendiente solo se consume con éxito; ante código inválido sigue vivo
// hasta su TTL.
func (s *Service) CompleteMFA(ctx context.Context, mfaToken, code string, meta RequestMeta) (*LoginResult, error) {
	pl, ok := s.pending.Peek(mfaToken)
	if !ok {
		return nil, ErrPendingNotFound
	}
	u, err := s.users.GetByID(ctx, pl.UserID)
	if err != nil {
		s.pending.Abandon(mfaToken)
		return nil, ErrPendingNotFound
	}
	if err := s.mfa.VerifyCode(ctx, u, code); err != nil {
		return nil, err
	}
	s.pending.Abandon(mfaToken)
	if err := s.checkAccount(u); err != nil {
		return nil, err
	}
	return s.establish(ctx, u, meta)
}

// Refresh rota el refresh token: valida firma y tipo, y reemplaza el hash en
// la sesión en un único paso atómico. Un refresh válido que no matchea
// ninguna sesión viva es reuso: se revocan todas las sesiones del usuario.
func (s *Service) Refresh(ctx context.Context, rawRefresh string, meta RequestMeta) (*LoginResult, error) {
	claims, err := s.tokens.VerifyRefresh(rawRefresh)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRefreshError, err)
	}
	pair, err := s.tokens.Issue(claims.UserID, claims.Scopes, claims.SessionID)
	if err != nil {
		return nil, err
	}
	oldHash := token.SHA256Base64URL(rawRefresh)
	newHash := token.SHA256Base64URL(pair.RefreshToken)
	sess, err := s.sessions.Rotate(ctx, oldHash, newHash, pair.RefreshExpiresAt)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			n, rerr := s.sessions.RevokeAllByUser(ctx, claims.UserID)
			if rerr != nil {
				s.log.Error("revoke on reuse failed", zap.Int64("user_id", claims.UserID), zap.Error(rerr))
			}
			s.log.Warn("refresh token reuse detected",
				zap.Int64("user_id", claims.UserID),
				zap.String("session_id", claims.SessionID),
				zap.String("ip", meta.IPAddress),
				zap.Int("sessions_revoked", n),
			)
			return nil, ErrRefreshReused
		}
		return nil, err
	}
	u, err := s.users.GetByID(ctx, sess.UserID)
	if err != nil {
		return nil, err
	}
	if err := s.checkAccount(u); err != nil {
		return nil, err
	}
	return &LoginResult{User: u, Tokens: pair, SessionID: sess.ID}, nil
}

// Logout revoca la sesión del refresh presentado. Es idempotente: un token
// inválido o ya revocado no es un error para el cliente.
func (s *Service) Logout(ctx context.Context, rawRefresh string) {
	claims, err := s.tokens.VerifyRefresh(rawRefresh)
	if err != nil {
		return
	}
	if err := s.sessions.Revoke(ctx, claims.SessionID); err != nil {
		s.log.Warn("logout revoke failed", zap.String("session_id", claims.SessionID), zap.Error(err))
	}
}

// RevokeAll cierra todas las sesiones del usuario (cambio de password,
// acción admin).
func (s *Service) RevokeAll(ctx context.Context, userID int64) (int, error) {
	return s.sessions.RevokeAllByUser(ctx, userID)
}

// Establish emite un par de tokens y persiste la sesión. Lo usan también los
// flujos federados, que autentican por otra vía.
func (s *Service) Establish(ctx context.Context, u *repository.User, meta RequestMeta) (*LoginResult, error) {
	if err := s.checkAccount(u); err != nil {
		return nil, err
	}
	return s.establish(ctx, u, meta)
}

func (s *Service) establish(ctx context.Context, u *repository.User, meta RequestMeta) (*LoginResult, error) {
	sessionID := uuid.NewString()
	pair, err := s.tokens.Issue(u.ID, s.ScopesFor(u), sessionID)
	if err != nil {
		return nil, err
	}
	_, err = s.sessions.Create(ctx, repository.CreateSessionInput{
		ID:               sessionID,
		UserID:           u.ID,
		RefreshTokenHash: token.SHA256Base64URL(pair.RefreshToken),
		IPAddress:        meta.IPAddress,
		UserAgent:        meta.UserAgent,
		ExpiresAt:        pair.RefreshExpiresAt,
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("session established", zap.Int64("user_id", u.ID), zap.String("session_id", sessionID))
	return &LoginResult{User: u, Tokens: pair, SessionID: sessionID}, nil
}

func (s *Service) checkAccount(u *repository.User) error {
	if !u.Active {
		return ErrAccountInactive
	}
	if !u.Approved {
		return ErrAccountNotApproved
	}
	return nil
}

func (s *Service) lookup(ctx context.Context, identifier string) (*repository.User, error) {
	u, err := s.users.GetByUsername(ctx, identifier)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}
	return s.users.GetByEmail(ctx, identifier)
}

// SweepSessions purga sesiones vencidas; pensado para correr periódicamente.
func (s *Service) SweepSessions(ctx context.Context, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := s.sessions.DeleteExpired(ctx)
			if err != nil {
				s.log.Error("session sweep failed", zap.Error(err))
				continue
			}
			if n > 0 {
				s.log.Info("expired sessions purged", zap.Int("count", n))
			}
		}
	}
}
