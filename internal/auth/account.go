package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/stridelab/stride/internal/domain/repository"
	"github.com/stridelab/stride/internal/email"
	"github.com/stridelab/stride/internal/security/password"
	"github.com/stridelab/stride/internal/security/token"
)

var (
	ErrUserExists = errors.New("auth: username or email already taken")
	// ErrBadToken: el token de mail no existe, venció o ya se usó. Una sola
	// respuesta para los tres casos.
	ErrBadToken = errors.New("auth: invalid or expired token")
)

// PolicyError lista los motivos por los que un password no pasa la política.
type PolicyError struct{ Reasons []string }

func (e *PolicyError) Error() string {
	return "auth: weak password: " + strings.Join(e.Reasons, "; ")
}

const (
	signupTokenTTL = 24 * time.Hour
	resetTokenTTL  = time.Hour
	emailTokenLen  = 32
)

// AccountService maneja el ciclo de vida de cuentas locales: registro con
// confirmación por mail y reset de contraseña con token de un solo uso.
type AccountService struct {
	users       repository.UserRepository
	emailTokens repository.EmailTokenRepository
	sessions    repository.SessionRepository
	mailer      *email.Mailer
	policy      password.Policy
	hashParams  password.Params
	log         *zap.Logger
}

func NewAccountService(users repository.UserRepository, emailTokens repository.EmailTokenRepository, sessions repository.SessionRepository, mailer *email.Mailer, policy password.Policy, log *zap.Logger) *AccountService {
	return &AccountService{
		users:       users,
		emailTokens: emailTokens,
		sessions:    sessions,
		mailer:      mailer,
		policy:      policy,
		hashParams:  password.Default,
		log:         log,
	}
}

// Signup crea la cuenta inactiva y manda el mail de confirmación. La cuenta
// no puede loguearse hasta confirmar.
func (s *AccountService) Signup(ctx context.Context, username, emailAddr, plain string) error {
	if ok, reasons := s.policy.Validate(plain); !ok {
		return &PolicyError{Reasons: reasons}
	}
	phc, err := password.Hash(s.hashParams, plain)
	if err != nil {
		return err
	}
	u, err := s.users.Create(ctx, repository.CreateUserInput{
		Username:     username,
		Email:        emailAddr,
		PasswordHash: phc,
		Active:       false,
		Approved:     true,
	})
	if err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return ErrUserExists
		}
		return err
	}
	if err := s.sendToken(ctx, u, repository.PurposeSignup, signupTokenTTL); err != nil {
		// La cuenta quedó creada; el usuario puede pedir el reenvío.
		s.log.Error("signup mail failed", zap.Int64("user_id", u.ID), zap.Error(err))
		return err
	}
	s.log.Info("user signed up", zap.Int64("user_id", u.ID))
	return nil
}

// ResendConfirmation reenvía el mail de activación. Silencioso para mails
// desconocidos o cuentas ya activas: no revela qué cuentas existen.
func (s *AccountService) ResendConfirmation(ctx context.Context, emailAddr string) error {
	u, err := s.users.GetByEmail(ctx, emailAddr)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		return err
	}
	if u.Active {
		return nil
	}
	return s.sendToken(ctx, u, repository.PurposeSignup, signupTokenTTL)
}

// ConfirmSignup activa la cuenta consumiendo el token del mail.
func (s *AccountService) ConfirmSignup(ctx context.Context, rawToken string) error {
	et, err := s.consume(ctx, repository.PurposeSignup, rawToken)
	if err != nil {
		return err
	}
	if err := s.users.SetActive(ctx, et.UserID, true); err != nil {
		return err
	}
	s.log.Info("account confirmed", zap.Int64("user_id", et.UserID))
	return nil
}

// ForgotPassword dispara el mail de reset. Siempre responde igual exista o
// no la cuenta.
func (s *AccountService) ForgotPassword(ctx context.Context, emailAddr string) error {
	u, err := s.users.GetByEmail(ctx, emailAddr)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		return err
	}
	// Cuentas solo-SSO no tienen contraseña que resetear.
	if u.PasswordHash == "" {
		return nil
	}
	return s.sendToken(ctx, u, repository.PurposePasswordReset, resetTokenTTL)
}

// ResetPassword instala la contraseña nueva y revoca todas las sesiones: un
// reset suele significar credenciales comprometidas.
func (s *AccountService) ResetPassword(ctx context.Context, rawToken, plain string) error {
	if ok, reasons := s.policy.Validate(plain); !ok {
		return &PolicyError{Reasons: reasons}
	}
	et, err := s.consume(ctx, repository.PurposePasswordReset, rawToken)
	if err != nil {
		return err
	}
	phc, err := password.Hash(s.hashParams, plain)
	if err != nil {
		return err
	}
	if err := s.users.SetPasswordHash(ctx, et.UserID, phc); err != nil {
		return err
	}
	n, err := s.sessions.RevokeAllByUser(ctx, et.UserID)
	if err != nil {
		return err
	}
	s.log.Info("password reset", zap.Int64("user_id", et.UserID), zap.Int("sessions_revoked", n))
	return nil
}

// ChangePassword es el cambio autenticado: exige la contraseña vigente.
func (s *AccountService) ChangePassword(ctx context.Context, userID int64, current, plain string) error {
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	if u.PasswordHash == "" || !password.Verify(current, u.PasswordHash) {
		return ErrInvalidCredentials
	}
	if ok, reasons := s.policy.Validate(plain); !ok {
		return &PolicyError{Reasons: reasons}
	}
	phc, err := password.Hash(s.hashParams, plain)
	if err != nil {
		return err
	}
	return s.users.SetPasswordHash(ctx, userID, phc)
}

// SweepTokens purga tokens de mail vencidos.
func (s *AccountService) SweepTokens(ctx context.Context) (int, error) {
	return s.emailTokens.DeleteExpired(ctx)
}

func (s *AccountService) sendToken(ctx context.Context, u *repository.User, purpose repository.EmailTokenPurpose, ttl time.Duration) error {
	raw, err := token.GenerateOpaqueToken(emailTokenLen)
	if err != nil {
		return err
	}
	if _, err := s.emailTokens.Create(ctx, u.ID, purpose, token.SHA256Base64URL(raw), time.Now().Add(ttl)); err != nil {
		return err
	}
	switch purpose {
	case repository.PurposePasswordReset:
		return s.mailer.SendPasswordReset(u.Email, raw)
	default:
		return s.mailer.SendSignupConfirmation(u.Email, raw)
	}
}

func (s *AccountService) consume(ctx context.Context, purpose repository.EmailTokenPurpose, rawToken string) (*repository.EmailToken, error) {
	if rawToken == "" {
		return nil, ErrBadToken
	}
	et, err := s.emailTokens.Consume(ctx, purpose, token.SHA256Base64URL(rawToken), time.Now())
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrBadToken
		}
		return nil, fmt.Errorf("auth: consume token: %w", err)
	}
	return et, nil
}
