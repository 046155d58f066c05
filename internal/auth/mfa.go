package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/stridelab/stride/internal/domain/repository"
	"github.com/stridelab/stride/internal/security/secretbox"
	"github.com/stridelab/stride/internal/security/totp"
)

// Errores del ciclo de vida MFA.
var (
	ErrMFAAlreadyEnabled = errors.New("mfa: already enabled")
	ErrMFANotEnabled     = errors.New("mfa: not enabled")
	ErrNoPendingSetup    = errors.New("mfa: no pending setup")
	ErrInvalidMFACode    = errors.New("mfa: invalid code")
)

// setupTTL acota la vida del secreto provisional entre Setup y Enable.
const setupTTL = 10 * time.Minute

// MFASetup es lo que el cliente necesita para enrolar su app TOTP.
type MFASetup struct {
	Secret     string // base32, se muestra una única vez
	OTPAuthURL string
}

// MFAStatus resume el estado para GET /v1/mfa/status.
type MFAStatus struct {
	Enabled      bool `json:"enabled"`
	PendingSetup bool `json:"pending_setup"`
}

// MFAService gobierna el estado TOTP de cada cuenta: Disabled → PendingSetup
// (secreto provisional en cache, todavía no persiste) → Enabled (secreto
// cifrado en la fila del usuario). El secreto provisional jamás toca la base.
type MFAService struct {
	users   repository.UserRepository
	box     *secretbox.Box
	pending *gocache.Cache // userID -> secreto raw provisional
	issuer  string
	window  int // pasos de tolerancia de reloj hacia cada lado
	log     *zap.Logger
}

func NewMFAService(users repository.UserRepository, box *secretbox.Box, issuer string, log *zap.Logger) *MFAService {
	return &MFAService{
		users:   users,
		box:     box,
		pending: gocache.New(setupTTL, time.Minute),
		issuer:  issuer,
		window:  1,
		log:     log,
	}
}

// Setup genera un secreto provisional. Falla si la cuenta ya tiene MFA:
// deshabilitar primero, nunca pisar un secreto activo.
func (s *MFAService) Setup(ctx context.Context, userID int64) (*MFASetup, error) {
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if u.MFAEnabled {
		return nil, ErrMFAAlreadyEnabled
	}
	_, encoded, err := totp.GenerateSecret()
	if err != nil {
		return nil, fmt.Errorf("mfa: generate secret: %w", err)
	}
	s.pending.Set(userKey(userID), encoded, setupTTL)
	return &MFASetup{
		Secret:     encoded,
		OTPAuthURL: totp.OTPAuthURL(s.issuer, u.Username, encoded),
	}, nil
}

// Enable confirma el setup verificando un código contra el secreto
// provisional y recién entonces lo persiste cifrado.
func (s *MFAService) Enable(ctx context.Context, userID int64, code string) error {
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	if u.MFAEnabled {
		return ErrMFAAlreadyEnabled
	}
	v, ok := s.pending.Get(userKey(userID))
	if !ok {
		return ErrNoPendingSetup
	}
	encoded := v.(string)
	raw, err := totp.DecodeSecret(encoded)
	if err != nil {
		return fmt.Errorf("mfa: decode pending secret: %w", err)
	}
	okCode, counter := totp.Verify(raw, code, time.Now(), s.window, nil)
	if !okCode {
		// El setup sigue pendiente: el usuario puede reintentar con el
		// siguiente código sin repetir el enrolamiento.
		return ErrInvalidMFACode
	}
	enc, err := s.box.Encrypt(encoded)
	if err != nil {
		return fmt.Errorf("mfa: encrypt secret: %w", err)
	}
	if err := s.users.EnableMFA(ctx, userID, enc); err != nil {
		return err
	}
	// El código de confirmación queda consumido como cualquier otro.
	if err := s.users.SetTOTPLastUsed(ctx, userID, time.Unix(counter*totp.Period, 0).UTC()); err != nil {
		return err
	}
	s.pending.Delete(userKey(userID))
	s.log.Info("mfa enabled", zap.Int64("user_id", userID))
	return nil
}

// Disable apaga MFA previa verificación de un código vigente.
func (s *MFAService) Disable(ctx context.Context, userID int64, code string) error {
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	if !u.MFAEnabled {
		return ErrMFANotEnabled
	}
	if err := s.VerifyCode(ctx, u, code); err != nil {
		return err
	}
	if err := s.users.DisableMFA(ctx, userID); err != nil {
		return err
	}
	s.log.Info("mfa disabled", zap.Int64("user_id", userID))
	return nil
}

// Status no expone jamás el secreto, ni siquiera cifrado.
func (s *MFAService) Status(ctx context.Context, userID int64) (*MFAStatus, error) {
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	_, pending := s.pending.Get(userKey(userID))
	return &MFAStatus{Enabled: u.MFAEnabled, PendingSetup: !u.MFAEnabled && pending}, nil
}

// VerifyCode valida un código contra el secreto activo del usuario y
// persiste el contador consumido: el mismo código nunca verifica dos veces,
// aunque siga dentro de la ventana temporal.
func (s *MFAService) VerifyCode(ctx context.Context, u *repository.User, code string) error {
	if !u.MFAEnabled || u.MFASecretEnc == "" {
		return ErrMFANotEnabled
	}
	encoded, err := s.box.Decrypt(u.MFASecretEnc)
	if err != nil {
		return fmt.Errorf("mfa: decrypt secret: %w", err)
	}
	raw, err := totp.DecodeSecret(encoded)
	if err != nil {
		return fmt.Errorf("mfa: decode secret: %w", err)
	}
	var last *int64
	if u.TOTPLastUsedAt != nil {
		c := u.TOTPLastUsedAt.Unix() / totp.Period
		last = &c
	}
	ok, counter := totp.Verify(raw, code, time.Now(), s.window, last)
	if !ok {
		return ErrInvalidMFACode
	}
	usedAt := time.Unix(counter*totp.Period, 0).UTC()
	if err := s.users.SetTOTPLastUsed(ctx, u.ID, usedAt); err != nil {
		return err
	}
	return nil
}
