// Package jwt emite y verifica los bearer tokens del backend: access tokens
// cortos (minutos) y refresh tokens largos (días), ambos firmados con EdDSA.
// La emisión es pura: persistir la sesión del refresh es responsabilidad del
// caller (internal/auth).
package jwt

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"strconv"
	"time"

	jwtv5 "github.com/golang-jwt/jwt/v5"
)

const (
	TypeAccess  = "access"
	TypeRefresh = "refresh"
)

// Errores que los callers deben distinguir: un refresh expirado dispara
// re-login, un token inválido es rechazo duro, scope insuficiente es 403.
var (
	ErrTokenExpired      = errors.New("jwt: token expired")
	ErrTokenInvalid      = errors.New("jwt: token invalid")
	ErrInsufficientScope = errors.New("jwt: insufficient scope")
)

// Claims son los claims verificados de un token propio.
type Claims struct {
	UserID    int64
	Scopes    []string
	Type      string // access | refresh
	SessionID string
	ExpiresAt time.Time
}

// HasScopes retorna ErrInsufficientScope salvo que todos los scopes
// requeridos estén presentes en el token.
func (c *Claims) HasScopes(required ...string) error {
	have := make(map[string]struct{}, len(c.Scopes))
	for _, s := range c.Scopes {
		have[s] = struct{}{}
	}
	for _, r := range required {
		if _, ok := have[r]; !ok {
			return fmt.Errorf("%w: missing %q", ErrInsufficientScope, r)
		}
	}
	return nil
}

// TokenPair es el resultado de una emisión.
type TokenPair struct {
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
}

// Manager firma y verifica con un par Ed25519 del servidor.
type Manager struct {
	iss        string
	priv       ed25519.PrivateKey
	pub        ed25519.PublicKey
	accessTTL  time.Duration
	refreshTTL time.Duration
}

// NewManager valida TTLs en el arranque: ambos deben ser positivos.
func NewManager(iss string, seed []byte, accessTTL, refreshTTL time.Duration) (*Manager, error) {
	if iss == "" {
		return nil, errors.New("jwt: issuer vacío")
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("jwt: la seed debe ser de %d bytes, obtuvo %d", ed25519.SeedSize, len(seed))
	}
	if accessTTL <= 0 || refreshTTL <= 0 {
		return nil, fmt.Errorf("jwt: TTLs deben ser positivos (access=%s refresh=%s)", accessTTL, refreshTTL)
	}
	priv := ed25519.NewKeyFromSeed(seed)
	return &Manager{
		iss:        iss,
		priv:       priv,
		pub:        priv.Public().(ed25519.PublicKey),
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
	}, nil
}

// Iss expone el issuer configurado (lo reusa el state de federación).
func (m *Manager) Iss() string { return m.iss }

// AccessTTL expone el TTL de access (para cookies y expires_in).
func (m *Manager) AccessTTL() time.Duration { return m.accessTTL }

// RefreshTTL expone el TTL de refresh (para la expiración de la sesión).
func (m *Manager) RefreshTTL() time.Duration { return m.refreshTTL }

// Issue emite el par access+refresh para un usuario. Sin efectos: el caller
// persiste la sesión con el hash del refresh.
func (m *Manager) Issue(userID int64, scopes []string, sessionID string) (*TokenPair, error) {
	now := time.Now().UTC()
	accessExp := now.Add(m.accessTTL)
	refreshExp := now.Add(m.refreshTTL)

	access, err := m.sign(userID, scopes, sessionID, TypeAccess, now, accessExp)
	if err != nil {
		return nil, err
	}
	refresh, err := m.sign(userID, scopes, sessionID, TypeRefresh, now, refreshExp)
	if err != nil {
		return nil, err
	}
	return &TokenPair{
		AccessToken:      access,
		AccessExpiresAt:  accessExp,
		RefreshToken:     refresh,
		RefreshExpiresAt: refreshExp,
	}, nil
}

func (m *Manager) sign(userID int64, scopes []string, sessionID, typ string, now, exp time.Time) (string, error) {
	claims := jwtv5.MapClaims{
		"iss": m.iss,
		"sub": strconv.FormatInt(userID, 10),
		"iat": now.Unix(),
		"nbf": now.Unix(),
		"exp": exp.Unix(),
		"typ": typ,
		"sid": sessionID,
	}
	if len(scopes) > 0 {
		claims["scp"] = scopes
	}
	tk := jwtv5.NewWithClaims(jwtv5.SigningMethodEdDSA, claims)
	tk.Header["typ"] = "JWT"
	signed, err := tk.SignedString(m.priv)
	if err != nil {
		return "", fmt.Errorf("jwt: sign: %w", err)
	}
	return signed, nil
}

// SignRaw firma claims arbitrarios con la clave del servidor. Lo usa el state
// de los flujos de federación; no inyecta iss/exp.
func (m *Manager) SignRaw(claims jwtv5.MapClaims) (string, error) {
	tk := jwtv5.NewWithClaims(jwtv5.SigningMethodEdDSA, claims)
	tk.Header["typ"] = "JWT"
	return tk.SignedString(m.priv)
}

// Keyfunc retorna el jwt.Keyfunc para verificar tokens propios.
func (m *Manager) Keyfunc() jwtv5.Keyfunc {
	return func(*jwtv5.Token) (any, error) { return m.pub, nil }
}

// Verify chequea firma e integridad. Un token vencido retorna ErrTokenExpired;
// cualquier otro defecto retorna ErrTokenInvalid.
func (m *Manager) Verify(raw string) (*Claims, error) {
	tk, err := jwtv5.Parse(raw, m.Keyfunc(),
		jwtv5.WithValidMethods([]string{"EdDSA"}),
		jwtv5.WithIssuer(m.iss),
		jwtv5.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwtv5.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenInvalid
	}
	mc, ok := tk.Claims.(jwtv5.MapClaims)
	if !ok {
		return nil, ErrTokenInvalid
	}

	sub, _ := mc["sub"].(string)
	uid, err := strconv.ParseInt(sub, 10, 64)
	if err != nil || uid <= 0 {
		return nil, ErrTokenInvalid
	}
	typ, _ := mc["typ"].(string)
	if typ != TypeAccess && typ != TypeRefresh {
		return nil, ErrTokenInvalid
	}

	out := &Claims{
		UserID: uid,
		Type:   typ,
	}
	if sid, ok := mc["sid"].(string); ok {
		out.SessionID = sid
	}
	if expf, ok := mc["exp"].(float64); ok {
		out.ExpiresAt = time.Unix(int64(expf), 0).UTC()
	}
	if raw, ok := mc["scp"].([]any); ok {
		for _, v := range raw {
			if s, ok := v.(string); ok {
				out.Scopes = append(out.Scopes, s)
			}
		}
	}
	return out, nil
}

// VerifyAccess exige typ=access.
func (m *Manager) VerifyAccess(raw string) (*Claims, error) {
	c, err := m.Verify(raw)
	if err != nil {
		return nil, err
	}
	if c.Type != TypeAccess {
		return nil, ErrTokenInvalid
	}
	return c, nil
}

// VerifyRefresh exige typ=refresh. ErrTokenExpired se propaga para que el
// caller pueda distinguir "re-login" de "rechazo duro".
func (m *Manager) VerifyRefresh(raw string) (*Claims, error) {
	c, err := m.Verify(raw)
	if err != nil {
		return nil, err
	}
	if c.Type != TypeRefresh {
		return nil, ErrTokenInvalid
	}
	return c, nil
}
