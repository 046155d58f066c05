package sso

import (
	"errors"
	"fmt"
	"time"

	jwtv5 "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"

	"github.com/stridelab/stride/internal/jwt"
)

// stateTTL acota la ida y vuelta al IdP.
const stateTTL = 10 * time.Minute

// Mode distingue qué se hace con la identidad que vuelve del IdP.
type Mode string

const (
	ModeLogin Mode = "login"
	ModeLink  Mode = "link"
)

var ErrInvalidState = errors.New("sso: invalid state")

// State es el parámetro state del flujo authorization-code. Viaja firmado
// (Ed25519, mismo firmante que los tokens propios) así el callback no
// necesita estado en el servidor; el nonce lo vuelve de un solo uso.
type State struct {
	Nonce    string
	Mode     Mode
	Slug     string
	UserID   int64  // solo en modo link: quién pidió vincular
	Redirect string // a dónde volver al terminar, validado al emitir
}

// stateSigner firma y verifica states. La cache de nonces consumidos vive
// acá: un state que ya pasó por Verify no vuelve a pasar.
type stateSigner struct {
	tokens   *jwt.Manager
	consumed *gocache.Cache
}

func newStateSigner(tokens *jwt.Manager) *stateSigner {
	return &stateSigner{
		tokens:   tokens,
		consumed: gocache.New(stateTTL, time.Minute),
	}
}

func (s *stateSigner) Sign(st State) (string, error) {
	now := time.Now()
	claims := jwtv5.MapClaims{
		"iss":   s.tokens.Iss(),
		"iat":   now.Unix(),
		"exp":   now.Add(stateTTL).Unix(),
		"typ":   "state",
		"nonce": uuid.NewString(),
		"mode":  string(st.Mode),
		"slug":  st.Slug,
	}
	if st.UserID != 0 {
		claims["uid"] = st.UserID
	}
	if st.Redirect != "" {
		claims["redirect"] = st.Redirect
	}
	return s.tokens.SignRaw(claims)
}

// Verify valida firma, emisor y expiración, y consume el nonce.
func (s *stateSigner) Verify(raw string) (*State, error) {
	tok, err := jwtv5.Parse(raw, s.tokens.Keyfunc(),
		jwtv5.WithValidMethods([]string{"EdDSA"}),
		jwtv5.WithIssuer(s.tokens.Iss()),
		jwtv5.WithExpirationRequired(),
	)
	if err != nil || !tok.Valid {
		return nil, ErrInvalidState
	}
	mc, ok := tok.Claims.(jwtv5.MapClaims)
	if !ok {
		return nil, ErrInvalidState
	}
	if typ, _ := mc["typ"].(string); typ != "state" {
		return nil, ErrInvalidState
	}
	nonce, _ := mc["nonce"].(string)
	if nonce == "" {
		return nil, ErrInvalidState
	}
	if _, seen := s.consumed.Get(nonce); seen {
		return nil, fmt.Errorf("%w: replayed", ErrInvalidState)
	}
	s.consumed.Set(nonce, true, stateTTL)

	st := &State{Nonce: nonce}
	st.Mode = Mode(stringClaim(mc, "mode"))
	st.Slug = stringClaim(mc, "slug")
	st.Redirect = stringClaim(mc, "redirect")
	if uid, ok := mc["uid"].(float64); ok {
		st.UserID = int64(uid)
	}
	if (st.Mode != ModeLogin && st.Mode != ModeLink) || st.Slug == "" {
		return nil, ErrInvalidState
	}
	if st.Mode == ModeLink && st.UserID == 0 {
		return nil, ErrInvalidState
	}
	return st, nil
}

func stringClaim(mc jwtv5.MapClaims, key string) string {
	v, _ := mc[key].(string)
	return v
}
