package auth

import (
	"strconv"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"
)

// PendingTTL acota la ventana entre password válido y código MFA.
const PendingTTL = 5 * time.Minute

// PendingLogin es un login a mitad de camino: password OK, falta el TOTP.
// No emite ningún token de sesión hasta completarse.
type PendingLogin struct {
	Token     string
	UserID    int64
	IPAddress string
	UserAgent string
	CreatedAt time.Time
}

// PendingLogins guarda logins pendientes de MFA con expiración automática.
// Un nuevo Begin para el mismo usuario invalida el anterior: a lo sumo un
// pendiente vivo por usuario.
type PendingLogins struct {
	byToken *gocache.Cache
	byUser  *gocache.Cache
}

func NewPendingLogins() *PendingLogins {
	return &PendingLogins{
		byToken: gocache.New(PendingTTL, time.Minute),
		byUser:  gocache.New(PendingTTL, time.Minute),
	}
}

// Begin registra el pendiente y retorna el token opaco para el cliente.
func (p *PendingLogins) Begin(userID int64, ip, ua string) *PendingLogin {
	if prev, ok := p.byUser.Get(userKey(userID)); ok {
		p.byToken.Delete(prev.(string))
	}
	pl := &PendingLogin{
		Token:     uuid.NewString(),
		UserID:    userID,
		IPAddress: ip,
		UserAgent: ua,
		CreatedAt: time.Now().UTC(),
	}
	p.byToken.Set(pl.Token, pl, PendingTTL)
	p.byUser.Set(userKey(userID), pl.Token, PendingTTL)
	return pl
}

// Peek lee el pendiente sin consumirlo: un código MFA inválido no quema el
// token, el usuario reintenta hasta que expire el TTL.
func (p *PendingLogins) Peek(token string) (*PendingLogin, bool) {
	v, ok := p.byToken.Get(token)
	if !ok {
		return nil, false
	}
	return v.(*PendingLogin), true
}

// Take consume el pendiente: un token solo puede completarse una vez.
func (p *PendingLogins) Take(token string) (*PendingLogin, bool) {
	v, ok := p.byToken.Get(token)
	if !ok {
		return nil, false
	}
	pl := v.(*PendingLogin)
	p.byToken.Delete(token)
	p.byUser.Delete(userKey(pl.UserID))
	return pl, true
}

// Abandon descarta el pendiente sin completarlo (código inválido agotado,
// logout explícito del flujo).
func (p *PendingLogins) Abandon(token string) {
	p.Take(token)
}

func userKey(id int64) string { return strconv.FormatInt(id, 10) }
