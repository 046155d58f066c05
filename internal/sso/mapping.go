package sso

import (
	"fmt"
	"strings"
)

// Profile es el resultado de aplicar el UserMapping del provider a los
// claims del userinfo.
type Profile struct {
	Subject  string
	Username string
	Email    string
	Name     string
}

// defaultMapping cubre providers sin mapeo configurado: los claims OIDC
// estándar en orden de preferencia.
var defaultMapping = map[string][]string{
	"subject":  {"sub", "id"},
	"username": {"preferred_username", "nickname", "login", "email"},
	"email":    {"email"},
	"name":     {"name", "given_name"},
}

// MapProfile resuelve cada campo local recorriendo su lista de claims
// candidatos en orden: gana el primero presente y no vacío. Los claims se
// leen como valores planos; no hay traversal anidado ni reflection.
func MapProfile(mapping map[string][]string, claims map[string]any) (*Profile, error) {
	resolve := func(field string) string {
		candidates, ok := mapping[field]
		if !ok || len(candidates) == 0 {
			candidates = defaultMapping[field]
		}
		for _, key := range candidates {
			if v := claimString(claims, key); v != "" {
				return v
			}
		}
		return ""
	}

	p := &Profile{
		Subject:  resolve("subject"),
		Username: resolve("username"),
		Email:    resolve("email"),
		Name:     resolve("name"),
	}
	if p.Subject == "" {
		return nil, fmt.Errorf("%w: no subject claim", ErrUpstream)
	}
	return p, nil
}

// claimString normaliza los tipos que aparecen en userinfo reales: strings,
// números (IDs de GitHub) y booleanos se descartan salvo string/número.
func claimString(claims map[string]any, key string) string {
	v, ok := claims[key]
	if !ok {
		return ""
	}
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprintf("%v", t)
	default:
		return ""
	}
}
