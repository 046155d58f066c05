// Package helpers agrupa utilidades compartidas por los handlers: JSON,
// cookies e IP del cliente.
package helpers

import (
	"encoding/json"
	"net"
	"net/http"
	"strings"

	httperrors "github.com/stridelab/stride/internal/http/errors"
)

const maxBodyBytes = 1 << 20 // 1 MiB

// WriteJSON serializa la respuesta con el status dado.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// DecodeJSON parsea el body rechazando campos desconocidos y cuerpos
// desmedidos.
func DecodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return httperrors.ErrInvalidJSON.WithCause(err)
	}
	return nil
}

// ClientIP resuelve la IP del cliente. Los headers de forwarding solo se
// leen si el server está declarado detrás de un proxy confiable: un cliente
// directo puede inventar X-Forwarded-For y rotar identidades ante el limiter.
func ClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			parts := strings.Split(xff, ",")
			if ip := strings.TrimSpace(parts[0]); ip != "" {
				return ip
			}
		}
		if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
			return xri
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
