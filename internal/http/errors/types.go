// Package errors define la taxonomía de errores HTTP del servicio. Cada
// error sale con un código estable para que los clientes puedan ramificar
// sin parsear mensajes.
package errors

import (
	"fmt"
	"net/http"
)

// AppError es el error estándar de la capa HTTP.
type AppError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Detail     string `json:"detail,omitempty"`
	HTTPStatus int    `json:"-"`
	Err        error  `json:"-"` // causa original, solo para logs
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error { return e.Err }

func New(status int, code, message string) *AppError {
	return &AppError{Code: code, Message: message, HTTPStatus: status}
}

// WithDetail devuelve una COPIA con detalle extra: las variables del
// catálogo no se mutan.
func (e *AppError) WithDetail(detail string) *AppError {
	cp := *e
	cp.Detail = detail
	return &cp
}

// WithCause devuelve una COPIA con la causa original.
func (e *AppError) WithCause(err error) *AppError {
	cp := *e
	cp.Err = err
	return &cp
}

// FromError normaliza cualquier error a AppError. Lo que no matchea nada
// conocido sale como 500 genérico conservando la causa para el log.
func FromError(err error) *AppError {
	if appErr, ok := err.(*AppError); ok {
		return appErr
	}
	return ErrInternal.WithCause(err)
}

// ---------------------------------------------------------------------------------
// 400 Bad Request
// ---------------------------------------------------------------------------------

var (
	ErrBadRequest = &AppError{
		Code:       "BAD_REQUEST",
		Message:    "La solicitud contiene sintaxis inválida o parámetros faltantes.",
		HTTPStatus: http.StatusBadRequest,
	}
	ErrInvalidJSON = &AppError{
		Code:       "INVALID_JSON",
		Message:    "El cuerpo de la solicitud no es un JSON válido.",
		HTTPStatus: http.StatusBadRequest,
	}
	ErrMissingFields = &AppError{
		Code:       "MISSING_FIELDS",
		Message:    "Faltan campos requeridos en la solicitud.",
		HTTPStatus: http.StatusBadRequest,
	}
	ErrWeakPassword = &AppError{
		Code:       "WEAK_PASSWORD",
		Message:    "La contraseña no cumple la política de seguridad.",
		HTTPStatus: http.StatusBadRequest,
	}
	ErrInvalidState = &AppError{
		Code:       "INVALID_STATE",
		Message:    "El parámetro state es inválido, expiró o ya fue usado.",
		HTTPStatus: http.StatusBadRequest,
	}
	ErrBadEmailToken = &AppError{
		Code:       "INVALID_TOKEN",
		Message:    "El token es inválido, expiró o ya fue usado.",
		HTTPStatus: http.StatusBadRequest,
	}
)

// ---------------------------------------------------------------------------------
// 401 Unauthorized
// ---------------------------------------------------------------------------------

var (
	ErrUnauthorized = &AppError{
		Code:       "UNAUTHORIZED",
		Message:    "Se requiere autenticación para acceder a este recurso.",
		HTTPStatus: http.StatusUnauthorized,
	}
	ErrInvalidCredentials = &AppError{
		Code:       "INVALID_CREDENTIALS",
		Message:    "Usuario o contraseña incorrectos.",
		HTTPStatus: http.StatusUnauthorized,
	}
	ErrTokenExpired = &AppError{
		Code:       "TOKEN_EXPIRED",
		Message:    "El token expiró.",
		HTTPStatus: http.StatusUnauthorized,
	}
	ErrTokenInvalid = &AppError{
		Code:       "TOKEN_INVALID",
		Message:    "El token es inválido.",
		HTTPStatus: http.StatusUnauthorized,
	}
	ErrRefreshReused = &AppError{
		Code:       "REFRESH_REUSED",
		Message:    "El refresh token ya fue usado. Todas las sesiones fueron cerradas.",
		HTTPStatus: http.StatusUnauthorized,
	}
	ErrInvalidMFACode = &AppError{
		Code:       "INVALID_MFA_CODE",
		Message:    "El código de verificación es incorrecto.",
		HTTPStatus: http.StatusUnauthorized,
	}
	ErrMFATokenInvalid = &AppError{
		Code:       "MFA_TOKEN_INVALID",
		Message:    "El login pendiente no existe o expiró. Iniciá sesión de nuevo.",
		HTTPStatus: http.StatusUnauthorized,
	}
)

// ---------------------------------------------------------------------------------
// 403 Forbidden
// ---------------------------------------------------------------------------------

var (
	ErrInsufficientScopes = &AppError{
		Code:       "INSUFFICIENT_SCOPES",
		Message:    "El token no tiene los permisos necesarios para esta operación.",
		HTTPStatus: http.StatusForbidden,
	}
	ErrCSRFRejected = &AppError{
		Code:       "CSRF_REJECTED",
		Message:    "CSRF token ausente o inválido.",
		HTTPStatus: http.StatusForbidden,
	}
	ErrAccountInactive = &AppError{
		Code:       "ACCOUNT_INACTIVE",
		Message:    "La cuenta no está activada. Revisá tu correo de confirmación.",
		HTTPStatus: http.StatusForbidden,
	}
	ErrAccountNotApproved = &AppError{
		Code:       "ACCOUNT_NOT_APPROVED",
		Message:    "La cuenta está pendiente de aprobación.",
		HTTPStatus: http.StatusForbidden,
	}
)

// ---------------------------------------------------------------------------------
// 404 / 409
// ---------------------------------------------------------------------------------

var (
	ErrNotFound = &AppError{
		Code:       "NOT_FOUND",
		Message:    "El recurso solicitado no existe.",
		HTTPStatus: http.StatusNotFound,
	}
	ErrProviderNotFound = &AppError{
		Code:       "PROVIDER_NOT_FOUND",
		Message:    "El proveedor de identidad no existe o está deshabilitado.",
		HTTPStatus: http.StatusNotFound,
	}
	ErrConflict = &AppError{
		Code:       "CONFLICT",
		Message:    "El recurso ya existe o el estado actual no permite la operación.",
		HTTPStatus: http.StatusConflict,
	}
	ErrUserExists = &AppError{
		Code:       "USER_EXISTS",
		Message:    "El nombre de usuario o el correo ya están registrados.",
		HTTPStatus: http.StatusConflict,
	}
	ErrAccountNotLinked = &AppError{
		Code:       "ACCOUNT_NOT_LINKED",
		Message:    "La identidad externa no está vinculada a ninguna cuenta.",
		HTTPStatus: http.StatusConflict,
	}
	ErrIdentityConflict = &AppError{
		Code:       "IDENTITY_CONFLICT",
		Message:    "La identidad externa ya está vinculada a otra cuenta.",
		HTTPStatus: http.StatusConflict,
	}
	ErrMFAStateConflict = &AppError{
		Code:       "MFA_STATE_CONFLICT",
		Message:    "El estado MFA actual no permite esta operación.",
		HTTPStatus: http.StatusConflict,
	}
	ErrLastAuthMethod = &AppError{
		Code:       "LAST_AUTH_METHOD",
		Message:    "No se puede quitar el último método de acceso de la cuenta.",
		HTTPStatus: http.StatusConflict,
	}
	ErrProviderInUse = &AppError{
		Code:       "PROVIDER_IN_USE",
		Message:    "El proveedor tiene cuentas vinculadas y no puede eliminarse.",
		HTTPStatus: http.StatusConflict,
	}
)

// ---------------------------------------------------------------------------------
// 429 / 5xx
// ---------------------------------------------------------------------------------

var (
	ErrRateLimited = &AppError{
		Code:       "RATE_LIMIT_EXCEEDED",
		Message:    "Demasiadas solicitudes. Probá de nuevo más tarde.",
		HTTPStatus: http.StatusTooManyRequests,
	}
	ErrInternal = &AppError{
		Code:       "INTERNAL_ERROR",
		Message:    "Error interno del servidor.",
		HTTPStatus: http.StatusInternalServerError,
	}
	ErrUpstreamUnavailable = &AppError{
		Code:       "UPSTREAM_UNAVAILABLE",
		Message:    "El proveedor de identidad no respondió correctamente.",
		HTTPStatus: http.StatusBadGateway,
	}
)
