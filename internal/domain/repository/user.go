// Package repository define las entidades y contratos de persistencia del
// core de autenticación. Los adapters concretos viven en internal/store.
package repository

import (
	"context"
	"time"
)

// User es la cuenta local. El resto del backend (actividades, equipamiento,
// métricas de salud) referencia este ID; acá solo mutan los campos de
// credenciales y MFA.
type User struct {
	ID             int64
	Username       string
	Email          string
	PasswordHash   string // PHC argon2id; vacío para cuentas solo-SSO
	MFAEnabled     bool
	MFASecretEnc   string // secreto TOTP cifrado por secretbox
	TOTPLastUsedAt *time.Time
	Active         bool // false hasta confirmar el mail de registro
	Approved       bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// CreateUserInput es el input de alta (registro local o auto-provisioning SSO).
type CreateUserInput struct {
	Username     string
	Email        string
	PasswordHash string
	Active       bool
	Approved     bool
}

// UserRepository persiste usuarios. El borrado de un usuario cascadea a sus
// sesiones, estado MFA y links de identidad (ON DELETE CASCADE en el schema).
type UserRepository interface {
	Create(ctx context.Context, input CreateUserInput) (*User, error)
	GetByID(ctx context.Context, id int64) (*User, error)
	GetByUsername(ctx context.Context, username string) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)

	// SetPasswordHash reemplaza el hash (reset de contraseña).
	SetPasswordHash(ctx context.Context, id int64, phc string) error

	// SetActive marca la cuenta activa (confirmación de registro).
	SetActive(ctx context.Context, id int64, active bool) error

	// EnableMFA persiste el secreto cifrado y enciende el flag en un solo paso.
	EnableMFA(ctx context.Context, id int64, secretEnc string) error

	// DisableMFA apaga el flag y limpia secreto y contador.
	DisableMFA(ctx context.Context, id int64) error

	// SetTOTPLastUsed persiste el último contador TOTP consumido (anti-replay).
	SetTOTPLastUsed(ctx context.Context, id int64, usedAt time.Time) error
}
