// Package secretbox cifra secretos en reposo (client secrets de providers,
// refresh tokens de IdP, semillas MFA) con AES-256-GCM y una clave maestra
// del servidor. El formato en disco es base64(nonce)|base64(ciphertext).
package secretbox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

const (
	nonceSizeGCM      = 12  // AES-GCM nonce recomendado (96 bits)
	requiredKeyLength = 32  // 32 bytes => AES-256
	sep               = "|" // nonce|ciphertext (ambos en base64)
)

// ErrDecryptionFailed se retorna ante ciphertext malformado o manipulado.
// Falla cerrado: nunca se devuelve plaintext parcial.
var ErrDecryptionFailed = errors.New("secretbox: decryption failed")

// Box es el vault simétrico. Se construye una vez en el arranque y se inyecta
// por referencia; los tests crean instancias aisladas con claves propias.
type Box struct {
	key []byte
}

// New crea un Box con una clave cruda de 32 bytes.
func New(key []byte) (*Box, error) {
	if len(key) != requiredKeyLength {
		return nil, fmt.Errorf("secretbox: la clave debe ser de %d bytes, obtuvo %d", requiredKeyLength, len(key))
	}
	b := &Box{key: make([]byte, requiredKeyLength)}
	copy(b.key, key)
	return b, nil
}

// NewFromBase64 crea un Box desde una clave base64 (std o raw).
func NewFromBase64(b64 string) (*Box, error) {
	b64 = strings.TrimSpace(b64)
	if b64 == "" {
		return nil, errors.New("secretbox: clave vacía; genere una con: openssl rand -base64 32")
	}
	k, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		if k, err = base64.RawStdEncoding.DecodeString(b64); err != nil {
			return nil, fmt.Errorf("secretbox: decode clave: %w", err)
		}
	}
	return New(k)
}

// NewFromEnv carga la clave desde una variable de entorno (base64).
func NewFromEnv(envVar string) (*Box, error) {
	v := strings.TrimSpace(os.Getenv(envVar))
	if v == "" {
		return nil, fmt.Errorf("secretbox: %s no seteada; genere una clave con: openssl rand -base64 32", envVar)
	}
	return NewFromBase64(v)
}

// Encrypt cifra plainText y devuelve base64(nonce)|base64(ciphertext).
func (b *Box) Encrypt(plainText string) (string, error) {
	aesgcm, err := b.aead()
	if err != nil {
		return "", err
	}
	nonce := make([]byte, nonceSizeGCM)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("secretbox: nonce random: %w", err)
	}
	ct := aesgcm.Seal(nil, nonce, []byte(plainText), nil)
	return base64.StdEncoding.EncodeToString(nonce) + sep + base64.StdEncoding.EncodeToString(ct), nil
}

// Decrypt recibe base64(nonce)|base64(ciphertext) y devuelve el texto plano.
// Cualquier problema de formato o autenticación retorna ErrDecryptionFailed.
func (b *Box) Decrypt(cipherText string) (string, error) {
	parts := strings.Split(cipherText, sep)
	if len(parts) != 2 {
		return "", ErrDecryptionFailed
	}
	nonce, err := base64.StdEncoding.DecodeString(parts[0])
	if err != nil || len(nonce) != nonceSizeGCM {
		return "", ErrDecryptionFailed
	}
	ct, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return "", ErrDecryptionFailed
	}
	aesgcm, err := b.aead()
	if err != nil {
		return "", err
	}
	pt, err := aesgcm.Open(nil, nonce, ct, nil)
	if err != nil {
		return "", ErrDecryptionFailed
	}
	return string(pt), nil
}

func (b *Box) aead() (cipher.AEAD, error) {
	block, err := aes.NewCipher(b.key)
	if err != nil {
		return nil, fmt.Errorf("secretbox: aes.NewCipher: %w", err)
	}
	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("secretbox: cipher.NewGCM: %w", err)
	}
	return aesgcm, nil
}
