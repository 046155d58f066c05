package repository

import "errors"

// Errores sentinel compartidos por todos los adapters de persistencia.
var (
	ErrNotFound = errors.New("repository: not found")
	ErrConflict = errors.New("repository: conflict")
)
