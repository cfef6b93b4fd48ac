package store

import (
	"errors"
)

var (
	ErrInvalidParameter = errors.New("invalid parameter")
	ErrNilParameter     = errors.New("nil parameter")
	ErrKeyNotFound      = errors.New("key not found")
	ErrInvalidKeySize   = errors.New("invalid key size")
)
