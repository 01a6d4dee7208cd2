package service

import (
	"errors"

	"github.com/qasim313/Unbrandit/internal/repository"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrValidation         = errors.New("validation failed")
	ErrInvalidTransition  = errors.New("invalid status transition")
	ErrQueueUnavailable   = errors.New("queue unavailable")
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrInvalidReference   = errors.New("invalid file reference")
)

// storeErr translates repository errors into service errors.
func storeErr(err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return ErrNotFound
	}
	return err
}
