package storage

import (
	"errors"

	apperrors "chatwithai-backend/internal/errors"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionExists   = errors.New("session already exists")
	ErrMessageNotFound = errors.New("message not found")
	ErrAlreadyResolved = errors.New("message already resolved")
	ErrInvalidData     = errors.New("invalid data")
	ErrEmptySubmission = apperrors.ErrEmptySubmission
)
