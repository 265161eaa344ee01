package common

import "errors"

// Business logic errors
var (
	// General errors
	ErrNotFound  = errors.New("resource not found")
	ErrForbidden = errors.New("forbidden")

	// Post type errors
	ErrUnknownPostType = errors.New("unknown post type")
	ErrInvalidTypeName = errors.New("invalid post type name")

	// Migration errors
	ErrMigrationInProgress = errors.New("migration already in progress for this post type")
	ErrSchemaMismatch      = errors.New("existing table does not match expected schema")
	ErrTableMissing        = errors.New("table does not exist")

	// Post errors
	ErrPostNotFound = errors.New("post not found")
	ErrMetaNotFound = errors.New("meta not found")

	// Auth errors
	ErrUnauthorized = errors.New("unauthorized")
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("expired token")

	// Validation errors
	ErrInvalidInput = errors.New("invalid input")
)
