package handlers

import "errors"

var (
	// ErrNotFound means the targeted account or restaurant does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict means a concurrent write won the version check twice.
	ErrConflict = errors.New("conflicting update, please retry")
	// ErrInvalidCredentials covers both unknown email and wrong password;
	// callers must not tell the two apart.
	ErrInvalidCredentials = errors.New("wrong email/password combination")
)
