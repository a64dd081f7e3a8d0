package app

import "errors"

var (
	// ErrUserNotFound indicates the dialog subject does not exist.
	ErrUserNotFound  = errors.New("user not found")
	ErrInvalidUserID = errors.New("invalid user id")
	ErrInvalidDialog = errors.New("invalid dialog")
)
