package shared

import "errors"

var (
	// ErrNotSignedIn indicates the request carries no persona.
	ErrNotSignedIn = errors.New("not signed in")
	// ErrInvalidPersona indicates a sign in request named an unusable persona.
	ErrInvalidPersona = errors.New("invalid persona")
)
