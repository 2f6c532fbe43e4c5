// Package auth contains the interface that authentication schemes must
// implement and the error codes they report. The rest of the server treats
// identity as opaque: it resolves tokens to user records through a Handler
// and never looks at credentials.
package auth

import (
	t "github.com/oxytalk/chat/server/store/types"
)

// AuthErr is a structure for reporting an error condition.
type AuthErr string

func (e AuthErr) Error() string {
	return string(e)
}

const (
	// ErrInternal means DB or other internal failure.
	ErrInternal = AuthErr("internal")
	// ErrMalformed means the credentials cannot be parsed or are otherwise wrong.
	ErrMalformed = AuthErr("malformed")
	// ErrFailed means authentication failed (wrong login or password, etc).
	ErrFailed = AuthErr("failed")
	// ErrDuplicate means a non-unique login or email.
	ErrDuplicate = AuthErr("duplicate")
	// ErrPolicy means policy violation, e.g. password too weak.
	ErrPolicy = AuthErr("policy")
)

// NewAccount is the input to account creation.
type NewAccount struct {
	Email    string
	Username string
	Password string
	// Optional reference to an uploaded avatar. Binary upload itself is
	// handled elsewhere.
	AvatarURL string
}

// Handler is the interface which auth schemes must implement.
type Handler interface {
	// Init initializes the handler from a JSON config string.
	Init(jsonconf string) error

	// CreateAccount registers a new account and mints its first session
	// token. Returns the created user and the token.
	CreateAccount(acc *NewAccount) (*t.User, string, error)

	// Authenticate verifies the given credentials and mints a fresh session
	// token, invalidating the previous one.
	Authenticate(email, password string) (*t.User, string, error)

	// CheckToken resolves a session token to a user record; nil if the token
	// is unknown.
	CheckToken(token string) (*t.User, error)
}
