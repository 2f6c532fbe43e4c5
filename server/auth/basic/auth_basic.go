// Package basic is an email+password authentication scheme. Passwords are
// stored as bcrypt hashes; session tokens are opaque random strings kept on
// the user record, one live token per account.
package basic

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/oxytalk/chat/server/auth"
	"github.com/oxytalk/chat/server/store"
	t "github.com/oxytalk/chat/server/store/types"
)

// Default minimum password length.
const defaultMinPasswordLength = 6

// Default minimum username length.
const defaultMinLoginLength = 2

// authenticator is the type to map authentication methods to.
type authenticator struct {
	minPasswordLength int
	minLoginLength    int
	bcryptCost        int
}

// Init initializes the basic authenticator.
func (a *authenticator) Init(jsonconf string) error {
	type configType struct {
		MinPasswordLength int `json:"min_password_length"`
		MinLoginLength    int `json:"min_login_length"`
		BcryptCost        int `json:"bcrypt_cost"`
	}

	var config configType
	if jsonconf != "" {
		if err := json.Unmarshal([]byte(jsonconf), &config); err != nil {
			return errors.New("auth_basic: failed to parse config: " + err.Error() + "(" + jsonconf + ")")
		}
	}

	a.minPasswordLength = config.MinPasswordLength
	if a.minPasswordLength <= 0 {
		a.minPasswordLength = defaultMinPasswordLength
	}
	a.minLoginLength = config.MinLoginLength
	if a.minLoginLength <= 0 {
		a.minLoginLength = defaultMinLoginLength
	}
	a.bcryptCost = config.BcryptCost
	if a.bcryptCost < bcrypt.MinCost || a.bcryptCost > bcrypt.MaxCost {
		a.bcryptCost = bcrypt.DefaultCost
	}

	return nil
}

// CreateAccount validates the credentials, hashes the password and creates
// the user record with its first session token.
func (a *authenticator) CreateAccount(acc *auth.NewAccount) (*t.User, string, error) {
	email := strings.TrimSpace(strings.ToLower(acc.Email))
	username := strings.TrimSpace(acc.Username)

	if email == "" || !strings.Contains(email, "@") {
		return nil, "", auth.ErrMalformed
	}
	if len(username) < a.minLoginLength {
		return nil, "", auth.ErrPolicy
	}
	if len(acc.Password) < a.minPasswordLength {
		return nil, "", auth.ErrPolicy
	}

	passhash, err := bcrypt.GenerateFromPassword([]byte(acc.Password), a.bcryptCost)
	if err != nil {
		return nil, "", auth.ErrInternal
	}

	token := newToken()
	user, err := store.Users.Create(&t.User{
		Email:     email,
		Username:  username,
		AvatarURL: acc.AvatarURL,
		Passhash:  passhash,
		Token:     token,
	})
	if err != nil {
		if err == t.ErrDuplicate {
			return nil, "", auth.ErrDuplicate
		}
		return nil, "", auth.ErrInternal
	}

	return user, token, nil
}

// Authenticate checks the email/password pair and refreshes the session token.
func (a *authenticator) Authenticate(email, password string) (*t.User, string, error) {
	user, err := store.Users.GetByEmail(strings.TrimSpace(email))
	if err != nil {
		return nil, "", auth.ErrInternal
	}
	if user == nil {
		return nil, "", auth.ErrFailed
	}

	if bcrypt.CompareHashAndPassword(user.Passhash, []byte(password)) != nil {
		return nil, "", auth.ErrFailed
	}

	token := newToken()
	if err = store.Users.UpdateToken(user.Id, token); err != nil {
		return nil, "", auth.ErrInternal
	}
	user.Token = token

	return user, token, nil
}

// CheckToken resolves a session token to its user.
func (a *authenticator) CheckToken(token string) (*t.User, error) {
	if token == "" {
		return nil, nil
	}
	user, err := store.Users.GetByToken(token)
	if err != nil {
		return nil, auth.ErrInternal
	}
	return user, nil
}

func newToken() string {
	return uuid.NewString()
}

// NewAuthenticator returns the basic auth scheme with default settings.
func NewAuthenticator() auth.Handler {
	a := &authenticator{}
	a.Init("")
	return a
}
