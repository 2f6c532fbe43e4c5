// Package adapter contains the interface to be implemented by the database
// adapters. The adapter is the persistence gateway: a key-addressable store
// of users, invites, contact edges and per-channel message logs.
package adapter

import (
	"encoding/json"

	t "github.com/oxytalk/chat/server/store/types"
)

// Adapter is the interface that must be implemented by a database adapter.
// All methods report storage failures as errors; "object is missing" is
// types.ErrNotFound. Adapters are assumed crash-consistent per call but not
// transactional across calls.
type Adapter interface {
	// General

	// Open and configure the adapter.
	Open(config json.RawMessage) error
	// Close the adapter.
	Close() error
	// IsOpen checks if the adapter is ready for use.
	IsOpen() bool
	// GetName returns the name of the adapter.
	GetName() string
	// SetMaxResults configures how many results can be returned in a single DB call.
	SetMaxResults(val int) error
	// CreateDb creates the database, optionally dropping an existing database first.
	CreateDb(reset bool) error
	// Stats returns the DB connection stats object.
	Stats() any

	// User management

	// UserCreate creates a user record.
	UserCreate(user *t.User) error
	// UserGet returns the record for a given user ID.
	UserGet(uid t.Uid) (*t.User, error)
	// UserGetAll returns user records for the given list of user IDs.
	UserGetAll(ids ...t.Uid) ([]t.User, error)
	// UserGetByEmail returns the user with the given email, case-insensitive.
	UserGetByEmail(email string) (*t.User, error)
	// UserGetByToken returns the user currently holding the given session token.
	UserGetByToken(token string) (*t.User, error)
	// UserUpdateToken replaces the user's session token.
	UserUpdateToken(uid t.Uid, token string) error
	// UserSearch returns users whose username starts with the given prefix,
	// case-insensitive, excluding the given user. The result count is bounded
	// by SetMaxResults.
	UserSearch(prefix string, excluding t.Uid) ([]t.User, error)
	// UsernameTaken checks if a username is already in use, case-insensitive.
	UsernameTaken(username string) (bool, error)

	// Invite management

	// InviteCreate saves a new pending invite record.
	InviteCreate(inv *t.Invite) error
	// InviteGet returns the invite with the given id.
	InviteGet(id t.Uid) (*t.Invite, error)
	// InvitePendingBetween checks for a pending invite between the two users,
	// in either direction.
	InvitePendingBetween(uid1, uid2 t.Uid) (bool, error)
	// InviteListIncoming returns pending invites addressed to the given user,
	// most recent first.
	InviteListIncoming(uid t.Uid) ([]t.Invite, error)
	// InviteSetStatus transitions the invite out of the pending state. The
	// update applies only if the invite is still pending and addressed to
	// the given responder; otherwise types.ErrNotFound is returned. This is
	// the compare-and-swap which serializes concurrent responses.
	InviteSetStatus(id t.Uid, responder t.Uid, status string) error

	// Contact management

	// ContactAdd records a contact edge for the pair. Adding an existing
	// edge is a no-op.
	ContactAdd(uid1, uid2 t.Uid) error
	// ContactExists checks if a contact edge exists for the pair.
	ContactExists(uid1, uid2 t.Uid) (bool, error)
	// ContactList returns the edges involving the given user in the order
	// they were created.
	ContactList(uid t.Uid) ([]t.Contact, error)

	// Message management

	// ChannelEnsure creates the message log of the given chat if it does not
	// exist yet. Idempotent.
	ChannelEnsure(chat string) error
	// MessageSave appends a message to its channel's log.
	MessageSave(msg *t.Message) error
	// MessageGetAll returns the durable log of a channel in append order.
	MessageGetAll(chat string) ([]t.Message, error)
	// MessageDeleteAll truncates the durable log of a channel.
	MessageDeleteAll(chat string) error
}
