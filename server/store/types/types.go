// Package types contains data types shared between the server and the
// database adapters.
package types

import (
	"database/sql/driver"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"strings"
	"time"
)

// StoreError satisfies Error interface but allows constant values for
// direct comparison.
type StoreError string

// Error is required by error interface.
func (s StoreError) Error() string {
	return string(s)
}

const (
	// ErrInternal means DB or other internal failure.
	ErrInternal = StoreError("internal")
	// ErrMalformed means the input is malformed.
	ErrMalformed = StoreError("malformed")
	// ErrFailed means authentication failed.
	ErrFailed = StoreError("failed")
	// ErrDuplicate means the object being created already exists.
	ErrDuplicate = StoreError("duplicate")
	// ErrPermissionDenied means the operation is not permitted.
	ErrPermissionDenied = StoreError("denied")
	// ErrNotFound means the object was not found.
	ErrNotFound = StoreError("not found")
	// ErrUnsupported means the operation is not supported.
	ErrUnsupported = StoreError("unsupported")
	// ErrSelfInvite means a user tried to invite themselves.
	ErrSelfInvite = StoreError("self invite")
	// ErrInvitePending means a pending invite already exists for the pair,
	// in either direction.
	ErrInvitePending = StoreError("invite pending")
	// ErrAlreadyContacts means the pair already has a contact edge.
	ErrAlreadyContacts = StoreError("already contacts")
)

// Uid is a database-specific record id, suitable to be used as a primary key.
type Uid uint64

// ZeroUid is a constant representing uninitialized Uid.
const ZeroUid Uid = 0

const (
	uidBase64Unpadded = 11
	uidBase64Padded   = 12

	chatBase64Unpadded = 22
	chatBase64Padded   = 24
)

// IsZero checks if Uid is uninitialized.
func (uid Uid) IsZero() bool {
	return uid == ZeroUid
}

// Compare returns 0 if uid is equal to u2, 1 if u2 is greater than uid, -1 if u2 is smaller.
func (uid Uid) Compare(u2 Uid) int {
	if uid < u2 {
		return -1
	} else if uid > u2 {
		return 1
	}
	return 0
}

// MarshalBinary converts Uid to byte slice.
func (uid Uid) MarshalBinary() ([]byte, error) {
	dst := make([]byte, 8)
	binary.LittleEndian.PutUint64(dst, uint64(uid))
	return dst, nil
}

// UnmarshalBinary reads Uid from byte slice.
func (uid *Uid) UnmarshalBinary(b []byte) error {
	if len(b) < 8 {
		return errors.New("Uid.UnmarshalBinary: invalid length")
	}
	*uid = Uid(binary.LittleEndian.Uint64(b))
	return nil
}

// UnmarshalText reads Uid from base64-encoded string.
func (uid *Uid) UnmarshalText(src []byte) error {
	if len(src) != uidBase64Unpadded {
		return errors.New("Uid.UnmarshalText: invalid length")
	}
	for len(src) < uidBase64Padded {
		src = append(src, '=')
	}
	dec := make([]byte, base64.URLEncoding.DecodedLen(uidBase64Padded))
	count, err := base64.URLEncoding.Decode(dec, src)
	if count < 8 {
		if err != nil {
			return errors.New("Uid.UnmarshalText: failed to decode " + err.Error())
		}
		return errors.New("Uid.UnmarshalText: invalid decoded length")
	}
	*uid = Uid(binary.LittleEndian.Uint64(dec))
	return nil
}

// MarshalText converts Uid to base64-encoded string.
func (uid Uid) MarshalText() ([]byte, error) {
	if uid.IsZero() {
		return []byte{}, nil
	}
	src := make([]byte, 8)
	dst := make([]byte, base64.URLEncoding.EncodedLen(8))
	binary.LittleEndian.PutUint64(src, uint64(uid))
	base64.URLEncoding.Encode(dst, src)
	return dst[:uidBase64Unpadded], nil
}

// MarshalJSON converts Uid to double quoted ("ajjj") string.
func (uid Uid) MarshalJSON() ([]byte, error) {
	dst, _ := uid.MarshalText()
	return append(append([]byte{'"'}, dst...), '"'), nil
}

// UnmarshalJSON reads Uid from a double quoted string.
func (uid *Uid) UnmarshalJSON(b []byte) error {
	size := len(b)
	if size != uidBase64Unpadded+2 {
		return errors.New("Uid.UnmarshalJSON: invalid length")
	} else if b[0] != '"' || b[size-1] != '"' {
		return errors.New("Uid.UnmarshalJSON: unrecognized")
	}
	return uid.UnmarshalText(b[1 : size-1])
}

// String converts Uid to its base64 string representation.
func (uid Uid) String() string {
	buf, _ := uid.MarshalText()
	return string(buf)
}

// ParseUid parses string into Uid.
func ParseUid(s string) Uid {
	var uid Uid
	uid.UnmarshalText([]byte(s))
	return uid
}

// Value implements sql's driver.Valuer interface: Uids are stored as signed
// 64-bit integers.
func (uid Uid) Value() (driver.Value, error) {
	return int64(uid), nil
}

// Scan implements sql.Scanner interface.
func (uid *Uid) Scan(val any) error {
	switch v := val.(type) {
	case int64:
		*uid = Uid(v)
		return nil
	case nil:
		*uid = ZeroUid
		return nil
	}
	return errors.New("Uid.Scan: unsupported value type")
}

// ChatName generates the name of the 1:1 chat channel between the two given
// users. The name is deterministic and commutative: both parties derive the
// same name locally, no registry lookup is involved. A chat of a user with
// themselves is not a thing, such a pair yields an empty name.
func ChatName(uid, u2 Uid) string {
	if uid.IsZero() || u2.IsZero() {
		return ""
	}

	b1, _ := uid.MarshalBinary()
	b2, _ := u2.MarshalBinary()

	if uid < u2 {
		b1 = append(b1, b2...)
	} else if uid > u2 {
		b1 = append(b2, b1...)
	} else {
		return ""
	}

	return "p2p" + base64.URLEncoding.EncodeToString(b1)[:chatBase64Unpadded]
}

// ParseChat extracts the two user ids from the name of a chat channel.
func ParseChat(chat string) (uid1, uid2 Uid, err error) {
	if !strings.HasPrefix(chat, "p2p") {
		err = errors.New("ParseChat: missing or invalid prefix")
		return
	}

	src := []byte(chat)[3:]
	if len(src) != chatBase64Unpadded {
		err = errors.New("ParseChat: invalid length")
		return
	}
	for len(src) < chatBase64Padded {
		src = append(src, '=')
	}
	dec := make([]byte, base64.URLEncoding.DecodedLen(chatBase64Padded))
	var count int
	count, err = base64.URLEncoding.Decode(dec, src)
	if count < 16 {
		if err != nil {
			err = errors.New("ParseChat: failed to decode " + err.Error())
			return
		}
		err = errors.New("ParseChat: invalid decoded length")
		return
	}
	uid1 = Uid(binary.LittleEndian.Uint64(dec))
	uid2 = Uid(binary.LittleEndian.Uint64(dec[8:]))
	return
}

// ChatMember checks if the given user is one of the two members encoded in
// the chat name.
func ChatMember(chat string, uid Uid) bool {
	uid1, uid2, err := ParseChat(chat)
	if err != nil {
		return false
	}
	return uid == uid1 || uid == uid2
}

// ChatOtherUser returns the chat member which is not the given user.
func ChatOtherUser(chat string, uid Uid) Uid {
	uid1, uid2, err := ParseChat(chat)
	if err != nil {
		return ZeroUid
	}
	if uid == uid1 {
		return uid2
	}
	if uid == uid2 {
		return uid1
	}
	return ZeroUid
}

// TimeNow returns current wall time in UTC rounded to milliseconds.
func TimeNow() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}

// User is a registered account: an opaque id plus public profile attributes.
type User struct {
	Id        Uid       `db:"id" json:"id"`
	CreatedAt time.Time `db:"createdat" json:"createdAt"`
	Email     string    `db:"email" json:"email,omitempty"`
	Username  string    `db:"username" json:"username"`
	AvatarURL string    `db:"avatarurl" json:"avatarUrl,omitempty"`
	// Hash of the account password. Never serialized to the wire.
	Passhash []byte `db:"passhash" json:"-"`
	// Current session token, empty if logged out. Never serialized.
	Token string `db:"token" json:"-"`
}

// Invite statuses. An invite starts as pending and transitions exactly once,
// to either accepted or rejected. Terminal records are kept as an audit trail.
const (
	InvitePending  = "pending"
	InviteAccepted = "accepted"
	InviteRejected = "rejected"
)

// Invite is a proposal from one user to become contacts with another.
type Invite struct {
	Id        Uid       `db:"id" json:"id"`
	CreatedAt time.Time `db:"createdat" json:"createdAt"`
	From      Uid       `db:"fromuser" json:"from"`
	To        Uid       `db:"touser" json:"to"`
	Status    string    `db:"status" json:"status"`
}

// Contact is a permanent symmetric edge between two users, created when an
// invite is accepted. User1 < User2 always; the edge is stored once per pair.
type Contact struct {
	User1     Uid       `db:"user1"`
	User2     Uid       `db:"user2"`
	CreatedAt time.Time `db:"createdat"`
}

// OrderPair returns the two given uids in canonical (ascending) order.
func OrderPair(uid, u2 Uid) (Uid, Uid) {
	if uid.Compare(u2) > 0 {
		return u2, uid
	}
	return uid, u2
}

// Message is a single chat message. Immutable once created. Messages flagged
// ephemeral are delivered live and never reach the adapter.
type Message struct {
	Id        Uid       `db:"id" json:"id"`
	CreatedAt time.Time `db:"createdat" json:"ts"`
	Chat      string    `db:"chat" json:"chat"`
	From      Uid       `db:"fromuser" json:"from"`
	Text      string    `db:"content" json:"text"`
	Ephemeral bool      `db:"-" json:"ephemeral,omitempty"`
}
