// Package store provides methods for registering and accessing database
// adapters, and an object-mapper layer on top of the active adapter.
package store

import (
	"encoding/json"
	"errors"
	"strings"

	adapter "github.com/oxytalk/chat/server/db"
	"github.com/oxytalk/chat/server/store/types"
)

var adp adapter.Adapter
var availableAdapters = make(map[string]adapter.Adapter)

// Unique ID generator.
var uGen types.UidGenerator

type configType struct {
	// 16-byte key for XTEA. Used to initialize types.UidGenerator.
	UidKey []byte `json:"uid_key"`
	// Maximum number of results to return from the adapter.
	MaxResults int `json:"max_results"`
	// DB adapter name to use. Should be one of those specified in `Adapters`.
	UseAdapter string `json:"use_adapter"`
	// Configurations for individual adapters.
	Adapters map[string]json.RawMessage `json:"adapters"`
}

func openAdapter(workerID int, jsonconf json.RawMessage) error {
	var config configType
	if err := json.Unmarshal(jsonconf, &config); err != nil {
		return errors.New("store: failed to parse config: " + err.Error() + "(" + string(jsonconf) + ")")
	}

	if adp == nil {
		if len(config.UseAdapter) > 0 {
			// Adapter name specified explicitly.
			if ad, ok := availableAdapters[config.UseAdapter]; ok {
				adp = ad
			} else {
				return errors.New("store: " + config.UseAdapter + " adapter is not available in this binary")
			}
		} else if len(availableAdapters) == 1 {
			// Default to the only entry in availableAdapters.
			for _, v := range availableAdapters {
				adp = v
			}
		} else {
			return errors.New("store: db adapter is not specified. Please set `store_config.use_adapter`")
		}
	}

	if adp.IsOpen() {
		return errors.New("store: connection is already opened")
	}

	if workerID < 0 || workerID > 1023 {
		return errors.New("store: invalid worker ID")
	}

	if err := uGen.Init(uint(workerID), config.UidKey); err != nil {
		return errors.New("store: failed to init snowflake: " + err.Error())
	}

	if err := adp.SetMaxResults(config.MaxResults); err != nil {
		return err
	}

	var adapterConfig json.RawMessage
	if config.Adapters != nil {
		adapterConfig = config.Adapters[adp.GetName()]
	}

	return adp.Open(adapterConfig)
}

// PersistentStorageInterface defines methods used for interaction with
// persistent storage.
type PersistentStorageInterface interface {
	Open(workerID int, jsonconf json.RawMessage) error
	Close() error
	IsOpen() bool
	GetAdapterName() string
	InitDb(jsonconf json.RawMessage, reset bool) error
	GetUid() types.Uid
	DbStats() any
}

// Store is the main object for interacting with persistent storage.
var Store PersistentStorageInterface = storeObj{}

type storeObj struct{}

// Open initializes the persistence system. Adapter holds a connection pool
// for a database instance.
//
//	workerID - id of the current process in a cluster of servers
//	jsonconf - configuration string
func (storeObj) Open(workerID int, jsonconf json.RawMessage) error {
	return openAdapter(workerID, jsonconf)
}

// Close terminates the connection to persistent storage.
func (storeObj) Close() error {
	if adp.IsOpen() {
		return adp.Close()
	}
	return nil
}

// IsOpen checks if the persistent storage connection has been initialized.
func (storeObj) IsOpen() bool {
	return adp != nil && adp.IsOpen()
}

// GetAdapterName returns the name of the current adapter.
func (storeObj) GetAdapterName() string {
	if adp != nil {
		return adp.GetName()
	}
	return ""
}

// InitDb creates a new database instance. If 'reset' is true it will first
// attempt to drop an existing database. If jsonconf is nil it assumes the
// adapter is already open.
func (s storeObj) InitDb(jsonconf json.RawMessage, reset bool) error {
	if !s.IsOpen() {
		if err := openAdapter(1, jsonconf); err != nil {
			return err
		}
	}
	return adp.CreateDb(reset)
}

// GetUid generates a unique ID suitable for use as a primary key.
func (storeObj) GetUid() types.Uid {
	return uGen.Get()
}

// DbStats returns the object holding DB connection stats.
func (storeObj) DbStats() any {
	if adp != nil {
		return adp.Stats()
	}
	return nil
}

// RegisterAdapter makes a persistence adapter available.
// If Register is called twice or if the adapter is nil, it panics.
func RegisterAdapter(a adapter.Adapter) {
	if a == nil {
		panic("store: registering a nil adapter")
	}

	name := a.GetName()
	if _, ok := availableAdapters[name]; ok {
		panic("store: adapter '" + name + "' is already registered")
	}
	availableAdapters[name] = a
}

// UsersPersistenceInterface is an interface which defines methods for
// persistent storage of user records.
type UsersPersistenceInterface interface {
	Create(user *types.User) (*types.User, error)
	Get(uid types.Uid) (*types.User, error)
	GetAll(uids ...types.Uid) ([]types.User, error)
	GetByEmail(email string) (*types.User, error)
	GetByToken(token string) (*types.User, error)
	UpdateToken(uid types.Uid, token string) error
	Search(prefix string, excluding types.Uid) ([]types.User, error)
	UsernameTaken(username string) (bool, error)
}

// Users is the ancor for storing/retrieving user objects.
var Users UsersPersistenceInterface = usersMapper{}

type usersMapper struct{}

// Create inserts a new user record, assigning it a unique id and timestamp.
func (usersMapper) Create(user *types.User) (*types.User, error) {
	user.Id = Store.GetUid()
	user.CreatedAt = types.TimeNow()
	user.Email = strings.ToLower(user.Email)

	if err := adp.UserCreate(user); err != nil {
		return nil, err
	}
	return user, nil
}

// Get returns a user record given its id.
func (usersMapper) Get(uid types.Uid) (*types.User, error) {
	return adp.UserGet(uid)
}

// GetAll returns a slice of user records for the given ids.
func (usersMapper) GetAll(uids ...types.Uid) ([]types.User, error) {
	return adp.UserGetAll(uids...)
}

// GetByEmail returns the user record holding the given email.
func (usersMapper) GetByEmail(email string) (*types.User, error) {
	return adp.UserGetByEmail(strings.ToLower(email))
}

// GetByToken returns the user record holding the given session token.
func (usersMapper) GetByToken(token string) (*types.User, error) {
	return adp.UserGetByToken(token)
}

// UpdateToken replaces the user's session token.
func (usersMapper) UpdateToken(uid types.Uid, token string) error {
	return adp.UserUpdateToken(uid, token)
}

// Search finds users by a username prefix, excluding the requester.
func (usersMapper) Search(prefix string, excluding types.Uid) ([]types.User, error) {
	return adp.UserSearch(strings.ToLower(prefix), excluding)
}

// UsernameTaken checks if the given username is already in use.
func (usersMapper) UsernameTaken(username string) (bool, error) {
	return adp.UsernameTaken(username)
}

// InvitesPersistenceInterface is an interface which defines methods for
// persistent storage of invite records.
type InvitesPersistenceInterface interface {
	Create(from, to types.Uid) (*types.Invite, error)
	Get(id types.Uid) (*types.Invite, error)
	PendingBetween(uid1, uid2 types.Uid) (bool, error)
	ListIncoming(uid types.Uid) ([]types.Invite, error)
	SetStatus(id, responder types.Uid, status string) error
}

// Invites is the anchor for storing/retrieving invite objects.
var Invites InvitesPersistenceInterface = invitesMapper{}

type invitesMapper struct{}

// Create inserts a new pending invite record.
func (invitesMapper) Create(from, to types.Uid) (*types.Invite, error) {
	inv := &types.Invite{
		Id:        Store.GetUid(),
		CreatedAt: types.TimeNow(),
		From:      from,
		To:        to,
		Status:    types.InvitePending,
	}
	if err := adp.InviteCreate(inv); err != nil {
		return nil, err
	}
	return inv, nil
}

// Get returns an invite record given its id.
func (invitesMapper) Get(id types.Uid) (*types.Invite, error) {
	return adp.InviteGet(id)
}

// PendingBetween checks for a pending invite for the pair, either direction.
func (invitesMapper) PendingBetween(uid1, uid2 types.Uid) (bool, error) {
	return adp.InvitePendingBetween(uid1, uid2)
}

// ListIncoming returns pending invites addressed to the user, newest first.
func (invitesMapper) ListIncoming(uid types.Uid) ([]types.Invite, error) {
	return adp.InviteListIncoming(uid)
}

// SetStatus transitions an invite out of pending. Fails with
// types.ErrNotFound unless the invite is pending and addressed to responder.
func (invitesMapper) SetStatus(id, responder types.Uid, status string) error {
	return adp.InviteSetStatus(id, responder, status)
}

// ContactsPersistenceInterface is an interface which defines methods for
// persistent storage of the contact graph.
type ContactsPersistenceInterface interface {
	Add(uid1, uid2 types.Uid) error
	Exists(uid1, uid2 types.Uid) (bool, error)
	List(uid types.Uid) ([]types.Contact, error)
}

// Contacts is the anchor for storing/retrieving contact edges.
var Contacts ContactsPersistenceInterface = contactsMapper{}

type contactsMapper struct{}

// Add records a contact edge. The order of arguments is irrelevant; adding
// an existing edge is a no-op.
func (contactsMapper) Add(uid1, uid2 types.Uid) error {
	u1, u2 := types.OrderPair(uid1, uid2)
	return adp.ContactAdd(u1, u2)
}

// Exists checks for a contact edge, symmetric in its arguments.
func (contactsMapper) Exists(uid1, uid2 types.Uid) (bool, error) {
	u1, u2 := types.OrderPair(uid1, uid2)
	return adp.ContactExists(u1, u2)
}

// List returns the user's contact edges in edge creation order.
func (contactsMapper) List(uid types.Uid) ([]types.Contact, error) {
	return adp.ContactList(uid)
}

// MessagesPersistenceInterface is an interface which defines methods for
// persistent storage of chat messages.
type MessagesPersistenceInterface interface {
	EnsureChannel(chat string) error
	Save(msg *types.Message) error
	GetAll(chat string) ([]types.Message, error)
	DeleteAll(chat string) error
}

// Messages is the anchor for storing/retrieving message objects.
var Messages MessagesPersistenceInterface = messagesMapper{}

type messagesMapper struct{}

// EnsureChannel creates the chat's message log if absent. Idempotent.
func (messagesMapper) EnsureChannel(chat string) error {
	return adp.ChannelEnsure(chat)
}

// Save appends a message to the durable log of its channel. Ephemeral
// messages never get here.
func (messagesMapper) Save(msg *types.Message) error {
	if msg.Id.IsZero() {
		msg.Id = Store.GetUid()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = types.TimeNow()
	}
	return adp.MessageSave(msg)
}

// GetAll returns the durable log of a channel in append order.
func (messagesMapper) GetAll(chat string) ([]types.Message, error) {
	return adp.MessageGetAll(chat)
}

// DeleteAll truncates the durable log of a channel.
func (messagesMapper) DeleteAll(chat string) error {
	return adp.MessageDeleteAll(chat)
}
