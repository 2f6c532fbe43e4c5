// Package mem is a non-durable in-process database adapter. It is used in
// tests and for throwaway single-node deployments where losing state on
// restart is acceptable.
package mem

import (
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"sync"

	"github.com/oxytalk/chat/server/store"
	t "github.com/oxytalk/chat/server/store/types"
)

// adapter holds the in-memory state.
type adapter struct {
	lock sync.RWMutex

	users    map[t.Uid]*t.User
	invites  map[t.Uid]*t.Invite
	contacts []t.Contact
	// pairs indexes contacts by "user1:user2" with user1 < user2.
	pairs map[string]bool
	// channels maps chat name to its durable log. A nil-valued entry is a
	// created channel with no messages yet.
	channels map[string][]t.Message

	open       bool
	maxResults int
}

const (
	adapterName = "mem"

	defaultMaxResults = 1024
)

func (a *adapter) Open(config json.RawMessage) error {
	if a.open {
		return errors.New("adapter mem is already open")
	}

	a.users = make(map[t.Uid]*t.User)
	a.invites = make(map[t.Uid]*t.Invite)
	a.pairs = make(map[string]bool)
	a.channels = make(map[string][]t.Message)
	a.open = true

	return nil
}

func (a *adapter) Close() error {
	a.open = false
	return nil
}

func (a *adapter) IsOpen() bool {
	return a.open
}

func (a *adapter) GetName() string {
	return adapterName
}

func (a *adapter) SetMaxResults(val int) error {
	if val <= 0 {
		a.maxResults = defaultMaxResults
	} else {
		a.maxResults = val
	}
	return nil
}

// CreateDb initializes the storage, dropping existing state only when reset
// is requested.
func (a *adapter) CreateDb(reset bool) error {
	a.lock.Lock()
	defer a.lock.Unlock()

	if !reset && a.users != nil {
		return nil
	}

	a.users = make(map[t.Uid]*t.User)
	a.invites = make(map[t.Uid]*t.Invite)
	a.contacts = nil
	a.pairs = make(map[string]bool)
	a.channels = make(map[string][]t.Message)
	return nil
}

func (a *adapter) Stats() any {
	a.lock.RLock()
	defer a.lock.RUnlock()

	return map[string]int{
		"Users":    len(a.users),
		"Invites":  len(a.invites),
		"Contacts": len(a.contacts),
		"Channels": len(a.channels),
	}
}

// User management.

func (a *adapter) UserCreate(user *t.User) error {
	a.lock.Lock()
	defer a.lock.Unlock()

	for _, u := range a.users {
		if strings.EqualFold(u.Email, user.Email) || strings.EqualFold(u.Username, user.Username) {
			return t.ErrDuplicate
		}
	}

	cp := *user
	a.users[user.Id] = &cp
	return nil
}

func (a *adapter) UserGet(uid t.Uid) (*t.User, error) {
	a.lock.RLock()
	defer a.lock.RUnlock()

	if u := a.users[uid]; u != nil {
		cp := *u
		return &cp, nil
	}
	return nil, nil
}

func (a *adapter) UserGetAll(ids ...t.Uid) ([]t.User, error) {
	a.lock.RLock()
	defer a.lock.RUnlock()

	var users []t.User
	for _, uid := range ids {
		if u := a.users[uid]; u != nil {
			users = append(users, *u)
		}
	}
	return users, nil
}

func (a *adapter) UserGetByEmail(email string) (*t.User, error) {
	a.lock.RLock()
	defer a.lock.RUnlock()

	for _, u := range a.users {
		if strings.EqualFold(u.Email, email) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, nil
}

func (a *adapter) UserGetByToken(token string) (*t.User, error) {
	if token == "" {
		return nil, nil
	}

	a.lock.RLock()
	defer a.lock.RUnlock()

	for _, u := range a.users {
		if u.Token == token {
			cp := *u
			return &cp, nil
		}
	}
	return nil, nil
}

func (a *adapter) UserUpdateToken(uid t.Uid, token string) error {
	a.lock.Lock()
	defer a.lock.Unlock()

	u := a.users[uid]
	if u == nil {
		return t.ErrNotFound
	}
	u.Token = token
	return nil
}

func (a *adapter) UserSearch(prefix string, excluding t.Uid) ([]t.User, error) {
	a.lock.RLock()
	defer a.lock.RUnlock()

	var users []t.User
	for _, u := range a.users {
		if u.Id == excluding {
			continue
		}
		if strings.HasPrefix(strings.ToLower(u.Username), prefix) {
			users = append(users, *u)
		}
	}
	// Map iteration order is random; sort for a stable result.
	sort.Slice(users, func(i, j int) bool { return users[i].Username < users[j].Username })
	if len(users) > a.maxResults {
		users = users[:a.maxResults]
	}
	return users, nil
}

func (a *adapter) UsernameTaken(username string) (bool, error) {
	a.lock.RLock()
	defer a.lock.RUnlock()

	for _, u := range a.users {
		if strings.EqualFold(u.Username, username) {
			return true, nil
		}
	}
	return false, nil
}

// Invite management.

func (a *adapter) InviteCreate(inv *t.Invite) error {
	a.lock.Lock()
	defer a.lock.Unlock()

	if _, ok := a.invites[inv.Id]; ok {
		return t.ErrDuplicate
	}
	// One pending invite per pair, either direction.
	for _, old := range a.invites {
		if old.Status != t.InvitePending {
			continue
		}
		if (old.From == inv.From && old.To == inv.To) || (old.From == inv.To && old.To == inv.From) {
			return t.ErrInvitePending
		}
	}
	cp := *inv
	a.invites[inv.Id] = &cp
	return nil
}

func (a *adapter) InviteGet(id t.Uid) (*t.Invite, error) {
	a.lock.RLock()
	defer a.lock.RUnlock()

	if inv := a.invites[id]; inv != nil {
		cp := *inv
		return &cp, nil
	}
	return nil, nil
}

func (a *adapter) InvitePendingBetween(uid1, uid2 t.Uid) (bool, error) {
	a.lock.RLock()
	defer a.lock.RUnlock()

	for _, inv := range a.invites {
		if inv.Status != t.InvitePending {
			continue
		}
		if (inv.From == uid1 && inv.To == uid2) || (inv.From == uid2 && inv.To == uid1) {
			return true, nil
		}
	}
	return false, nil
}

func (a *adapter) InviteListIncoming(uid t.Uid) ([]t.Invite, error) {
	a.lock.RLock()
	defer a.lock.RUnlock()

	var invites []t.Invite
	for _, inv := range a.invites {
		if inv.To == uid && inv.Status == t.InvitePending {
			invites = append(invites, *inv)
		}
	}
	sort.Slice(invites, func(i, j int) bool {
		return invites[i].CreatedAt.After(invites[j].CreatedAt)
	})
	if len(invites) > a.maxResults {
		invites = invites[:a.maxResults]
	}
	return invites, nil
}

func (a *adapter) InviteSetStatus(id t.Uid, responder t.Uid, status string) error {
	a.lock.Lock()
	defer a.lock.Unlock()

	inv := a.invites[id]
	if inv == nil || inv.To != responder || inv.Status != t.InvitePending {
		return t.ErrNotFound
	}
	inv.Status = status
	return nil
}

// Contact management. Callers pass the pair in canonical order.

func (a *adapter) ContactAdd(uid1, uid2 t.Uid) error {
	a.lock.Lock()
	defer a.lock.Unlock()

	key := uid1.String() + ":" + uid2.String()
	if a.pairs[key] {
		return nil
	}
	a.pairs[key] = true
	a.contacts = append(a.contacts, t.Contact{User1: uid1, User2: uid2, CreatedAt: t.TimeNow()})
	return nil
}

func (a *adapter) ContactExists(uid1, uid2 t.Uid) (bool, error) {
	a.lock.RLock()
	defer a.lock.RUnlock()

	return a.pairs[uid1.String()+":"+uid2.String()], nil
}

func (a *adapter) ContactList(uid t.Uid) ([]t.Contact, error) {
	a.lock.RLock()
	defer a.lock.RUnlock()

	var edges []t.Contact
	for _, c := range a.contacts {
		if c.User1 == uid || c.User2 == uid {
			edges = append(edges, c)
		}
	}
	return edges, nil
}

// Message management.

func (a *adapter) ChannelEnsure(chat string) error {
	a.lock.Lock()
	defer a.lock.Unlock()

	if _, ok := a.channels[chat]; !ok {
		a.channels[chat] = nil
	}
	return nil
}

func (a *adapter) MessageSave(msg *t.Message) error {
	a.lock.Lock()
	defer a.lock.Unlock()

	a.channels[msg.Chat] = append(a.channels[msg.Chat], *msg)
	return nil
}

func (a *adapter) MessageGetAll(chat string) ([]t.Message, error) {
	a.lock.RLock()
	defer a.lock.RUnlock()

	log := a.channels[chat]
	out := make([]t.Message, len(log))
	copy(out, log)
	return out, nil
}

func (a *adapter) MessageDeleteAll(chat string) error {
	a.lock.Lock()
	defer a.lock.Unlock()

	a.channels[chat] = nil
	return nil
}

func init() {
	store.RegisterAdapter(&adapter{})
}
