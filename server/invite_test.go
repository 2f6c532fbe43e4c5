package main

import (
	"testing"

	"github.com/oxytalk/chat/server/store"
	"github.com/oxytalk/chat/server/store/types"
)

// flakyContacts rejects edge writes while fail is set.
type flakyContacts struct {
	store.ContactsPersistenceInterface
	fail bool
}

func (fc *flakyContacts) Add(uid1, uid2 types.Uid) error {
	if fc.fail {
		return types.ErrInternal
	}
	return fc.ContactsPersistenceInterface.Add(uid1, uid2)
}

func seedAccount(t *testing.T, username string) types.Uid {
	t.Helper()

	user, err := store.Users.Create(&types.User{
		Email:    username + "@example.com",
		Username: username,
	})
	if err != nil {
		t.Fatal("failed to create user:", err)
	}
	return user.Id
}

func TestAcceptRetryHealsContactEdge(t *testing.T) {
	setupAPI(t)
	alice := seedAccount(t, "alice")
	bob := seedAccount(t, "bob")

	inv, err := sendInvite(alice, bob)
	if err != nil {
		t.Fatal("failed to send invite:", err)
	}

	fc := &flakyContacts{ContactsPersistenceInterface: store.Contacts, fail: true}
	store.Contacts = fc
	defer func() { store.Contacts = fc.ContactsPersistenceInterface }()

	// The transition lands but the edge write fails; the caller must see
	// the failure, not a silent success.
	if _, err = respondInvite(inv.Id, bob, true); err == nil {
		t.Fatal("accept with a failing edge write should report an error")
	}

	got, err := store.Invites.Get(inv.Id)
	if err != nil || got == nil || got.Status != types.InviteAccepted {
		t.Fatalf("invite should be settled as accepted: %+v, %v", got, err)
	}
	if exists, _ := store.Contacts.Exists(alice, bob); exists {
		t.Fatal("edge should not exist yet")
	}

	// Storage recovers. The retry reports the invite as settled but still
	// re-runs the follow-ups, so the edge is not lost forever.
	fc.fail = false
	if _, err = respondInvite(inv.Id, bob, true); err != types.ErrNotFound {
		t.Fatalf("retry on a settled invite: got %v, expected %v", err, types.ErrNotFound)
	}

	exists, err := store.Contacts.Exists(alice, bob)
	if err != nil {
		t.Fatal(err)
	}
	if !exists {
		t.Error("retrying the accept did not create the contact edge")
	}
}

func TestAcceptRepairIgnoresOutsiders(t *testing.T) {
	setupAPI(t)
	alice := seedAccount(t, "alice")
	bob := seedAccount(t, "bob")
	eve := seedAccount(t, "eve")

	inv, err := sendInvite(alice, bob)
	if err != nil {
		t.Fatal("failed to send invite:", err)
	}

	fc := &flakyContacts{ContactsPersistenceInterface: store.Contacts, fail: true}
	store.Contacts = fc
	defer func() { store.Contacts = fc.ContactsPersistenceInterface }()

	if _, err = respondInvite(inv.Id, bob, true); err == nil {
		t.Fatal("accept with a failing edge write should report an error")
	}
	fc.fail = false

	// Neither the sender nor a third party may trigger the repair.
	for _, uid := range []types.Uid{alice, eve} {
		if _, err = respondInvite(inv.Id, uid, true); err != types.ErrNotFound {
			t.Fatalf("foreign retry: got %v, expected %v", err, types.ErrNotFound)
		}
	}
	if exists, _ := store.Contacts.Exists(alice, bob); exists {
		t.Error("a foreign response must not create the edge")
	}

	// The addressee's own retry does.
	if _, err = respondInvite(inv.Id, bob, true); err != types.ErrNotFound {
		t.Fatalf("retry on a settled invite: got %v, expected %v", err, types.ErrNotFound)
	}
	if exists, _ := store.Contacts.Exists(alice, bob); !exists {
		t.Error("the addressee's retry should create the edge")
	}
}
