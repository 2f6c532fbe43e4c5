package sqlitedb

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	t "github.com/oxytalk/chat/server/store/types"
)

// A file-backed database is required: every connection in the sqlx pool
// would get its own private ":memory:" database.
func newTestAdapter(tb testing.TB) *adapter {
	tb.Helper()

	dsn := "file:" + filepath.Join(tb.TempDir(), "test.db") +
		"?_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)"
	conf, err := json.Marshal(configType{DSN: dsn})
	require.NoError(tb, err)

	a := &adapter{}
	require.NoError(tb, a.Open(conf))
	require.NoError(tb, a.SetMaxResults(0))
	tb.Cleanup(func() { a.Close() })
	return a
}

func seedUser(tb testing.TB, a *adapter, id t.Uid, username string) {
	tb.Helper()
	require.NoError(tb, a.UserCreate(&t.User{
		Id:        id,
		CreatedAt: t.TimeNow(),
		Email:     username + "@example.com",
		Username:  username,
	}))
}

func TestCreateDbResetFlag(tt *testing.T) {
	a := newTestAdapter(tt)
	seedUser(tt, a, 1, "alice")

	// Without reset the existing state survives.
	require.NoError(tt, a.CreateDb(false))
	u, err := a.UserGet(1)
	require.NoError(tt, err)
	assert.NotNil(tt, u)

	require.NoError(tt, a.CreateDb(true))
	u, err = a.UserGet(1)
	require.NoError(tt, err)
	assert.Nil(tt, u)
}

func TestUserDuplicates(tt *testing.T) {
	a := newTestAdapter(tt)
	seedUser(tt, a, 1, "alice")

	err := a.UserCreate(&t.User{Id: 2, Email: "ALICE@example.com", Username: "other"})
	assert.ErrorIs(tt, err, t.ErrDuplicate, "duplicate email must be rejected case-insensitively")

	err = a.UserCreate(&t.User{Id: 3, Email: "fresh@example.com", Username: "Alice"})
	assert.ErrorIs(tt, err, t.ErrDuplicate, "duplicate username must be rejected case-insensitively")
}

func TestUserTokenRotation(tt *testing.T) {
	a := newTestAdapter(tt)
	seedUser(tt, a, 1, "alice")

	require.NoError(tt, a.UserUpdateToken(1, "tok-1"))
	u, err := a.UserGetByToken("tok-1")
	require.NoError(tt, err)
	require.NotNil(tt, u)
	assert.Equal(tt, "alice", u.Username)

	// Rotating the token invalidates the old one.
	require.NoError(tt, a.UserUpdateToken(1, "tok-2"))
	u, err = a.UserGetByToken("tok-1")
	require.NoError(tt, err)
	assert.Nil(tt, u)

	// An empty token never matches anything.
	u, err = a.UserGetByToken("")
	require.NoError(tt, err)
	assert.Nil(tt, u)

	assert.ErrorIs(tt, a.UserUpdateToken(99, "tok-3"), t.ErrNotFound)
}

func TestUserSearchEscapesPattern(tt *testing.T) {
	a := newTestAdapter(tt)
	seedUser(tt, a, 1, "a%b")
	seedUser(tt, a, 2, "axb")
	seedUser(tt, a, 3, "andy")

	// '%' in the prefix is a literal character, not a wildcard.
	found, err := a.UserSearch("a%", 99)
	require.NoError(tt, err)
	require.Len(tt, found, 1)
	assert.Equal(tt, "a%b", found[0].Username)

	// Same for '_'.
	found, err = a.UserSearch("a_", 99)
	require.NoError(tt, err)
	assert.Empty(tt, found)

	found, err = a.UserSearch("a", 2)
	require.NoError(tt, err)
	require.Len(tt, found, 2, "the excluded id must not appear in results")
	for _, u := range found {
		assert.NotEqual(tt, t.Uid(2), u.Id)
	}
}

func TestInvitePendingPairIndex(tt *testing.T) {
	a := newTestAdapter(tt)
	seedUser(tt, a, 1, "alice")
	seedUser(tt, a, 2, "bob")

	require.NoError(tt, a.InviteCreate(&t.Invite{Id: 100, CreatedAt: t.TimeNow(), From: 1, To: 2, Status: t.InvitePending}))

	err := a.InviteCreate(&t.Invite{Id: 101, CreatedAt: t.TimeNow(), From: 1, To: 2, Status: t.InvitePending})
	assert.ErrorIs(tt, err, t.ErrInvitePending)

	// Reversed direction counts as the same pair.
	err = a.InviteCreate(&t.Invite{Id: 102, CreatedAt: t.TimeNow(), From: 2, To: 1, Status: t.InvitePending})
	assert.ErrorIs(tt, err, t.ErrInvitePending)

	// Once settled, the partial index no longer covers the row and a new
	// invite for the pair is allowed again.
	require.NoError(tt, a.InviteSetStatus(100, 2, t.InviteRejected))
	assert.NoError(tt, a.InviteCreate(&t.Invite{Id: 103, CreatedAt: t.TimeNow(), From: 2, To: 1, Status: t.InvitePending}))

	pending, err := a.InvitePendingBetween(1, 2)
	require.NoError(tt, err)
	assert.True(tt, pending)
}

func TestInviteSetStatusCompareAndSwap(tt *testing.T) {
	a := newTestAdapter(tt)
	seedUser(tt, a, 1, "alice")
	seedUser(tt, a, 2, "bob")
	require.NoError(tt, a.InviteCreate(&t.Invite{Id: 100, CreatedAt: t.TimeNow(), From: 1, To: 2, Status: t.InvitePending}))

	// Only the addressee may respond.
	assert.ErrorIs(tt, a.InviteSetStatus(100, 1, t.InviteAccepted), t.ErrNotFound)

	require.NoError(tt, a.InviteSetStatus(100, 2, t.InviteAccepted))

	// Settled invites are immutable.
	assert.ErrorIs(tt, a.InviteSetStatus(100, 2, t.InviteRejected), t.ErrNotFound)
	assert.ErrorIs(tt, a.InviteSetStatus(100, 2, t.InviteAccepted), t.ErrNotFound)

	inv, err := a.InviteGet(100)
	require.NoError(tt, err)
	require.NotNil(tt, inv)
	assert.Equal(tt, t.InviteAccepted, inv.Status)

	// Unknown invite id.
	assert.ErrorIs(tt, a.InviteSetStatus(999, 2, t.InviteAccepted), t.ErrNotFound)
}

func TestContactListInsertionOrder(tt *testing.T) {
	a := newTestAdapter(tt)
	for id := t.Uid(1); id <= 4; id++ {
		seedUser(tt, a, id, "user"+id.String())
	}

	// Written back to back, almost certainly within one millisecond. The
	// listing order must still be the insertion order.
	require.NoError(tt, a.ContactAdd(1, 4))
	require.NoError(tt, a.ContactAdd(1, 2))
	require.NoError(tt, a.ContactAdd(1, 3))

	edges, err := a.ContactList(1)
	require.NoError(tt, err)
	require.Len(tt, edges, 3)
	assert.Equal(tt, t.Uid(4), edges[0].User2)
	assert.Equal(tt, t.Uid(2), edges[1].User2)
	assert.Equal(tt, t.Uid(3), edges[2].User2)

	// Re-adding an existing edge is a no-op.
	require.NoError(tt, a.ContactAdd(1, 2))
	edges, err = a.ContactList(1)
	require.NoError(tt, err)
	assert.Len(tt, edges, 3)

	// The edge is visible from the other side too.
	edges, err = a.ContactList(3)
	require.NoError(tt, err)
	require.Len(tt, edges, 1)
	assert.True(tt, edges[0].User1 == 1 && edges[0].User2 == 3)

	exists, err := a.ContactExists(1, 3)
	require.NoError(tt, err)
	assert.True(tt, exists)
	exists, err = a.ContactExists(2, 3)
	require.NoError(tt, err)
	assert.False(tt, exists)
}

func TestMessageLog(tt *testing.T) {
	a := newTestAdapter(tt)
	chat := t.ChatName(1, 2)

	require.NoError(tt, a.ChannelEnsure(chat))
	// Idempotent.
	require.NoError(tt, a.ChannelEnsure(chat))

	for i, text := range []string{"first", "second", "third"} {
		require.NoError(tt, a.MessageSave(&t.Message{
			Id:        t.Uid(100 + i),
			CreatedAt: t.TimeNow(),
			Chat:      chat,
			From:      1,
			Text:      text,
		}))
	}

	msgs, err := a.MessageGetAll(chat)
	require.NoError(tt, err)
	require.Len(tt, msgs, 3)
	assert.Equal(tt, "first", msgs[0].Text)
	assert.Equal(tt, "second", msgs[1].Text)
	assert.Equal(tt, "third", msgs[2].Text)

	require.NoError(tt, a.MessageDeleteAll(chat))
	msgs, err = a.MessageGetAll(chat)
	require.NoError(tt, err)
	assert.Empty(tt, msgs)
}
