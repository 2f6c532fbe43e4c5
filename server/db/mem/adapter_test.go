package mem

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	t "github.com/oxytalk/chat/server/store/types"
)

func newTestAdapter(tb testing.TB) *adapter {
	tb.Helper()
	a := &adapter{}
	require.NoError(tb, a.Open(nil))
	require.NoError(tb, a.SetMaxResults(0))
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

func TestUserSearchExcludesSelf(tt *testing.T) {
	a := newTestAdapter(tt)
	seedUser(tt, a, 1, "carol")
	seedUser(tt, a, 2, "carlos")
	seedUser(tt, a, 3, "dave")

	found, err := a.UserSearch("car", 1)
	require.NoError(tt, err)
	require.Len(tt, found, 1)
	assert.Equal(tt, "carlos", found[0].Username)
}

func TestInvitePendingPairBothDirections(tt *testing.T) {
	a := newTestAdapter(tt)

	require.NoError(tt, a.InviteCreate(&t.Invite{Id: 100, From: 1, To: 2, Status: t.InvitePending}))

	err := a.InviteCreate(&t.Invite{Id: 101, From: 1, To: 2, Status: t.InvitePending})
	assert.ErrorIs(tt, err, t.ErrInvitePending)

	// Reversed direction counts as the same pair.
	err = a.InviteCreate(&t.Invite{Id: 102, From: 2, To: 1, Status: t.InvitePending})
	assert.ErrorIs(tt, err, t.ErrInvitePending)

	// Once settled, a new invite for the pair is allowed again.
	require.NoError(tt, a.InviteSetStatus(100, 2, t.InviteRejected))
	assert.NoError(tt, a.InviteCreate(&t.Invite{Id: 103, From: 2, To: 1, Status: t.InvitePending}))
}

func TestInviteSetStatusGuards(tt *testing.T) {
	a := newTestAdapter(tt)
	require.NoError(tt, a.InviteCreate(&t.Invite{Id: 100, From: 1, To: 2, Status: t.InvitePending}))

	// Only the addressee may respond.
	assert.ErrorIs(tt, a.InviteSetStatus(100, 1, t.InviteAccepted), t.ErrNotFound)

	require.NoError(tt, a.InviteSetStatus(100, 2, t.InviteAccepted))

	// Settled invites are immutable.
	assert.ErrorIs(tt, a.InviteSetStatus(100, 2, t.InviteRejected), t.ErrNotFound)

	inv, err := a.InviteGet(100)
	require.NoError(tt, err)
	require.NotNil(tt, inv)
	assert.Equal(tt, t.InviteAccepted, inv.Status)
}

func TestInviteSetStatusSingleWinner(tt *testing.T) {
	a := newTestAdapter(tt)
	require.NoError(tt, a.InviteCreate(&t.Invite{Id: 100, From: 1, To: 2, Status: t.InvitePending}))

	const racers = 32
	var wg sync.WaitGroup
	wins := make(chan string, racers)
	for i := 0; i < racers; i++ {
		status := t.InviteAccepted
		if i%2 == 1 {
			status = t.InviteRejected
		}
		wg.Add(1)
		go func(status string) {
			defer wg.Done()
			if err := a.InviteSetStatus(100, 2, status); err == nil {
				wins <- status
			}
		}(status)
	}
	wg.Wait()
	close(wins)

	var winners []string
	for w := range wins {
		winners = append(winners, w)
	}
	require.Len(tt, winners, 1, "exactly one concurrent responder may win")

	inv, err := a.InviteGet(100)
	require.NoError(tt, err)
	assert.Equal(tt, winners[0], inv.Status)
}

func TestContactsIdempotentAndSymmetric(tt *testing.T) {
	a := newTestAdapter(tt)

	require.NoError(tt, a.ContactAdd(1, 2))
	require.NoError(tt, a.ContactAdd(1, 2))

	exists, err := a.ContactExists(1, 2)
	require.NoError(tt, err)
	assert.True(tt, exists)

	edges, err := a.ContactList(1)
	require.NoError(tt, err)
	assert.Len(tt, edges, 1, "re-adding an edge must not duplicate it")

	edges, err = a.ContactList(2)
	require.NoError(tt, err)
	assert.Len(tt, edges, 1, "the edge must be visible from both ends")
}

func TestMessageLog(tt *testing.T) {
	a := newTestAdapter(tt)
	chat := t.ChatName(1, 2)

	require.NoError(tt, a.ChannelEnsure(chat))
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

	log, err := a.MessageGetAll(chat)
	require.NoError(tt, err)
	require.Len(tt, log, 3)
	assert.Equal(tt, "first", log[0].Text)
	assert.Equal(tt, "third", log[2].Text)

	require.NoError(tt, a.MessageDeleteAll(chat))
	log, err = a.MessageGetAll(chat)
	require.NoError(tt, err)
	assert.Empty(tt, log, "clear must truncate the log")
}
