package main

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/oxytalk/chat/server/store"
	"github.com/oxytalk/chat/server/store/types"
)

func newTestSession(sid string, uid types.Uid) *Session {
	return &Session{
		uid:    uid,
		send:   make(chan any, sendQueueLimit),
		stop:   make(chan any, 1),
		detach: make(chan string, 64),
		subs:   make(map[string]*Subscription),
		sid:    sid,
	}
}

// nextPacket pops one serialized packet off the session's outbound queue.
func nextPacket(t *testing.T, sess *Session) *ServerComMessage {
	t.Helper()

	select {
	case raw := <-sess.send:
		var msg ServerComMessage
		if err := json.Unmarshal(raw.([]byte), &msg); err != nil {
			t.Fatalf("failed to decode packet %q: %v", raw, err)
		}
		return &msg
	case <-time.After(time.Second):
		t.Fatal("no packet within a second")
		return nil
	}
}

func assertNoPacket(t *testing.T, sess *Session) {
	t.Helper()

	select {
	case raw := <-sess.send:
		t.Fatalf("unexpected packet: %s", raw.([]byte))
	case <-time.After(50 * time.Millisecond):
	}
}

func attach(t *testing.T, ch *Channel, sess *Session) {
	t.Helper()

	ch.reg <- &sessionJoin{
		pkt:  &ClientComMessage{Id: "join-" + sess.sid, Chat: ch.name, Timestamp: types.TimeNow()},
		sess: sess,
	}
	ack := nextPacket(t, sess)
	if ack.Ctrl == nil || ack.Ctrl.Code != 200 {
		t.Fatalf("unexpected join ack: %+v", ack)
	}
}

func TestChannelFanOutAndPersist(t *testing.T) {
	setupAPI(t)

	alice, bob := types.Uid(101), types.Uid(102)
	name := types.ChatName(alice, bob)
	if err := store.Messages.EnsureChannel(name); err != nil {
		t.Fatal(err)
	}

	hub := &Hub{unreg: make(chan *chanUnreg, 32)}
	ch := newChannel(name)
	go ch.run(hub)
	defer func() { ch.exit <- &shutDown{} }()

	sa := newTestSession("sa", alice)
	sb := newTestSession("sb", bob)
	attach(t, ch, sa)
	attach(t, ch, sb)

	if n := ch.sessionCount(); n != 2 {
		t.Errorf("session count is %d, expected 2", n)
	}

	ch.broadcast <- &ServerComMessage{
		Data: &MsgServerData{
			Id:        store.Store.GetUid(),
			Chat:      name,
			From:      alice,
			Text:      "hello",
			Timestamp: types.TimeNow(),
		},
		Id:     "pub-1",
		RcptTo: name,
		sess:   sa,
	}

	// Both members get the message, the sender additionally gets the ack.
	got := nextPacket(t, sa)
	if got.Data == nil || got.Data.Text != "hello" {
		t.Fatalf("sender echo missing: %+v", got)
	}
	ack := nextPacket(t, sa)
	if ack.Ctrl == nil || ack.Ctrl.Code != 200 || ack.Ctrl.Id != "pub-1" {
		t.Fatalf("unexpected publish ack: %+v", ack)
	}
	got = nextPacket(t, sb)
	if got.Data == nil || got.Data.Text != "hello" || got.Data.From != alice {
		t.Fatalf("recipient copy wrong: %+v", got)
	}

	// And the message made it to the durable log.
	log, err := store.Messages.GetAll(name)
	if err != nil {
		t.Fatal(err)
	}
	if len(log) != 1 || log[0].Text != "hello" {
		t.Fatalf("unexpected durable log: %+v", log)
	}
}

func TestChannelEphemeralSkipsLog(t *testing.T) {
	setupAPI(t)

	alice, bob := types.Uid(201), types.Uid(202)
	name := types.ChatName(alice, bob)

	hub := &Hub{unreg: make(chan *chanUnreg, 32)}
	ch := newChannel(name)
	go ch.run(hub)
	defer func() { ch.exit <- &shutDown{} }()

	sa := newTestSession("sa", alice)
	sb := newTestSession("sb", bob)
	attach(t, ch, sa)
	attach(t, ch, sb)

	ch.broadcast <- &ServerComMessage{
		Data: &MsgServerData{
			Id:        store.Store.GetUid(),
			Chat:      name,
			From:      alice,
			Text:      "now you see me",
			Timestamp: types.TimeNow(),
			Ephemeral: true,
		},
		Id:     "pub-1",
		RcptTo: name,
		sess:   sa,
	}

	if got := nextPacket(t, sb); got.Data == nil || !got.Data.Ephemeral {
		t.Fatalf("recipient copy wrong: %+v", got)
	}
	nextPacket(t, sa) // echo
	if ack := nextPacket(t, sa); ack.Ctrl == nil || ack.Ctrl.Code != 200 {
		t.Fatalf("unexpected ack: %+v", ack)
	}

	log, err := store.Messages.GetAll(name)
	if err != nil {
		t.Fatal(err)
	}
	if len(log) != 0 {
		t.Fatalf("ephemeral message was persisted: %+v", log)
	}
}

// failingMessages rejects every durable write.
type failingMessages struct {
	store.MessagesPersistenceInterface
}

func (failingMessages) Save(*types.Message) error {
	return types.ErrInternal
}

func TestChannelDeliversWhenStoreFails(t *testing.T) {
	setupAPI(t)

	saved := store.Messages
	store.Messages = failingMessages{saved}
	defer func() { store.Messages = saved }()

	alice, bob := types.Uid(501), types.Uid(502)
	name := types.ChatName(alice, bob)

	hub := &Hub{unreg: make(chan *chanUnreg, 32)}
	ch := newChannel(name)
	go ch.run(hub)
	defer func() { ch.exit <- &shutDown{} }()

	sa := newTestSession("sa", alice)
	sb := newTestSession("sb", bob)
	attach(t, ch, sa)
	attach(t, ch, sb)

	ch.broadcast <- &ServerComMessage{
		Data: &MsgServerData{
			Id:        store.Store.GetUid(),
			Chat:      name,
			From:      alice,
			Text:      "hello",
			Timestamp: types.TimeNow(),
		},
		Id:     "pub-1",
		RcptTo: name,
		sess:   sa,
	}

	// Delivery happened even though the write failed.
	if got := nextPacket(t, sb); got.Data == nil || got.Data.Text != "hello" {
		t.Fatalf("recipient copy missing: %+v", got)
	}
	nextPacket(t, sa) // echo

	// The sender learns the message was delivered but not stored.
	ack := nextPacket(t, sa)
	if ack.Ctrl == nil || ack.Ctrl.Code != 202 {
		t.Fatalf("expected ctrl 202, got: %+v", ack)
	}
}

func TestChannelTypingSkipsSender(t *testing.T) {
	setupAPI(t)

	alice, bob := types.Uid(301), types.Uid(302)
	name := types.ChatName(alice, bob)

	hub := &Hub{unreg: make(chan *chanUnreg, 32)}
	ch := newChannel(name)
	go ch.run(hub)
	defer func() { ch.exit <- &shutDown{} }()

	sa := newTestSession("sa", alice)
	sb := newTestSession("sb", bob)
	attach(t, ch, sa)
	attach(t, ch, sb)

	ch.broadcast <- &ServerComMessage{
		Info:    &MsgServerInfo{Chat: name, From: alice, Typing: true},
		RcptTo:  name,
		SkipSid: sa.sid,
	}

	if got := nextPacket(t, sb); got.Info == nil || !got.Info.Typing {
		t.Fatalf("typing notification wrong: %+v", got)
	}
	assertNoPacket(t, sa)
}

func TestChannelExitDetachesSessions(t *testing.T) {
	setupAPI(t)

	alice, bob := types.Uid(601), types.Uid(602)
	name := types.ChatName(alice, bob)

	hub := &Hub{unreg: make(chan *chanUnreg, 32)}
	ch := newChannel(name)
	go ch.run(hub)

	sa := newTestSession("sa", alice)
	attach(t, ch, sa)

	done := make(chan bool, 1)
	ch.exit <- &shutDown{done: done}
	<-done

	// The session was told to drop the subscription to the dead actor.
	select {
	case chat := <-sa.detach:
		if chat != name {
			t.Errorf("detached from %q, expected %q", chat, name)
		}
	default:
		t.Error("no detach signal after channel exit")
	}
}

func TestChannelDetach(t *testing.T) {
	setupAPI(t)

	alice, bob := types.Uid(401), types.Uid(402)
	name := types.ChatName(alice, bob)

	hub := &Hub{unreg: make(chan *chanUnreg, 32)}
	ch := newChannel(name)
	go ch.run(hub)
	defer func() { ch.exit <- &shutDown{} }()

	sa := newTestSession("sa", alice)
	attach(t, ch, sa)

	ch.unreg <- &sessionLeave{
		pkt:  &ClientComMessage{Id: "leave-1", Chat: name, Timestamp: types.TimeNow()},
		sess: sa,
	}
	if ack := nextPacket(t, sa); ack.Ctrl == nil || ack.Ctrl.Code != 200 || ack.Ctrl.Id != "leave-1" {
		t.Fatalf("unexpected leave ack: %+v", ack)
	}

	if n := ch.sessionCount(); n != 0 {
		t.Errorf("session count is %d, expected 0", n)
	}
}
