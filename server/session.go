/******************************************************************************
 *
 *  Description :
 *
 *  Handling of user sessions/connections. One user may have multiple
 *  sessions. Each session may be attached to multiple chat channels.
 *
 *****************************************************************************/

package main

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/oxytalk/chat/server/logs"
	"github.com/oxytalk/chat/server/store"
	"github.com/oxytalk/chat/server/store/types"
)

// Session represents a single websocket connection. A user may have multiple
// sessions open at the same time (multiple devices or tabs).
type Session struct {
	// Websocket connection.
	ws *websocket.Conn

	// IP address of the client.
	remoteAddr string

	// ID of the current user or 0 before {auth}.
	uid types.Uid

	// Cached profile bits of the authenticated user, used to enrich
	// outgoing messages without a store round trip.
	username  string
	avatarURL string

	// Time when the session received any packet from the client.
	lastAction time.Time

	// Outbound messages, buffered. The content is already serialized for
	// the wire.
	send chan any

	// Channel for shutting down the session, buffer 1.
	// Content in the same format as for 'send'.
	stop chan any

	// detach is a channel for detaching the session from a chat channel.
	detach chan string

	// Map of chat subscriptions, indexed by chat name.
	// Don't access directly. Use getters/setters.
	subs map[string]*Subscription
	// Mutex for subs access: both channel goroutines and the network
	// goroutines access subs concurrently.
	subsLock sync.RWMutex

	// Session ID.
	sid string
}

// Subscription is a mapper of sessions to channels.
type Subscription struct {
	// Channel for messages intended for the chat, copy of Channel.broadcast.
	broadcast chan<- *ServerComMessage

	// Session sends a signal to the channel when this session is detached.
	// This is a copy of Channel.unreg.
	done chan<- *sessionLeave
}

func (s *Session) addSub(chat string, sub *Subscription) {
	s.subsLock.Lock()
	defer s.subsLock.Unlock()

	s.subs[chat] = sub
}

func (s *Session) getSub(chat string) *Subscription {
	s.subsLock.RLock()
	defer s.subsLock.RUnlock()

	return s.subs[chat]
}

func (s *Session) delSub(chat string) {
	s.subsLock.Lock()
	defer s.subsLock.Unlock()

	delete(s.subs, chat)
}

func (s *Session) unsubAll() {
	s.subsLock.RLock()
	defer s.subsLock.RUnlock()

	for _, sub := range s.subs {
		// sub.done is the same as channel.unreg
		sub.done <- &sessionLeave{sess: s}
	}
}

// queueOut attempts to send a ServerComMessage to the session write loop; if
// the send buffer is full, timeout is 50 usec.
func (s *Session) queueOut(msg *ServerComMessage) bool {
	if s == nil {
		return true
	}

	select {
	case s.send <- s.serialize(msg):
	case <-time.After(time.Microsecond * 50):
		logs.Warning.Println("s.queueOut: timeout", s.sid)
		return false
	}
	return true
}

func (s *Session) serialize(msg *ServerComMessage) any {
	out, _ := json.Marshal(msg)
	return out
}

// cleanUp is called when the session underlying connection is closed.
func (s *Session) cleanUp() {
	globals.sessionStore.Delete(s)
	s.unsubAll()

	if !s.uid.IsZero() {
		if globals.presence.connectionClosed(s.uid) {
			// Last connection of this user is gone.
			presBroadcast(s.uid, false)
		}
	}
}

// dispatchRaw: message received, convert bytes to ClientComMessage and dispatch.
func (s *Session) dispatchRaw(raw []byte) {
	var msg ClientComMessage

	toLog := raw
	truncated := ""
	if len(raw) > 512 {
		toLog = raw[:512]
		truncated = "<...>"
	}
	logs.Info.Printf("in: '%s%s' ip='%s' sid='%s' uid='%s'", toLog, truncated, s.remoteAddr, s.sid, s.uid)

	if err := json.Unmarshal(raw, &msg); err != nil {
		logs.Warning.Println("s.dispatch:", err, s.sid)
		s.queueOut(ErrMalformed("", "", types.TimeNow()))
		return
	}

	s.dispatch(&msg)
}

func (s *Session) dispatch(msg *ClientComMessage) {
	s.lastAction = types.TimeNow()
	msg.Timestamp = s.lastAction

	// Check if the session is already authenticated.
	checkUser := func(m *ClientComMessage, handler func(*ClientComMessage)) func(*ClientComMessage) {
		return func(m *ClientComMessage) {
			if s.uid.IsZero() {
				s.queueOut(ErrAuthRequired(m.Id, m.Chat, m.Timestamp))
				return
			}
			handler(m)
		}
	}

	var handler func(*ClientComMessage)

	switch {
	case msg.Auth != nil:
		handler = s.authenticate
		msg.Id = msg.Auth.Id

	case msg.Join != nil:
		handler = checkUser(msg, s.join)
		msg.Id = msg.Join.Id
		msg.Chat = msg.Join.Chat

	case msg.Leave != nil:
		handler = checkUser(msg, s.leave)
		msg.Id = msg.Leave.Id
		msg.Chat = msg.Leave.Chat

	case msg.Pub != nil:
		handler = s.publish
		msg.Id = msg.Pub.Id
		msg.Chat = msg.Pub.Chat

	case msg.Note != nil:
		handler = s.note
		msg.Chat = msg.Note.Chat

	default:
		// Unknown message.
		s.queueOut(ErrMalformed("", "", msg.Timestamp))
		logs.Warning.Println("s.dispatch: unknown message", s.sid)
		return
	}

	statsMessageIn()
	handler(msg)
}

// authenticate binds the session to the account holding the presented token.
func (s *Session) authenticate(msg *ClientComMessage) {
	if !s.uid.IsZero() {
		s.queueOut(ErrAlreadyAuthenticated(msg.Id, msg.Timestamp))
		return
	}

	user, err := globals.authhdl.CheckToken(msg.Auth.Token)
	if err != nil {
		logs.Err.Println("s.authenticate:", err, s.sid)
		s.queueOut(ErrUnknown(msg.Id, "", msg.Timestamp))
		return
	}
	if user == nil {
		// Invalid token. Report the failure and drop the connection, same
		// as a failed handshake.
		s.queueOut(ErrAuthFailed(msg.Id, msg.Timestamp))
		s.stop <- nil
		return
	}

	s.uid = user.Id
	s.username = user.Username
	s.avatarURL = user.AvatarURL

	if globals.presence.connectionOpened(s.uid) {
		// First connection of this user: tell everyone they are online.
		presBroadcast(s.uid, true)
	}

	s.queueOut(NoErrParams(msg.Id, "", msg.Timestamp, map[string]any{
		"user":      s.uid,
		"username":  s.username,
		"avatarUrl": s.avatarURL,
	}))
}

// join attaches the session to a chat channel.
//
// Membership is not verified here: a chat name is only ever disclosed to its
// two participants, and the transport layer is trusted to hand valid names
// to authenticated holders only. history and clear do verify membership.
func (s *Session) join(msg *ClientComMessage) {
	if _, _, err := types.ParseChat(msg.Chat); err != nil {
		s.queueOut(ErrMalformed(msg.Id, msg.Chat, msg.Timestamp))
		return
	}

	if sub := s.getSub(msg.Chat); sub != nil {
		logs.Info.Println("s.join: already subscribed to", msg.Chat, s.sid)
		s.queueOut(NoErr(msg.Id, msg.Chat, msg.Timestamp))
		return
	}

	globals.hub.join <- &sessionJoin{pkt: msg, sess: s}
	// The channel will ack the attachment.
}

// leave detaches the session from a chat channel.
func (s *Session) leave(msg *ClientComMessage) {
	if sub := s.getSub(msg.Chat); sub != nil {
		s.delSub(msg.Chat)
		sub.done <- &sessionLeave{pkt: msg, sess: s}
	} else {
		s.queueOut(ErrNotSubscribed(msg.Id, msg.Chat, msg.Timestamp))
	}
}

// publish constructs a chat message and routes it to the channel for fan-out
// and, unless the message is ephemeral, for storage.
func (s *Session) publish(msg *ClientComMessage) {
	if s.uid.IsZero() {
		s.queueOut(ErrAuthRequired(msg.Id, msg.Chat, msg.Timestamp))
		return
	}

	text := strings.TrimSpace(msg.Pub.Text)
	if text == "" {
		s.queueOut(ErrEmptyMessage(msg.Id, msg.Chat, msg.Timestamp))
		return
	}
	if _, _, err := types.ParseChat(msg.Chat); err != nil {
		s.queueOut(ErrMalformed(msg.Id, msg.Chat, msg.Timestamp))
		return
	}

	data := &ServerComMessage{
		Data: &MsgServerData{
			Id:        store.Store.GetUid(),
			Chat:      msg.Chat,
			From:      s.uid,
			FromName:  s.username,
			FromIcon:  s.avatarURL,
			Text:      text,
			Timestamp: msg.Timestamp,
			Ephemeral: msg.Pub.Ephemeral,
		},
		Id:     msg.Id,
		RcptTo: msg.Chat,
		sess:   s,
	}

	globals.hub.route <- data
}

// note relays a typing indicator to the channel. Fire-and-forget: invalid or
// unauthenticated notes are dropped silently.
func (s *Session) note(msg *ClientComMessage) {
	if s.uid.IsZero() || msg.Chat == "" {
		return
	}

	globals.hub.route <- &ServerComMessage{
		Info: &MsgServerInfo{
			Chat:   msg.Chat,
			From:   s.uid,
			Typing: msg.Note.Typing,
		},
		RcptTo:  msg.Chat,
		SkipSid: s.sid,
	}
}

// presBroadcast tells every live session that a user came online or went
// offline. Delivery is best-effort.
func presBroadcast(uid types.Uid, online bool) {
	msg := &ServerComMessage{Pres: &MsgServerPres{User: uid, Online: online}}
	globals.sessionStore.Range(func(sess *Session) bool {
		sess.queueOut(msg)
		return true
	})
}
