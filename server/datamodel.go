/******************************************************************************
 *
 *  Description :
 *
 *    Wire protocol structures.
 *
 *****************************************************************************/

package main

import (
	"net/http"
	"time"

	"github.com/oxytalk/chat/server/store/types"
)

// Client to Server (C2S) messages.

// MsgClientAuth binds the connection to an account using a session token.
type MsgClientAuth struct {
	Id    string `json:"id,omitempty"`
	Token string `json:"token"`
}

// MsgClientJoin subscribes the connection to a chat channel {join}.
type MsgClientJoin struct {
	Id   string `json:"id,omitempty"`
	Chat string `json:"chat"`
}

// MsgClientLeave detaches the connection from a chat channel {leave}.
type MsgClientLeave struct {
	Id   string `json:"id,omitempty"`
	Chat string `json:"chat"`
}

// MsgClientPub is a request to distribute a message to a channel {pub}.
type MsgClientPub struct {
	Id   string `json:"id,omitempty"`
	Chat string `json:"chat"`
	Text string `json:"text"`
	// Once-view flag: deliver live, never store.
	Ephemeral bool `json:"ephemeral,omitempty"`
}

// MsgClientNote is a typing notification {note}. Fire and forget, the server
// will not acknowledge it.
type MsgClientNote struct {
	Chat   string `json:"chat"`
	Typing bool   `json:"typing"`
}

// ClientComMessage is a wrapper for client messages.
type ClientComMessage struct {
	Auth  *MsgClientAuth  `json:"auth"`
	Join  *MsgClientJoin  `json:"join"`
	Leave *MsgClientLeave `json:"leave"`
	Pub   *MsgClientPub   `json:"pub"`
	Note  *MsgClientNote  `json:"note"`

	// Internal fields.

	// Message id denormalized.
	Id string `json:"-"`
	// Chat name denormalized from XXX.Chat.
	Chat string `json:"-"`
	// Timestamp when this message was received by the server.
	Timestamp time.Time `json:"-"`
}

// Server to client (S2C) messages.

// MsgServerCtrl is a server control message {ctrl}.
type MsgServerCtrl struct {
	Id     string `json:"id,omitempty"`
	Chat   string `json:"chat,omitempty"`
	Params any    `json:"params,omitempty"`

	Code      int       `json:"code"`
	Text      string    `json:"text,omitempty"`
	Timestamp time.Time `json:"ts"`
}

// MsgServerData is a chat message pushed to channel subscribers {data}.
type MsgServerData struct {
	Id        types.Uid `json:"id"`
	Chat      string    `json:"chat"`
	From      types.Uid `json:"from"`
	FromName  string    `json:"fromName,omitempty"`
	FromIcon  string    `json:"fromIcon,omitempty"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"ts"`
	Ephemeral bool      `json:"ephemeral,omitempty"`
}

// MsgServerPres is an online/offline notification {pres}, broadcast to all
// live sessions when a user's first connection opens or last one closes.
type MsgServerPres struct {
	User   types.Uid `json:"user"`
	Online bool      `json:"online"`
}

// MsgServerInfo is a transient notification relayed to the other members of
// a channel {info}. Currently only typing indicators.
type MsgServerInfo struct {
	Chat   string    `json:"chat"`
	From   types.Uid `json:"from"`
	Typing bool      `json:"typing"`
}

// ServerComMessage is a wrapper for server-side messages.
type ServerComMessage struct {
	Ctrl *MsgServerCtrl `json:"ctrl,omitempty"`
	Data *MsgServerData `json:"data,omitempty"`
	Pres *MsgServerPres `json:"pres,omitempty"`
	Info *MsgServerInfo `json:"info,omitempty"`

	// Internal fields.

	// Id of the originating client message, for {ctrl} acknowledgements.
	Id string `json:"-"`
	// Routable name of the destination channel.
	RcptTo string `json:"-"`
	// Session ID to skip when sending the packet to sessions. Used to skip
	// the sender of a typing notification.
	SkipSid string `json:"-"`
	// Originating session, to receive an acknowledgement or a delivery
	// warning. Could be nil.
	sess *Session
}

// Ctrl message constructors.

// NoErr indicates successful completion (200).
func NoErr(id, chat string, ts time.Time) *ServerComMessage {
	return NoErrParams(id, chat, ts, nil)
}

// NoErrParams indicates successful completion with parameters (200).
func NoErrParams(id, chat string, ts time.Time, params any) *ServerComMessage {
	return &ServerComMessage{Ctrl: &MsgServerCtrl{
		Id:        id,
		Code:      http.StatusOK, // 200
		Text:      "ok",
		Chat:      chat,
		Params:    params,
		Timestamp: ts}}
}

// NoErrDeliveredOnly indicates the message was delivered live but the
// durable write failed (202). The delivery already fanned out is never
// retracted.
func NoErrDeliveredOnly(id, chat string, ts time.Time) *ServerComMessage {
	return &ServerComMessage{Ctrl: &MsgServerCtrl{
		Id:        id,
		Code:      http.StatusAccepted, // 202
		Text:      "delivered, not stored",
		Chat:      chat,
		Timestamp: ts}}
}

// ErrMalformed request malformed (400).
func ErrMalformed(id, chat string, ts time.Time) *ServerComMessage {
	return &ServerComMessage{Ctrl: &MsgServerCtrl{
		Id:        id,
		Code:      http.StatusBadRequest, // 400
		Text:      "malformed",
		Chat:      chat,
		Timestamp: ts}}
}

// ErrEmptyMessage the message payload is empty after trimming (400).
func ErrEmptyMessage(id, chat string, ts time.Time) *ServerComMessage {
	return &ServerComMessage{Ctrl: &MsgServerCtrl{
		Id:        id,
		Code:      http.StatusBadRequest, // 400
		Text:      "empty message",
		Chat:      chat,
		Timestamp: ts}}
}

// ErrAuthRequired the connection must authenticate first (401).
func ErrAuthRequired(id, chat string, ts time.Time) *ServerComMessage {
	return &ServerComMessage{Ctrl: &MsgServerCtrl{
		Id:        id,
		Code:      http.StatusUnauthorized, // 401
		Text:      "authentication required",
		Chat:      chat,
		Timestamp: ts}}
}

// ErrAuthFailed authentication failed (401).
func ErrAuthFailed(id string, ts time.Time) *ServerComMessage {
	return &ServerComMessage{Ctrl: &MsgServerCtrl{
		Id:        id,
		Code:      http.StatusUnauthorized, // 401
		Text:      "authentication failed",
		Timestamp: ts}}
}

// ErrAlreadyAuthenticated invalid attempt to authenticate an already
// authenticated session. Switching users is not supported (409).
func ErrAlreadyAuthenticated(id string, ts time.Time) *ServerComMessage {
	return &ServerComMessage{Ctrl: &MsgServerCtrl{
		Id:        id,
		Code:      http.StatusConflict, // 409
		Text:      "already authenticated",
		Timestamp: ts}}
}

// ErrNotSubscribed the session is not attached to the channel (412).
func ErrNotSubscribed(id, chat string, ts time.Time) *ServerComMessage {
	return &ServerComMessage{Ctrl: &MsgServerCtrl{
		Id:        id,
		Code:      http.StatusPreconditionFailed, // 412
		Text:      "not subscribed",
		Chat:      chat,
		Timestamp: ts}}
}

// ErrUnknown means an internal failure (500).
func ErrUnknown(id, chat string, ts time.Time) *ServerComMessage {
	return &ServerComMessage{Ctrl: &MsgServerCtrl{
		Id:        id,
		Code:      http.StatusInternalServerError, // 500
		Text:      "internal error",
		Chat:      chat,
		Timestamp: ts}}
}

// NoErrShutdown means the server is shutting down (503).
func NoErrShutdown(ts time.Time) *ServerComMessage {
	return &ServerComMessage{Ctrl: &MsgServerCtrl{
		Code:      http.StatusServiceUnavailable, // 503
		Text:      "server shutdown",
		Timestamp: ts}}
}
