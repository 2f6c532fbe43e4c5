/******************************************************************************
 *
 *  Description :
 *
 *    REST handlers: account registration and login, profile, user search,
 *    contacts, invites, and chat history. All except register and login
 *    require a bearer token.
 *
 *****************************************************************************/

package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/oxytalk/chat/server/auth"
	"github.com/oxytalk/chat/server/logs"
	"github.com/oxytalk/chat/server/store"
	"github.com/oxytalk/chat/server/store/types"
)

// ContactView is one entry of a user's contact list.
type ContactView struct {
	User      types.Uid `json:"userId"`
	Username  string    `json:"username,omitempty"`
	AvatarURL string    `json:"avatarUrl,omitempty"`
	Online    bool      `json:"online"`
}

// ProfileView is the public slice of an account, plus the session token
// where the request produced one.
type ProfileView struct {
	User      types.Uid `json:"user"`
	Email     string    `json:"email,omitempty"`
	Username  string    `json:"username"`
	AvatarURL string    `json:"avatarUrl,omitempty"`
	Token     string    `json:"token,omitempty"`
}

// MessageView is one entry of a chat's durable log.
type MessageView struct {
	Id        types.Uid `json:"id"`
	From      types.Uid `json:"from"`
	Text      string    `json:"text"`
	CreatedAt int64     `json:"ts"`
}

func registerAPIRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /v0/register", apiRegister)
	mux.HandleFunc("POST /v0/login", apiLogin)
	mux.HandleFunc("GET /v0/me", withAuth(apiMe))
	mux.HandleFunc("GET /v0/search", withAuth(apiSearch))
	mux.HandleFunc("GET /v0/contacts", withAuth(apiContacts))
	mux.HandleFunc("GET /v0/contacts/{userId}", withAuth(apiContactGet))
	mux.HandleFunc("POST /v0/invites", withAuth(apiInviteSend))
	mux.HandleFunc("GET /v0/invites", withAuth(apiInviteList))
	mux.HandleFunc("POST /v0/invites/{id}", withAuth(apiInviteRespond))
	mux.HandleFunc("GET /v0/chats/{chatId}/messages", withAuth(apiHistory))
	mux.HandleFunc("DELETE /v0/chats/{chatId}/messages", withAuth(apiClear))
}

// withAuth resolves the bearer token to an account before invoking the
// handler. 401 without a valid token.
func withAuth(handler func(w http.ResponseWriter, r *http.Request, user *types.User)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if token == "" || token == r.Header.Get("Authorization") {
			writeAPIError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		user, err := globals.authhdl.CheckToken(token)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		if user == nil {
			writeAPIError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		handler(w, r, user)
	}
}

func apiRegister(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email     string `json:"email"`
		Username  string `json:"username"`
		Password  string `json:"password"`
		AvatarURL string `json:"avatarUrl"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	user, token, err := globals.authhdl.CreateAccount(&auth.NewAccount{
		Email:     req.Email,
		Username:  req.Username,
		Password:  req.Password,
		AvatarURL: req.AvatarURL,
	})
	if err != nil {
		writeAuthError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, &ProfileView{
		User:      user.Id,
		Email:     user.Email,
		Username:  user.Username,
		AvatarURL: user.AvatarURL,
		Token:     token,
	})
}

func apiLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	user, token, err := globals.authhdl.Authenticate(req.Email, req.Password)
	if err != nil {
		writeAuthError(w, err)
		return
	}
	if user == nil {
		writeAPIError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	writeJSON(w, http.StatusOK, &ProfileView{
		User:      user.Id,
		Email:     user.Email,
		Username:  user.Username,
		AvatarURL: user.AvatarURL,
		Token:     token,
	})
}

func apiMe(w http.ResponseWriter, _ *http.Request, user *types.User) {
	writeJSON(w, http.StatusOK, &ProfileView{
		User:      user.Id,
		Email:     user.Email,
		Username:  user.Username,
		AvatarURL: user.AvatarURL,
	})
}

func apiSearch(w http.ResponseWriter, r *http.Request, user *types.User) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		writeAPIError(w, http.StatusBadRequest, "empty search query")
		return
	}

	found, err := store.Users.Search(query, user.Id)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	results := make([]ContactView, 0, len(found))
	for i := range found {
		results = append(results, ContactView{
			User:      found[i].Id,
			Username:  found[i].Username,
			AvatarURL: found[i].AvatarURL,
			Online:    globals.presence.isOnline(found[i].Id),
		})
	}
	writeJSON(w, http.StatusOK, results)
}

func apiContacts(w http.ResponseWriter, _ *http.Request, user *types.User) {
	edges, err := store.Contacts.List(user.Id)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	others := make([]types.Uid, len(edges))
	for i, edge := range edges {
		if edge.User1 == user.Id {
			others[i] = edge.User2
		} else {
			others[i] = edge.User1
		}
	}
	users, err := store.Users.GetAll(others...)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	profiles := make(map[types.Uid]*types.User, len(users))
	for i := range users {
		profiles[users[i].Id] = &users[i]
	}

	// Edge order is creation order; keep it.
	contacts := make([]ContactView, 0, len(others))
	for _, other := range others {
		view := ContactView{User: other, Online: globals.presence.isOnline(other)}
		if u := profiles[other]; u != nil {
			view.Username = u.Username
			view.AvatarURL = u.AvatarURL
		}
		contacts = append(contacts, view)
	}
	writeJSON(w, http.StatusOK, contacts)
}

func apiContactGet(w http.ResponseWriter, r *http.Request, user *types.User) {
	other := types.ParseUid(r.PathValue("userId"))
	if other.IsZero() {
		writeAPIError(w, http.StatusBadRequest, "malformed user id")
		return
	}

	linked, err := store.Contacts.Exists(user.Id, other)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	resp := map[string]any{"contacts": linked}
	if linked {
		resp["chatId"] = types.ChatName(user.Id, other)
	}
	writeJSON(w, http.StatusOK, resp)
}

func apiInviteSend(w http.ResponseWriter, r *http.Request, user *types.User) {
	var req struct {
		To types.Uid `json:"to"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	inv, err := sendInvite(user.Id, req.To)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"id":        inv.Id,
		"to":        inv.To,
		"status":    inv.Status,
		"createdAt": inv.CreatedAt.UnixMilli(),
	})
}

func apiInviteList(w http.ResponseWriter, _ *http.Request, user *types.User) {
	views, err := listIncoming(user.Id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, views)
}

func apiInviteRespond(w http.ResponseWriter, r *http.Request, user *types.User) {
	id := types.ParseUid(r.PathValue("id"))
	if id.IsZero() {
		writeAPIError(w, http.StatusBadRequest, "malformed invite id")
		return
	}

	var req struct {
		Action string `json:"action"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Action != "accept" && req.Action != "reject" {
		writeAPIError(w, http.StatusBadRequest, "action must be accept or reject")
		return
	}

	result, err := respondInvite(id, user.Id, req.Action == "accept")
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func apiHistory(w http.ResponseWriter, r *http.Request, user *types.User) {
	chat, ok := chatForMember(w, r, user.Id)
	if !ok {
		return
	}

	messages, err := store.Messages.GetAll(chat)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	views := make([]MessageView, 0, len(messages))
	for i := range messages {
		views = append(views, MessageView{
			Id:        messages[i].Id,
			From:      messages[i].From,
			Text:      messages[i].Text,
			CreatedAt: messages[i].CreatedAt.UnixMilli(),
		})
	}
	writeJSON(w, http.StatusOK, views)
}

func apiClear(w http.ResponseWriter, r *http.Request, user *types.User) {
	chat, ok := chatForMember(w, r, user.Id)
	if !ok {
		return
	}

	if err := store.Messages.DeleteAll(chat); err != nil {
		writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// chatForMember extracts the chat id from the request path and verifies the
// caller is one of its two participants. Writes the error response itself.
func chatForMember(w http.ResponseWriter, r *http.Request, uid types.Uid) (string, bool) {
	chat := r.PathValue("chatId")
	if _, _, err := types.ParseChat(chat); err != nil {
		writeAPIError(w, http.StatusBadRequest, "malformed chat id")
		return "", false
	}
	if !types.ChatMember(chat, uid) {
		writeAPIError(w, http.StatusForbidden, "not a member of this chat")
		return "", false
	}
	return chat, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeAPIError(w, http.StatusBadRequest, "malformed request body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logs.Err.Println("api: failed to write response:", err)
	}
}

func writeAPIError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, map[string]any{"error": message})
}

// writeStoreError maps persistence-level errors to HTTP statuses.
func writeStoreError(w http.ResponseWriter, err error) {
	var serr types.StoreError
	if !errors.As(err, &serr) {
		logs.Err.Println("api: storage failure:", err)
		writeAPIError(w, http.StatusServiceUnavailable, "storage unavailable")
		return
	}

	switch serr {
	case types.ErrSelfInvite, types.ErrMalformed:
		writeAPIError(w, http.StatusBadRequest, serr.Error())
	case types.ErrNotFound:
		writeAPIError(w, http.StatusNotFound, serr.Error())
	case types.ErrAlreadyContacts, types.ErrInvitePending, types.ErrDuplicate:
		writeAPIError(w, http.StatusConflict, serr.Error())
	case types.ErrPermissionDenied:
		writeAPIError(w, http.StatusForbidden, serr.Error())
	default:
		logs.Err.Println("api: storage failure:", err)
		writeAPIError(w, http.StatusServiceUnavailable, "storage unavailable")
	}
}

// writeAuthError maps authenticator errors to HTTP statuses.
func writeAuthError(w http.ResponseWriter, err error) {
	var aerr auth.AuthErr
	if !errors.As(err, &aerr) {
		logs.Err.Println("api: auth failure:", err)
		writeAPIError(w, http.StatusInternalServerError, "internal error")
		return
	}

	switch aerr {
	case auth.ErrMalformed, auth.ErrPolicy:
		writeAPIError(w, http.StatusBadRequest, aerr.Error())
	case auth.ErrDuplicate:
		writeAPIError(w, http.StatusConflict, aerr.Error())
	case auth.ErrFailed:
		writeAPIError(w, http.StatusUnauthorized, aerr.Error())
	default:
		logs.Err.Println("api: auth failure:", err)
		writeAPIError(w, http.StatusInternalServerError, "internal error")
	}
}
