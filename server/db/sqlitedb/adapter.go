// Package sqlitedb is a database adapter backed by an embedded SQLite
// database. It uses the pure-Go driver, no external daemon is required.
package sqlitedb

import (
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/oxytalk/chat/server/store"
	t "github.com/oxytalk/chat/server/store/types"
)

// adapter holds the database connection data.
type adapter struct {
	db         *sqlx.DB
	dsn        string
	maxResults int
}

const (
	defaultDSN = "file:oxytalk.db?_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"

	adapterName = "sqlite"

	defaultMaxResults = 1024
)

type configType struct {
	DSN string `json:"dsn,omitempty"`
	// Connection pool size. SQLite allows a single writer; a small pool is
	// plenty.
	MaxOpenConns int `json:"max_open_conns,omitempty"`
}

// Open initializes the database connection.
func (a *adapter) Open(jsonconfig json.RawMessage) error {
	if a.db != nil {
		return errors.New("adapter sqlite is already connected")
	}

	var config configType
	if len(jsonconfig) > 0 {
		if err := json.Unmarshal(jsonconfig, &config); err != nil {
			return errors.New("adapter sqlite failed to parse config: " + err.Error())
		}
	}

	a.dsn = config.DSN
	if a.dsn == "" {
		a.dsn = defaultDSN
	}

	var err error
	a.db, err = sqlx.Open("sqlite", a.dsn)
	if err != nil {
		return err
	}

	if config.MaxOpenConns > 0 {
		a.db.SetMaxOpenConns(config.MaxOpenConns)
	}

	if err = a.db.Ping(); err != nil {
		a.db.Close()
		a.db = nil
		return err
	}

	return a.ensureSchema()
}

// Close closes the underlying database connection.
func (a *adapter) Close() error {
	var err error
	if a.db != nil {
		err = a.db.Close()
		a.db = nil
	}
	return err
}

// IsOpen returns true if connection to database has been established.
// It does not check if the connection is actually live.
func (a *adapter) IsOpen() bool {
	return a.db != nil
}

// GetName returns string that adapter uses to register itself with store.
func (a *adapter) GetName() string {
	return adapterName
}

// SetMaxResults configures how many results can be returned in a single DB call.
func (a *adapter) SetMaxResults(val int) error {
	if val <= 0 {
		a.maxResults = defaultMaxResults
	} else {
		a.maxResults = val
	}
	return nil
}

const schema = `
CREATE TABLE IF NOT EXISTS users(
	id        INTEGER NOT NULL PRIMARY KEY,
	createdat INTEGER NOT NULL,
	email     TEXT    NOT NULL COLLATE NOCASE UNIQUE,
	username  TEXT    NOT NULL COLLATE NOCASE UNIQUE,
	avatarurl TEXT    NOT NULL DEFAULT '',
	passhash  BLOB    NOT NULL,
	token     TEXT    NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS users_token ON users(token) WHERE token<>'';

CREATE TABLE IF NOT EXISTS invites(
	id        INTEGER NOT NULL PRIMARY KEY,
	createdat INTEGER NOT NULL,
	fromuser  INTEGER NOT NULL REFERENCES users(id),
	touser    INTEGER NOT NULL REFERENCES users(id),
	pairlow   INTEGER NOT NULL,
	pairhigh  INTEGER NOT NULL,
	status    TEXT    NOT NULL DEFAULT 'pending'
);
-- One pending invite per unordered pair regardless of direction.
CREATE UNIQUE INDEX IF NOT EXISTS invites_pending_pair
	ON invites(pairlow, pairhigh) WHERE status='pending';
CREATE INDEX IF NOT EXISTS invites_touser ON invites(touser, status);

CREATE TABLE IF NOT EXISTS contacts(
	user1     INTEGER NOT NULL REFERENCES users(id),
	user2     INTEGER NOT NULL REFERENCES users(id),
	createdat INTEGER NOT NULL,
	PRIMARY KEY(user1, user2)
);

CREATE TABLE IF NOT EXISTS channels(
	name      TEXT    NOT NULL PRIMARY KEY,
	createdat INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS messages(
	seq       INTEGER PRIMARY KEY AUTOINCREMENT,
	id        INTEGER NOT NULL UNIQUE,
	createdat INTEGER NOT NULL,
	chat      TEXT    NOT NULL,
	fromuser  INTEGER NOT NULL,
	content   TEXT    NOT NULL
);
CREATE INDEX IF NOT EXISTS messages_chat ON messages(chat, seq);
`

func (a *adapter) ensureSchema() error {
	_, err := a.db.Exec(schema)
	return err
}

// CreateDb initializes the storage, optionally dropping existing tables first.
func (a *adapter) CreateDb(reset bool) error {
	if reset {
		for _, tbl := range []string{"messages", "channels", "contacts", "invites", "users"} {
			if _, err := a.db.Exec("DROP TABLE IF EXISTS " + tbl); err != nil {
				return err
			}
		}
	}
	return a.ensureSchema()
}

// Stats returns the DB connection pool stats.
func (a *adapter) Stats() any {
	if a.db == nil {
		return nil
	}
	return a.db.Stats()
}

// Timestamps are persisted as integer unix milliseconds: SQLite has no
// native datetime type.
func toMillis(ts time.Time) int64 {
	return ts.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

type userRow struct {
	Id        t.Uid  `db:"id"`
	CreatedAt int64  `db:"createdat"`
	Email     string `db:"email"`
	Username  string `db:"username"`
	AvatarURL string `db:"avatarurl"`
	Passhash  []byte `db:"passhash"`
	Token     string `db:"token"`
}

func (r *userRow) user() *t.User {
	return &t.User{
		Id:        r.Id,
		CreatedAt: fromMillis(r.CreatedAt),
		Email:     r.Email,
		Username:  r.Username,
		AvatarURL: r.AvatarURL,
		Passhash:  r.Passhash,
		Token:     r.Token,
	}
}

// UserCreate creates a user record.
func (a *adapter) UserCreate(user *t.User) error {
	_, err := a.db.Exec(
		"INSERT INTO users(id,createdat,email,username,avatarurl,passhash,token) VALUES(?,?,?,?,?,?,?)",
		user.Id, toMillis(user.CreatedAt), user.Email, user.Username, user.AvatarURL, user.Passhash, user.Token)
	if isDupe(err) {
		return t.ErrDuplicate
	}
	return err
}

// UserGet fetches a single user by user id.
func (a *adapter) UserGet(uid t.Uid) (*t.User, error) {
	return a.userBy("SELECT * FROM users WHERE id=?", uid)
}

// UserGetAll returns user records for a given list of user IDs.
func (a *adapter) UserGetAll(ids ...t.Uid) ([]t.User, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	uids := make([]any, len(ids))
	for i, id := range ids {
		uids[i] = id
	}

	query, args, err := sqlx.In("SELECT * FROM users WHERE id IN (?)", uids)
	if err != nil {
		return nil, err
	}

	var rows []userRow
	if err = a.db.Select(&rows, query, args...); err != nil {
		return nil, err
	}

	users := make([]t.User, 0, len(rows))
	for i := range rows {
		users = append(users, *rows[i].user())
	}
	return users, nil
}

// UserGetByEmail fetches a user by email.
func (a *adapter) UserGetByEmail(email string) (*t.User, error) {
	return a.userBy("SELECT * FROM users WHERE email=?", email)
}

// UserGetByToken fetches the user currently holding the session token.
func (a *adapter) UserGetByToken(token string) (*t.User, error) {
	if token == "" {
		return nil, nil
	}
	return a.userBy("SELECT * FROM users WHERE token=?", token)
}

func (a *adapter) userBy(query string, arg any) (*t.User, error) {
	var row userRow
	if err := a.db.Get(&row, query, arg); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return row.user(), nil
}

// UserUpdateToken replaces the user's session token.
func (a *adapter) UserUpdateToken(uid t.Uid, token string) error {
	res, err := a.db.Exec("UPDATE users SET token=? WHERE id=?", token, uid)
	if err != nil {
		return err
	}
	if count, _ := res.RowsAffected(); count == 0 {
		return t.ErrNotFound
	}
	return nil
}

// UserSearch returns users whose username starts with the given prefix.
func (a *adapter) UserSearch(prefix string, excluding t.Uid) ([]t.User, error) {
	var rows []userRow
	err := a.db.Select(&rows,
		"SELECT * FROM users WHERE username LIKE ? ESCAPE '\\' AND id<>? ORDER BY username LIMIT ?",
		escapeLike(prefix)+"%", excluding, a.maxResults)
	if err != nil {
		return nil, err
	}

	users := make([]t.User, 0, len(rows))
	for i := range rows {
		users = append(users, *rows[i].user())
	}
	return users, nil
}

// UsernameTaken checks if a username is already in use.
func (a *adapter) UsernameTaken(username string) (bool, error) {
	var count int
	err := a.db.Get(&count, "SELECT COUNT(*) FROM users WHERE username=?", username)
	return count > 0, err
}

type inviteRow struct {
	Id        t.Uid  `db:"id"`
	CreatedAt int64  `db:"createdat"`
	From      t.Uid  `db:"fromuser"`
	To        t.Uid  `db:"touser"`
	PairLow   t.Uid  `db:"pairlow"`
	PairHigh  t.Uid  `db:"pairhigh"`
	Status    string `db:"status"`
}

func (r *inviteRow) invite() *t.Invite {
	return &t.Invite{
		Id:        r.Id,
		CreatedAt: fromMillis(r.CreatedAt),
		From:      r.From,
		To:        r.To,
		Status:    r.Status,
	}
}

// InviteCreate saves a new pending invite record.
func (a *adapter) InviteCreate(inv *t.Invite) error {
	low, high := t.OrderPair(inv.From, inv.To)
	_, err := a.db.Exec(
		"INSERT INTO invites(id,createdat,fromuser,touser,pairlow,pairhigh,status) VALUES(?,?,?,?,?,?,?)",
		inv.Id, toMillis(inv.CreatedAt), inv.From, inv.To, low, high, inv.Status)
	if isDupe(err) {
		// The partial unique index caught a concurrent pending invite.
		return t.ErrInvitePending
	}
	return err
}

// InviteGet returns the invite with the given id.
func (a *adapter) InviteGet(id t.Uid) (*t.Invite, error) {
	var row inviteRow
	if err := a.db.Get(&row, "SELECT * FROM invites WHERE id=?", id); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return row.invite(), nil
}

// InvitePendingBetween checks for a pending invite between the two users.
func (a *adapter) InvitePendingBetween(uid1, uid2 t.Uid) (bool, error) {
	low, high := t.OrderPair(uid1, uid2)
	var count int
	err := a.db.Get(&count,
		"SELECT COUNT(*) FROM invites WHERE pairlow=? AND pairhigh=? AND status='pending'",
		low, high)
	return count > 0, err
}

// InviteListIncoming returns pending invites addressed to the user.
func (a *adapter) InviteListIncoming(uid t.Uid) ([]t.Invite, error) {
	var rows []inviteRow
	err := a.db.Select(&rows,
		"SELECT * FROM invites WHERE touser=? AND status='pending' ORDER BY createdat DESC, id LIMIT ?",
		uid, a.maxResults)
	if err != nil {
		return nil, err
	}

	invites := make([]t.Invite, 0, len(rows))
	for i := range rows {
		invites = append(invites, *rows[i].invite())
	}
	return invites, nil
}

// InviteSetStatus transitions the invite out of the pending state. The WHERE
// clause is the compare-and-swap: only one concurrent responder sees a
// non-zero row count.
func (a *adapter) InviteSetStatus(id t.Uid, responder t.Uid, status string) error {
	res, err := a.db.Exec(
		"UPDATE invites SET status=? WHERE id=? AND touser=? AND status='pending'",
		status, id, responder)
	if err != nil {
		return err
	}
	if count, _ := res.RowsAffected(); count == 0 {
		return t.ErrNotFound
	}
	return nil
}

// ContactAdd records a contact edge. uid1 < uid2 is guaranteed by the caller.
func (a *adapter) ContactAdd(uid1, uid2 t.Uid) error {
	_, err := a.db.Exec(
		"INSERT OR IGNORE INTO contacts(user1,user2,createdat) VALUES(?,?,?)",
		uid1, uid2, toMillis(t.TimeNow()))
	return err
}

// ContactExists checks if a contact edge exists for the pair.
func (a *adapter) ContactExists(uid1, uid2 t.Uid) (bool, error) {
	var count int
	err := a.db.Get(&count, "SELECT COUNT(*) FROM contacts WHERE user1=? AND user2=?", uid1, uid2)
	return count > 0, err
}

// ContactList returns the user's edges in creation order.
func (a *adapter) ContactList(uid t.Uid) ([]t.Contact, error) {
	var rows []struct {
		User1     t.Uid `db:"user1"`
		User2     t.Uid `db:"user2"`
		CreatedAt int64 `db:"createdat"`
	}
	// rowid, not createdat: two edges written within the same millisecond
	// must still come back in insertion order.
	err := a.db.Select(&rows,
		"SELECT user1,user2,createdat FROM contacts WHERE user1=? OR user2=? ORDER BY rowid", uid, uid)
	if err != nil {
		return nil, err
	}

	edges := make([]t.Contact, 0, len(rows))
	for _, r := range rows {
		edges = append(edges, t.Contact{User1: r.User1, User2: r.User2, CreatedAt: fromMillis(r.CreatedAt)})
	}
	return edges, nil
}

// ChannelEnsure creates the chat's message log if absent.
func (a *adapter) ChannelEnsure(chat string) error {
	_, err := a.db.Exec(
		"INSERT OR IGNORE INTO channels(name,createdat) VALUES(?,?)", chat, toMillis(t.TimeNow()))
	return err
}

// MessageSave appends a message to its channel's log. The autoincrement seq
// column records router arrival order.
func (a *adapter) MessageSave(msg *t.Message) error {
	_, err := a.db.Exec(
		"INSERT INTO messages(id,createdat,chat,fromuser,content) VALUES(?,?,?,?,?)",
		msg.Id, toMillis(msg.CreatedAt), msg.Chat, msg.From, msg.Text)
	return err
}

// MessageGetAll returns the channel's durable log in append order.
func (a *adapter) MessageGetAll(chat string) ([]t.Message, error) {
	var rows []struct {
		Seq       int64  `db:"seq"`
		Id        t.Uid  `db:"id"`
		CreatedAt int64  `db:"createdat"`
		Chat      string `db:"chat"`
		From      t.Uid  `db:"fromuser"`
		Content   string `db:"content"`
	}
	err := a.db.Select(&rows,
		"SELECT * FROM messages WHERE chat=? ORDER BY seq LIMIT ?", chat, a.maxResults)
	if err != nil {
		return nil, err
	}

	msgs := make([]t.Message, 0, len(rows))
	for _, r := range rows {
		msgs = append(msgs, t.Message{
			Id:        r.Id,
			CreatedAt: fromMillis(r.CreatedAt),
			Chat:      r.Chat,
			From:      r.From,
			Text:      r.Content,
		})
	}
	return msgs, nil
}

// MessageDeleteAll truncates the channel's durable log.
func (a *adapter) MessageDeleteAll(chat string) error {
	_, err := a.db.Exec("DELETE FROM messages WHERE chat=?", chat)
	return err
}

// isDupe checks if the error is a SQLite unique constraint violation.
func isDupe(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "(1555)") || strings.Contains(msg, "(2067)")
}

func escapeLike(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '%' || s[i] == '_' || s[i] == '\\' {
			out = append(out, '\\')
		}
		out = append(out, s[i])
	}
	return string(out)
}

func init() {
	store.RegisterAdapter(&adapter{})
}
