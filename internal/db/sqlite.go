package db

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"github.com/harbormind/harbormind/internal/models"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("record not found")

const schema = `
CREATE TABLE IF NOT EXISTS chats (
    uid TEXT PRIMARY KEY,
    title TEXT NOT NULL DEFAULT '',
    description TEXT NOT NULL DEFAULT '',
    owner_id TEXT NOT NULL,
    is_active INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
    uid TEXT PRIMARY KEY,
    chat_uid TEXT NOT NULL,
    role TEXT NOT NULL,
    text TEXT NOT NULL,
    image TEXT NOT NULL DEFAULT '',
    weight INTEGER NOT NULL DEFAULT 1,
    is_active INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    FOREIGN KEY (chat_uid) REFERENCES chats(uid)
);

CREATE INDEX IF NOT EXISTS idx_chats_owner ON chats(owner_id, created_at);
CREATE INDEX IF NOT EXISTS idx_messages_chat ON messages(chat_uid, created_at);`

type Database struct {
	db *sql.DB
}

func New(dbPath string) (*Database, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite database")
	}

	// go-sqlite3 serializes writes; a single pooled connection avoids lock
	// contention and keeps :memory: databases on one connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		return nil, errors.Wrap(err, "apply schema")
	}

	return &Database{db: db}, nil
}

func (d *Database) Close() error {
	return d.db.Close()
}

func (d *Database) CreateChat(chat *models.Chat) error {
	if chat.UID == "" {
		chat.UID = uuid.NewString()
	}
	now := time.Now().UTC()
	chat.IsActive = true
	chat.CreatedAt = now
	chat.UpdatedAt = now

	_, err := d.db.Exec(`
        INSERT INTO chats (uid, title, description, owner_id, is_active, created_at, updated_at)
        VALUES (?, ?, ?, ?, 1, ?, ?)`,
		chat.UID, chat.Title, chat.Description, chat.OwnerID, chat.CreatedAt, chat.UpdatedAt)
	return errors.Wrap(err, "insert chat")
}

// GetChat returns a chat regardless of owner, active only.
func (d *Database) GetChat(uid string) (*models.Chat, error) {
	return d.getChat(`SELECT uid, title, description, owner_id, is_active, created_at, updated_at
        FROM chats WHERE uid = ? AND is_active = 1`, uid)
}

// GetOwnedChat returns an active chat only when it belongs to ownerID.
func (d *Database) GetOwnedChat(uid, ownerID string) (*models.Chat, error) {
	return d.getChat(`SELECT uid, title, description, owner_id, is_active, created_at, updated_at
        FROM chats WHERE uid = ? AND owner_id = ? AND is_active = 1`, uid, ownerID)
}

// GetAnyChat returns a chat by uid including soft-deleted ones.
func (d *Database) GetAnyChat(uid string) (*models.Chat, error) {
	return d.getChat(`SELECT uid, title, description, owner_id, is_active, created_at, updated_at
        FROM chats WHERE uid = ?`, uid)
}

func (d *Database) getChat(query string, args ...any) (*models.Chat, error) {
	var chat models.Chat
	err := d.db.QueryRow(query, args...).Scan(
		&chat.UID, &chat.Title, &chat.Description, &chat.OwnerID,
		&chat.IsActive, &chat.CreatedAt, &chat.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "query chat")
	}
	return &chat, nil
}

// ListChats returns the owner's active chats, newest first, along with the
// total active count for pagination.
func (d *Database) ListChats(ownerID string, limit, offset int) ([]models.Chat, int, error) {
	var total int
	err := d.db.QueryRow(`SELECT COUNT(*) FROM chats WHERE owner_id = ? AND is_active = 1`, ownerID).Scan(&total)
	if err != nil {
		return nil, 0, errors.Wrap(err, "count chats")
	}

	rows, err := d.db.Query(`
        SELECT uid, title, description, owner_id, is_active, created_at, updated_at
        FROM chats
        WHERE owner_id = ? AND is_active = 1
        ORDER BY created_at DESC
        LIMIT ? OFFSET ?`, ownerID, limit, offset)
	if err != nil {
		return nil, 0, errors.Wrap(err, "query chats")
	}
	defer rows.Close()

	chats := make([]models.Chat, 0)
	for rows.Next() {
		var chat models.Chat
		if err := rows.Scan(&chat.UID, &chat.Title, &chat.Description, &chat.OwnerID,
			&chat.IsActive, &chat.CreatedAt, &chat.UpdatedAt); err != nil {
			return nil, 0, errors.Wrap(err, "scan chat")
		}
		chats = append(chats, chat)
	}
	return chats, total, rows.Err()
}

// UpdateChatInfo sets the chat's title and description.
func (d *Database) UpdateChatInfo(uid, title, description string) error {
	res, err := d.db.Exec(`UPDATE chats SET title = ?, description = ?, updated_at = ? WHERE uid = ?`,
		title, description, time.Now().UTC(), uid)
	if err != nil {
		return errors.Wrap(err, "update chat")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SoftDeleteChat flips the chat inactive and cascades to its messages in one
// transaction. The rows are kept.
func (d *Database) SoftDeleteChat(uid string) error {
	tx, err := d.db.Begin()
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	res, err := tx.Exec(`UPDATE chats SET is_active = 0, updated_at = ? WHERE uid = ? AND is_active = 1`, now, uid)
	if err != nil {
		return errors.Wrap(err, "deactivate chat")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	if _, err := tx.Exec(`UPDATE messages SET is_active = 0 WHERE chat_uid = ?`, uid); err != nil {
		return errors.Wrap(err, "deactivate chat messages")
	}
	return errors.Wrap(tx.Commit(), "commit")
}

// SaveMessage inserts the message verbatim, assigning a uid and creation
// time. Weight is stored as given; callers choose the initial value.
func (d *Database) SaveMessage(msg *models.Message) error {
	if msg.UID == "" {
		msg.UID = uuid.NewString()
	}
	msg.IsActive = true
	msg.CreatedAt = time.Now().UTC()

	_, err := d.db.Exec(`
        INSERT INTO messages (uid, chat_uid, role, text, image, weight, is_active, created_at)
        VALUES (?, ?, ?, ?, ?, ?, 1, ?)`,
		msg.UID, msg.ChatUID, string(msg.Role), msg.Text, msg.Image, msg.Weight, msg.CreatedAt)
	return errors.Wrap(err, "insert message")
}

func (d *Database) GetMessage(uid string) (*models.Message, error) {
	var msg models.Message
	var role string
	err := d.db.QueryRow(`
        SELECT uid, chat_uid, role, text, image, weight, is_active, created_at
        FROM messages WHERE uid = ?`, uid).Scan(
		&msg.UID, &msg.ChatUID, &role, &msg.Text, &msg.Image, &msg.Weight, &msg.IsActive, &msg.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "query message")
	}
	msg.Role = models.Role(role)
	return &msg, nil
}

// ListMessages returns a chat's active messages ordered by creation time
// ascending.
func (d *Database) ListMessages(chatUID string) ([]models.Message, error) {
	rows, err := d.db.Query(`
        SELECT uid, chat_uid, role, text, image, weight, is_active, created_at
        FROM messages
        WHERE chat_uid = ? AND is_active = 1
        ORDER BY created_at ASC`, chatUID)
	if err != nil {
		return nil, errors.Wrap(err, "query messages")
	}
	defer rows.Close()

	messages := make([]models.Message, 0)
	for rows.Next() {
		var msg models.Message
		var role string
		if err := rows.Scan(&msg.UID, &msg.ChatUID, &role, &msg.Text, &msg.Image,
			&msg.Weight, &msg.IsActive, &msg.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "scan message")
		}
		msg.Role = models.Role(role)
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

func (d *Database) CountActiveMessages(chatUID string) (int, error) {
	var count int
	err := d.db.QueryRow(`SELECT COUNT(*) FROM messages WHERE chat_uid = ? AND is_active = 1`, chatUID).Scan(&count)
	return count, errors.Wrap(err, "count messages")
}

func (d *Database) UpdateMessageWeight(uid string, weight int) error {
	res, err := d.db.Exec(`UPDATE messages SET weight = ? WHERE uid = ?`, weight, uid)
	if err != nil {
		return errors.Wrap(err, "update message weight")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
