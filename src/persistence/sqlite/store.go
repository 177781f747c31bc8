// Package sqlite provides a SQLite-backed persistence.Service.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/Linkolnn/Icore/src/common"
	"github.com/Linkolnn/Icore/src/persistence"
	"github.com/Linkolnn/Icore/src/persistence/sqlite/migrations"
	"github.com/google/uuid"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

// Store persists chats, messages and unread counters in SQLite.
type Store struct {
	sqlDB *sql.DB
}

var _ persistence.Service = (*Store)(nil)

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens a SQLite store and applies the embedded migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(sqlDB); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// applyMigrations executes the embedded migrations at most once per file.
func applyMigrations(db *sql.DB) error {
	names, err := fs.Glob(migrations.FS, "*.sql")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}
	sort.Strings(names)

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
	    name TEXT PRIMARY KEY,
	    applied_at INTEGER NOT NULL
	)`); err != nil {
		return fmt.Errorf("ensure migration table: %w", err)
	}

	for _, name := range names {
		var one int
		err := db.QueryRow(`SELECT 1 FROM schema_migrations WHERE name = ?`, name).Scan(&one)
		if err == nil {
			continue
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("check migration %s: %w", name, err)
		}

		body, err := fs.ReadFile(migrations.FS, name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}

		tx, err := db.Begin()
		if err != nil {
			return err
		}
		if _, err := tx.Exec(string(body)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("apply migration %s: %w", name, err)
		}
		if _, err := tx.Exec(`INSERT INTO schema_migrations (name, applied_at) VALUES (?, ?)`, name, toMillis(time.Now())); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %s: %w", name, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %s: %w", name, err)
		}
	}
	return nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

func unavailable(subject, key string, err error) error {
	if _, ok := common.TypeOf(err); ok {
		return err
	}
	return common.NewErrMsg(subject, common.Unavailable, key, err.Error())
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}

func (s *Store) withTx(ctx context.Context, f func(tx *sql.Tx) error) error {
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := f(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// GetChat implements the persistence.Service interface.
func (s *Store) GetChat(ctx context.Context, chatID string) (*persistence.Chat, error) {
	if err := ctx.Err(); err != nil {
		return nil, unavailable("Chat", chatID, err)
	}

	var (
		chat          persistence.Chat
		lastMessageID sql.NullString
		createdAt     int64
	)
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT id, type, name, last_message_id, created_at FROM chats WHERE id = ?`, chatID,
	).Scan(&chat.ID, &chat.Type, &chat.Name, &lastMessageID, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.NewErr("Chat", common.NotFound, chatID)
	}
	if err != nil {
		return nil, unavailable("Chat", chatID, err)
	}
	chat.CreatedAt = fromMillis(createdAt)

	if chat.Participants, err = s.participants(ctx, chatID); err != nil {
		return nil, unavailable("Chat", chatID, err)
	}
	if chat.UnreadCount, err = s.UnreadCounts(ctx, chatID); err != nil {
		return nil, err
	}
	if lastMessageID.Valid && lastMessageID.String != "" {
		last, err := s.GetMessage(ctx, lastMessageID.String)
		if err != nil && !common.Is(err, common.NotFound) {
			return nil, err
		}
		chat.LastMessage = last
	}
	return &chat, nil
}

func (s *Store) participants(ctx context.Context, chatID string) ([]persistence.Participant, error) {
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT user_id, role, permissions, joined_at FROM chat_participants WHERE chat_id = ? ORDER BY position`, chatID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	res := []persistence.Participant{}
	for rows.Next() {
		var (
			p           persistence.Participant
			permissions string
			joinedAt    int64
		)
		if err := rows.Scan(&p.UserID, &p.Role, &permissions, &joinedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(permissions), &p.Permissions); err != nil {
			return nil, fmt.Errorf("decode permissions of %s: %w", p.UserID, err)
		}
		p.JoinedAt = fromMillis(joinedAt)
		res = append(res, p)
	}
	return res, rows.Err()
}

// GetChatParticipants implements the persistence.Service interface.
func (s *Store) GetChatParticipants(ctx context.Context, chatID string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, unavailable("Chat", chatID, err)
	}
	if err := s.chatExists(ctx, chatID); err != nil {
		return nil, err
	}
	ps, err := s.participants(ctx, chatID)
	if err != nil {
		return nil, unavailable("Chat", chatID, err)
	}
	res := make([]string, len(ps))
	for i, p := range ps {
		res[i] = p.UserID
	}
	return res, nil
}

func (s *Store) chatExists(ctx context.Context, chatID string) error {
	var one int
	err := s.sqlDB.QueryRowContext(ctx, `SELECT 1 FROM chats WHERE id = ?`, chatID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return common.NewErr("Chat", common.NotFound, chatID)
	}
	if err != nil {
		return unavailable("Chat", chatID, err)
	}
	return nil
}

// IsParticipant implements the persistence.Service interface.
func (s *Store) IsParticipant(ctx context.Context, chatID, userID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, unavailable("Chat", chatID, err)
	}
	if err := s.chatExists(ctx, chatID); err != nil {
		return false, err
	}
	var one int
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT 1 FROM chat_participants WHERE chat_id = ? AND user_id = ?`, chatID, userID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, unavailable("Chat", chatID, err)
	}
	return true, nil
}

// CreateChat implements the persistence.Service interface.
func (s *Store) CreateChat(ctx context.Context, chat *persistence.Chat) (*persistence.Chat, error) {
	if err := ctx.Err(); err != nil {
		return nil, unavailable("Chat", chat.ID, err)
	}
	if !chat.Type.Valid() {
		return nil, common.NewErrMsg("Chat", common.Validation, chat.ID, "unknown chat type")
	}
	if len(chat.Participants) == 0 {
		return nil, common.NewErrMsg("Chat", common.Validation, chat.ID, "a chat needs participants")
	}

	id := chat.ID
	if id == "" {
		id = uuid.NewString()
	}
	createdAt := chat.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO chats (id, type, name, created_at) VALUES (?, ?, ?, ?)`,
			id, string(chat.Type), chat.Name, toMillis(createdAt),
		); err != nil {
			return err
		}
		for i, p := range chat.Participants {
			permissions, err := json.Marshal(p.Permissions)
			if err != nil {
				return err
			}
			joinedAt := p.JoinedAt
			if joinedAt.IsZero() {
				joinedAt = createdAt
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO chat_participants (chat_id, user_id, position, role, permissions, joined_at) VALUES (?, ?, ?, ?, ?, ?)`,
				id, p.UserID, i, string(p.Role), string(permissions), toMillis(joinedAt),
			); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if isUniqueViolation(err) {
			return nil, common.NewErr("Chat", common.Conflict, id)
		}
		return nil, unavailable("Chat", id, err)
	}

	return s.GetChat(ctx, id)
}

const messageColumns = `id, chat_id, sender_id, text, type, status, reply_to, forwarded, edited_at, is_deleted, created_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMessage(row rowScanner) (*persistence.Message, error) {
	var (
		m         persistence.Message
		forwarded string
		editedAt  sql.NullInt64
		isDeleted int
		createdAt int64
	)
	if err := row.Scan(&m.ID, &m.ChatID, &m.SenderID, &m.Text, &m.Type, &m.Status,
		&m.ReplyTo, &forwarded, &editedAt, &isDeleted, &createdAt); err != nil {
		return nil, err
	}
	if forwarded != "" {
		m.Forwarded = new(persistence.Forwarded)
		if err := json.Unmarshal([]byte(forwarded), m.Forwarded); err != nil {
			return nil, fmt.Errorf("decode forwarded of %s: %w", m.ID, err)
		}
	}
	if editedAt.Valid {
		t := fromMillis(editedAt.Int64)
		m.EditedAt = &t
	}
	m.IsDeleted = isDeleted != 0
	m.CreatedAt = fromMillis(createdAt)
	return &m, nil
}

func (s *Store) readSet(ctx context.Context, messageID string) ([]persistence.ReadReceipt, error) {
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT user_id, read_at FROM message_reads WHERE message_id = ? ORDER BY read_at, user_id`, messageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []persistence.ReadReceipt
	for rows.Next() {
		var (
			r      persistence.ReadReceipt
			readAt int64
		)
		if err := rows.Scan(&r.UserID, &readAt); err != nil {
			return nil, err
		}
		r.ReadAt = fromMillis(readAt)
		res = append(res, r)
	}
	return res, rows.Err()
}

// AppendMessage implements the persistence.Service interface.
func (s *Store) AppendMessage(ctx context.Context, msg *persistence.Message) (*persistence.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, unavailable("Message", msg.ID, err)
	}
	if strings.TrimSpace(msg.Text) == "" {
		return nil, common.NewErrMsg("Message", common.Validation, msg.ID, "text is required")
	}
	if err := s.chatExists(ctx, msg.ChatID); err != nil {
		return nil, err
	}

	m := *msg
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.Type == "" {
		m.Type = "text"
	}
	if m.Status == "" {
		m.Status = persistence.Sent
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	forwarded := ""
	if m.Forwarded != nil {
		data, err := json.Marshal(m.Forwarded)
		if err != nil {
			return nil, common.NewErrMsg("Message", common.Validation, m.ID, err.Error())
		}
		forwarded = string(data)
	}

	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO messages (`+messageColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, NULL, 0, ?)`,
		m.ID, m.ChatID, m.SenderID, m.Text, m.Type, string(m.Status), m.ReplyTo, forwarded, toMillis(m.CreatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, common.NewErr("Message", common.Conflict, m.ID)
		}
		return nil, unavailable("Message", m.ID, err)
	}
	return s.GetMessage(ctx, m.ID)
}

// GetMessage implements the persistence.Service interface.
func (s *Store) GetMessage(ctx context.Context, messageID string) (*persistence.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, unavailable("Message", messageID, err)
	}
	m, err := scanMessage(s.sqlDB.QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE id = ?`, messageID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.NewErr("Message", common.NotFound, messageID)
	}
	if err != nil {
		return nil, unavailable("Message", messageID, err)
	}
	if m.ReadBy, err = s.readSet(ctx, messageID); err != nil {
		return nil, unavailable("Message", messageID, err)
	}
	return m, nil
}

// EditMessage implements the persistence.Service interface.
func (s *Store) EditMessage(ctx context.Context, messageID, text string, at time.Time) (*persistence.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, unavailable("Message", messageID, err)
	}
	res, err := s.sqlDB.ExecContext(ctx,
		`UPDATE messages SET text = ?, edited_at = ? WHERE id = ? AND is_deleted = 0`,
		text, toMillis(at), messageID)
	if err != nil {
		return nil, unavailable("Message", messageID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, common.NewErr("Message", common.NotFound, messageID)
	}
	return s.GetMessage(ctx, messageID)
}

// DeleteMessage implements the persistence.Service interface.
func (s *Store) DeleteMessage(ctx context.Context, messageID string, at time.Time) (*persistence.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, unavailable("Message", messageID, err)
	}
	res, err := s.sqlDB.ExecContext(ctx,
		`UPDATE messages SET is_deleted = 1 WHERE id = ? AND is_deleted = 0`, messageID)
	if err != nil {
		return nil, unavailable("Message", messageID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, common.NewErr("Message", common.NotFound, messageID)
	}
	return s.GetMessage(ctx, messageID)
}

// UpdateLastMessage implements the persistence.Service interface.
func (s *Store) UpdateLastMessage(ctx context.Context, chatID string, msg *persistence.Message) error {
	if err := ctx.Err(); err != nil {
		return unavailable("Chat", chatID, err)
	}
	var last interface{}
	if msg != nil {
		last = msg.ID
	}
	res, err := s.sqlDB.ExecContext(ctx, `UPDATE chats SET last_message_id = ? WHERE id = ?`, last, chatID)
	if err != nil {
		return unavailable("Chat", chatID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return common.NewErr("Chat", common.NotFound, chatID)
	}
	return nil
}

// LatestMessage implements the persistence.Service interface.
func (s *Store) LatestMessage(ctx context.Context, chatID string) (*persistence.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, unavailable("Message", chatID, err)
	}
	var id string
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT id FROM messages WHERE chat_id = ? AND is_deleted = 0 ORDER BY created_at DESC, rowid DESC LIMIT 1`,
		chatID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.NewErr("Message", common.NotFound, chatID)
	}
	if err != nil {
		return nil, unavailable("Message", chatID, err)
	}
	return s.GetMessage(ctx, id)
}

// IncrementUnread implements the persistence.Service interface.
func (s *Store) IncrementUnread(ctx context.Context, chatID, senderID string) (map[string]int, error) {
	if err := ctx.Err(); err != nil {
		return nil, unavailable("Unread", chatID, err)
	}
	if err := s.chatExists(ctx, chatID); err != nil {
		return nil, err
	}
	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO unread_counters (chat_id, user_id, count)
		   SELECT chat_id, user_id, 1 FROM chat_participants WHERE chat_id = ? AND user_id != ?
		 ON CONFLICT (chat_id, user_id) DO UPDATE SET count = count + 1`,
		chatID, senderID)
	if err != nil {
		return nil, unavailable("Unread", chatID, err)
	}
	return s.UnreadCounts(ctx, chatID)
}

// ResetUnread implements the persistence.Service interface.
func (s *Store) ResetUnread(ctx context.Context, chatID, userID string) error {
	if err := ctx.Err(); err != nil {
		return unavailable("Unread", chatID, err)
	}
	if err := s.chatExists(ctx, chatID); err != nil {
		return err
	}
	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO unread_counters (chat_id, user_id, count) VALUES (?, ?, 0)
		 ON CONFLICT (chat_id, user_id) DO UPDATE SET count = 0`,
		chatID, userID)
	if err != nil {
		return unavailable("Unread", chatID, err)
	}
	return nil
}

// UnreadCounts implements the persistence.Service interface.
func (s *Store) UnreadCounts(ctx context.Context, chatID string) (map[string]int, error) {
	if err := ctx.Err(); err != nil {
		return nil, unavailable("Unread", chatID, err)
	}
	rows, err := s.sqlDB.QueryContext(ctx, `SELECT user_id, count FROM unread_counters WHERE chat_id = ?`, chatID)
	if err != nil {
		return nil, unavailable("Unread", chatID, err)
	}
	defer rows.Close()

	res := make(map[string]int)
	for rows.Next() {
		var (
			userID string
			count  int
		)
		if err := rows.Scan(&userID, &count); err != nil {
			return nil, unavailable("Unread", chatID, err)
		}
		res[userID] = count
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("Unread", chatID, err)
	}
	return res, nil
}

// MarkMessagesRead implements the persistence.Service interface.
func (s *Store) MarkMessagesRead(ctx context.Context, chatID, userID string, at time.Time, perReader bool) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, unavailable("Message", chatID, err)
	}

	query := `SELECT id FROM messages
	  WHERE chat_id = ? AND sender_id != ? AND is_deleted = 0 AND status != 'read'
	  ORDER BY created_at, rowid`
	args := []interface{}{chatID, userID}
	if perReader {
		query = `SELECT id FROM messages
		  WHERE chat_id = ? AND sender_id != ? AND is_deleted = 0
		    AND NOT EXISTS (SELECT 1 FROM message_reads r WHERE r.message_id = messages.id AND r.user_id = ?)
		  ORDER BY created_at, rowid`
		args = append(args, userID)
	}

	res := []string{}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return err
			}
			res = append(res, id)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		for _, id := range res {
			if perReader {
				_, err = tx.ExecContext(ctx,
					`INSERT OR IGNORE INTO message_reads (message_id, user_id, read_at) VALUES (?, ?, ?)`,
					id, userID, toMillis(at))
			} else {
				_, err = tx.ExecContext(ctx, `UPDATE messages SET status = 'read' WHERE id = ?`, id)
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, unavailable("Message", chatID, err)
	}
	return res, nil
}
