package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"krewup-messaging/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// SQLiteStore implements UserStore, ConversationStore and MessageStore on a
// single SQLite file. Timestamps are stored as unix nanoseconds so ordering
// and GREATEST-style comparisons stay numeric.
type SQLiteStore struct {
	db *sql.DB
}

var sqliteMigrations = []migration{
	{
		name: "create profiles table",
		sql: `
			CREATE TABLE IF NOT EXISTS profiles (
				id TEXT PRIMARY KEY,
				first_name TEXT NOT NULL DEFAULT '',
				last_name TEXT NOT NULL DEFAULT '',
				email TEXT NOT NULL UNIQUE COLLATE NOCASE,
				created_at INTEGER NOT NULL,
				updated_at INTEGER NOT NULL
			)
		`,
	},
	{
		name: "create conversations table",
		sql: `
			CREATE TABLE IF NOT EXISTS conversations (
				id TEXT PRIMARY KEY,
				participant_1 TEXT NOT NULL,
				participant_2 TEXT NOT NULL,
				last_message_at INTEGER,
				created_at INTEGER NOT NULL,
				CHECK (participant_1 <> participant_2)
			);
			CREATE UNIQUE INDEX IF NOT EXISTS conversations_pair_key
				ON conversations (min(participant_1, participant_2), max(participant_1, participant_2));
			CREATE INDEX IF NOT EXISTS idx_conversations_p1 ON conversations (participant_1);
			CREATE INDEX IF NOT EXISTS idx_conversations_p2 ON conversations (participant_2);
		`,
	},
	{
		name: "create messages table",
		sql: `
			CREATE TABLE IF NOT EXISTS messages (
				id TEXT PRIMARY KEY,
				conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
				sender_id TEXT NOT NULL,
				content TEXT NOT NULL,
				created_at INTEGER NOT NULL,
				read_at INTEGER
			);
			CREATE INDEX IF NOT EXISTS idx_messages_conversation_created
				ON messages (conversation_id, created_at, id);
		`,
	},
}

// OpenSQLite creates or opens a SQLite database at path and migrates it.
// Use ":memory:" for a throwaway database.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", path, err)
	}
	// One writer at a time, and ":memory:" is per connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		log.Warn().Str("component", "store").Err(err).Msg("failed to enable WAL mode; continuing without WAL")
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	for i, m := range sqliteMigrations {
		version := i + 1
		var count int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_migrations WHERE version = ?", version).Scan(&count); err != nil {
			return fmt.Errorf("check migration %d: %w", version, err)
		}
		if count > 0 {
			continue
		}

		log.Debug().Str("component", "store").Int("version", version).Str("name", m.name).Msg("running migration")
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("migration %d (%s): %w", version, m.name, err)
		}
		if _, err := s.db.Exec("INSERT INTO schema_migrations (version) VALUES (?)", version); err != nil {
			return fmt.Errorf("record migration %d: %w", version, err)
		}
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr *sqlite.Error
	return errors.As(err, &sqliteErr) && sqliteErr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE
}

func toNanos(t time.Time) int64 {
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

func nullableTime(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromNanos(n.Int64)
	return &t
}

func nullableString(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	return &s.String
}

// --- users ---

func (s *SQLiteStore) CreateUser(ctx context.Context, user *models.User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO profiles (id, first_name, last_name, email, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, user.ID, user.FirstName, user.LastName, user.Email, toNanos(user.CreatedAt), toNanos(user.UpdatedAt))
	if err != nil {
		if isUniqueViolation(err) && strings.Contains(err.Error(), "profiles.email") {
			return ErrEmailExists
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	user := &models.User{}
	var createdAt, updatedAt int64
	err := s.db.QueryRowContext(ctx, `
		SELECT id, first_name, last_name, email, created_at, updated_at
		FROM profiles
		WHERE id = ?
	`, id).Scan(&user.ID, &user.FirstName, &user.LastName, &user.Email, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user by ID: %w", err)
	}
	user.CreatedAt = fromNanos(createdAt)
	user.UpdatedAt = fromNanos(updatedAt)
	return user, nil
}

func (s *SQLiteStore) SearchUsers(ctx context.Context, query string, limit int) ([]*models.User, error) {
	pattern := query + "%"
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, first_name, last_name, email, created_at, updated_at
		FROM profiles
		WHERE first_name LIKE ? OR last_name LIKE ? OR email LIKE ?
		ORDER BY first_name, last_name
		LIMIT ?
	`, pattern, pattern, pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search users: %w", err)
	}
	defer rows.Close()

	users := make([]*models.User, 0)
	for rows.Next() {
		u := &models.User{}
		var createdAt, updatedAt int64
		if err := rows.Scan(&u.ID, &u.FirstName, &u.LastName, &u.Email, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan user row: %w", err)
		}
		u.CreatedAt = fromNanos(createdAt)
		u.UpdatedAt = fromNanos(updatedAt)
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating user rows: %w", err)
	}
	return users, nil
}

// --- conversations ---

func scanSQLiteConversation(row interface{ Scan(...any) error }) (*models.Conversation, error) {
	conv := &models.Conversation{}
	var lastMessageAt sql.NullInt64
	var createdAt int64
	if err := row.Scan(&conv.ID, &conv.Participant1, &conv.Participant2, &lastMessageAt, &createdAt); err != nil {
		return nil, err
	}
	conv.LastMessageAt = nullableTime(lastMessageAt)
	conv.CreatedAt = fromNanos(createdAt)
	return conv, nil
}

func (s *SQLiteStore) CreateConversation(ctx context.Context, initiatorID, recipientID uuid.UUID) (*models.Conversation, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate conversation id: %w", err)
	}
	conv := &models.Conversation{
		ID:           id,
		Participant1: initiatorID,
		Participant2: recipientID,
		CreatedAt:    models.ServerTime(time.Now()),
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO conversations (id, participant_1, participant_2, created_at)
		VALUES (?, ?, ?, ?)
	`, conv.ID, conv.Participant1, conv.Participant2, toNanos(conv.CreatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrConversationExists
		}
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}
	return conv, nil
}

func (s *SQLiteStore) GetConversationByID(ctx context.Context, id uuid.UUID) (*models.Conversation, error) {
	conv, err := scanSQLiteConversation(s.db.QueryRowContext(ctx, `
		SELECT id, participant_1, participant_2, last_message_at, created_at
		FROM conversations
		WHERE id = ?
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrConversationNotFound
		}
		return nil, fmt.Errorf("failed to get conversation by ID %s: %w", id, err)
	}
	return conv, nil
}

func (s *SQLiteStore) GetConversationByParticipants(ctx context.Context, a, b uuid.UUID) (*models.Conversation, error) {
	conv, err := scanSQLiteConversation(s.db.QueryRowContext(ctx, `
		SELECT id, participant_1, participant_2, last_message_at, created_at
		FROM conversations
		WHERE (participant_1 = ? AND participant_2 = ?)
		   OR (participant_1 = ? AND participant_2 = ?)
		LIMIT 1
	`, a, b, b, a))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrConversationNotFound
		}
		return nil, fmt.Errorf("failed to get conversation by participants: %w", err)
	}
	return conv, nil
}

func (s *SQLiteStore) ListConversationsForUser(ctx context.Context, userID uuid.UUID) ([]*models.ConversationSummary, error) {
	query := `
WITH user_conversations AS (
    SELECT
        c.id, c.participant_1, c.participant_2, c.last_message_at, c.created_at,
        CASE WHEN c.participant_1 = ? THEN c.participant_2 ELSE c.participant_1 END AS other_id
    FROM conversations c
    WHERE c.participant_1 = ? OR c.participant_2 = ?
),
ranked_messages AS (
    SELECT
        m.conversation_id, m.id, m.content, m.sender_id, m.created_at,
        ROW_NUMBER() OVER (PARTITION BY m.conversation_id ORDER BY m.created_at DESC, m.id DESC) AS rn
    FROM messages m
    WHERE m.conversation_id IN (SELECT id FROM user_conversations)
),
unread AS (
    SELECT m.conversation_id, COUNT(*) AS n
    FROM messages m
    WHERE m.conversation_id IN (SELECT id FROM user_conversations)
      AND m.sender_id <> ?
      AND m.read_at IS NULL
    GROUP BY m.conversation_id
)
SELECT
    uc.id, uc.participant_1, uc.participant_2, uc.last_message_at, uc.created_at,
    uc.other_id, p.first_name, p.last_name,
    lm.id, lm.content, lm.sender_id, lm.created_at,
    COALESCE(u.n, 0)
FROM user_conversations uc
LEFT JOIN profiles p ON p.id = uc.other_id
LEFT JOIN ranked_messages lm ON lm.conversation_id = uc.id AND lm.rn = 1
LEFT JOIN unread u ON u.conversation_id = uc.id
ORDER BY uc.last_message_at DESC NULLS LAST, uc.created_at DESC
`
	rows, err := s.db.QueryContext(ctx, query, userID, userID, userID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query user conversations: %w", err)
	}
	defer rows.Close()

	summaries := make([]*models.ConversationSummary, 0)
	for rows.Next() {
		var (
			summary       models.ConversationSummary
			lastMessageAt sql.NullInt64
			createdAt     int64
			otherID       uuid.UUID
			firstName     sql.NullString
			lastName      sql.NullString
			lmID          uuid.NullUUID
			lmContent     sql.NullString
			lmSenderID    uuid.NullUUID
			lmCreatedAt   sql.NullInt64
		)
		err := rows.Scan(
			&summary.ID, &summary.Participant1, &summary.Participant2, &lastMessageAt, &createdAt,
			&otherID, &firstName, &lastName,
			&lmID, &lmContent, &lmSenderID, &lmCreatedAt,
			&summary.UnreadCount,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user conversation row: %w", err)
		}
		summary.LastMessageAt = nullableTime(lastMessageAt)
		summary.CreatedAt = fromNanos(createdAt)
		summary.OtherParticipant = otherParticipantOrUnknown(otherID, nullableString(firstName), nullableString(lastName))
		if lmID.Valid {
			summary.LastMessage = &models.MessagePreview{
				ID:        lmID.UUID,
				Content:   lmContent.String,
				SenderID:  lmSenderID.UUID,
				CreatedAt: fromNanos(lmCreatedAt.Int64),
			}
		}
		summaries = append(summaries, &summary)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating user conversation rows: %w", err)
	}
	return summaries, nil
}

// --- messages ---

func (s *SQLiteStore) CreateMessage(ctx context.Context, message *models.Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	createdAt := toNanos(message.CreatedAt)
	result, err := tx.ExecContext(ctx, `
		UPDATE conversations
		SET last_message_at = max(COALESCE(last_message_at, ?), ?)
		WHERE id = ?
	`, createdAt, createdAt, message.ConversationID)
	if err != nil {
		return fmt.Errorf("failed to advance last_message_at for conversation %s: %w", message.ConversationID, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrConversationNotFound
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, sender_id, content, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, message.ID, message.ConversationID, message.SenderID, message.Content, createdAt)
	if err != nil {
		return fmt.Errorf("failed to create message: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListRecentMessages(ctx context.Context, conversationID uuid.UUID, limit int) ([]*models.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT * FROM (
			SELECT m.id, m.conversation_id, m.sender_id, m.content, m.created_at, m.read_at,
			       p.first_name, p.last_name
			FROM messages m
			LEFT JOIN profiles p ON p.id = m.sender_id
			WHERE m.conversation_id = ?
			ORDER BY m.created_at DESC, m.id DESC
			LIMIT ?
		)
		ORDER BY created_at ASC, id ASC
	`, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages by conversation ID: %w", err)
	}
	defer rows.Close()

	messages := make([]*models.Message, 0)
	for rows.Next() {
		var (
			msg                 models.Message
			createdAt           int64
			readAt              sql.NullInt64
			firstName, lastName sql.NullString
		)
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &msg.SenderID, &msg.Content, &createdAt, &readAt, &firstName, &lastName); err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		msg.CreatedAt = fromNanos(createdAt)
		msg.ReadAt = nullableTime(readAt)
		msg.SenderName = senderName(nullableString(firstName), nullableString(lastName))
		messages = append(messages, &msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating message rows: %w", err)
	}
	return messages, nil
}

func (s *SQLiteStore) MarkConversationRead(ctx context.Context, conversationID, viewerID uuid.UUID, readAt time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE messages
		SET read_at = ?
		WHERE conversation_id = ?
		  AND sender_id <> ?
		  AND read_at IS NULL
	`, toNanos(readAt), conversationID, viewerID)
	if err != nil {
		return 0, fmt.Errorf("failed to mark conversation %s read: %w", conversationID, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) CountUnreadForUser(ctx context.Context, userID uuid.UUID) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM messages m
		JOIN conversations c ON c.id = m.conversation_id
		WHERE (c.participant_1 = ? OR c.participant_2 = ?)
		  AND m.sender_id <> ?
		  AND m.read_at IS NULL
	`, userID, userID, userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to get unread message count: %w", err)
	}
	return count, nil
}
