package store

import (
	"context"
	"fmt"
	"time"

	"krewup-messaging/internal/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresMessageStore implements MessageStore with PostgreSQL.
type PostgresMessageStore struct {
	db *pgxpool.Pool
}

func NewPostgresMessageStore(db *pgxpool.Pool) *PostgresMessageStore {
	return &PostgresMessageStore{
		db: db,
	}
}

func scanMessageWithSender(row pgx.Row) (*models.Message, error) {
	var msg models.Message
	var firstName, lastName *string

	err := row.Scan(
		&msg.ID,
		&msg.ConversationID,
		&msg.SenderID,
		&msg.Content,
		&msg.CreatedAt,
		&msg.ReadAt,
		&firstName,
		&lastName,
	)
	if err != nil {
		return nil, err
	}
	msg.SenderName = senderName(firstName, lastName)
	return &msg, nil
}

func (s *PostgresMessageStore) CreateMessage(ctx context.Context, message *models.Message) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
        INSERT INTO messages (id, conversation_id, sender_id, content, created_at)
        VALUES ($1, $2, $3, $4, $5)
    `,
		message.ID,
		message.ConversationID,
		message.SenderID,
		message.Content,
		message.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create message: %w", err)
	}

	result, err := tx.Exec(ctx, `
        UPDATE conversations
        SET last_message_at = GREATEST(COALESCE(last_message_at, $2), $2)
        WHERE id = $1
    `, message.ConversationID, message.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to advance last_message_at for conversation %s: %w", message.ConversationID, err)
	}
	if result.RowsAffected() == 0 {
		return ErrConversationNotFound
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *PostgresMessageStore) ListRecentMessages(ctx context.Context, conversationID uuid.UUID, limit int) ([]*models.Message, error) {
	query := `
        SELECT * FROM (
            SELECT
                m.id, m.conversation_id, m.sender_id, m.content, m.created_at, m.read_at,
                p.first_name, p.last_name
            FROM messages m
            LEFT JOIN profiles p ON p.id = m.sender_id
            WHERE m.conversation_id = $1
            ORDER BY m.created_at DESC, m.id DESC
            LIMIT $2
        ) recent
        ORDER BY recent.created_at ASC, recent.id ASC
    `
	rows, err := s.db.Query(ctx, query, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages by conversation ID: %w", err)
	}
	defer rows.Close()

	messages := make([]*models.Message, 0)
	for rows.Next() {
		msg, err := scanMessageWithSender(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		messages = append(messages, msg)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating message rows: %w", err)
	}

	return messages, nil
}

func (s *PostgresMessageStore) MarkConversationRead(ctx context.Context, conversationID, viewerID uuid.UUID, readAt time.Time) (int64, error) {
	query := `
        UPDATE messages
        SET read_at = $3
        WHERE conversation_id = $1
          AND sender_id <> $2
          AND read_at IS NULL
    `
	result, err := s.db.Exec(ctx, query, conversationID, viewerID, readAt)
	if err != nil {
		return 0, fmt.Errorf("failed to mark conversation %s read: %w", conversationID, err)
	}
	return result.RowsAffected(), nil
}

func (s *PostgresMessageStore) CountUnreadForUser(ctx context.Context, userID uuid.UUID) (int, error) {
	query := `
        SELECT COUNT(*)
        FROM messages m
        JOIN conversations c ON c.id = m.conversation_id
        WHERE (c.participant_1 = $1 OR c.participant_2 = $1)
          AND m.sender_id <> $1
          AND m.read_at IS NULL
    `
	var count int
	err := s.db.QueryRow(ctx, query, userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to get unread message count: %w", err)
	}
	return count, nil
}
