package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"krewup-messaging/internal/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresConversationStore implements ConversationStore with PostgreSQL.
type PostgresConversationStore struct {
	db *pgxpool.Pool
}

func NewPostgresConversationStore(db *pgxpool.Pool) *PostgresConversationStore {
	return &PostgresConversationStore{
		db: db,
	}
}

func (s *PostgresConversationStore) CreateConversation(ctx context.Context, initiatorID, recipientID uuid.UUID) (*models.Conversation, error) {
	query := `
		INSERT INTO conversations (id, participant_1, participant_2, created_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id, participant_1, participant_2, last_message_at, created_at
	`
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate conversation id: %w", err)
	}
	conv := &models.Conversation{}
	err = s.db.QueryRow(ctx, query, id, initiatorID, recipientID, models.ServerTime(time.Now())).Scan(
		&conv.ID,
		&conv.Participant1,
		&conv.Participant2,
		&conv.LastMessageAt,
		&conv.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ErrConversationExists
		}
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}
	return conv, nil
}

func (s *PostgresConversationStore) GetConversationByID(ctx context.Context, id uuid.UUID) (*models.Conversation, error) {
	query := `
		SELECT id, participant_1, participant_2, last_message_at, created_at
		FROM conversations
		WHERE id = $1
	`
	conv := &models.Conversation{}
	err := s.db.QueryRow(ctx, query, id).Scan(
		&conv.ID,
		&conv.Participant1,
		&conv.Participant2,
		&conv.LastMessageAt,
		&conv.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrConversationNotFound
		}
		return nil, fmt.Errorf("failed to get conversation by ID %s: %w", id, err)
	}
	return conv, nil
}

func (s *PostgresConversationStore) GetConversationByParticipants(ctx context.Context, a, b uuid.UUID) (*models.Conversation, error) {
	query := `
		SELECT id, participant_1, participant_2, last_message_at, created_at
		FROM conversations
		WHERE (participant_1 = $1 AND participant_2 = $2)
		   OR (participant_1 = $2 AND participant_2 = $1)
		LIMIT 1
	`
	conv := &models.Conversation{}
	err := s.db.QueryRow(ctx, query, a, b).Scan(
		&conv.ID,
		&conv.Participant1,
		&conv.Participant2,
		&conv.LastMessageAt,
		&conv.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrConversationNotFound
		}
		return nil, fmt.Errorf("failed to get conversation by participants: %w", err)
	}
	return conv, nil
}

func (s *PostgresConversationStore) ListConversationsForUser(ctx context.Context, userID uuid.UUID) ([]*models.ConversationSummary, error) {
	query := `
WITH user_conversations AS (
    SELECT
        c.id,
        c.participant_1,
        c.participant_2,
        c.last_message_at,
        c.created_at,
        CASE WHEN c.participant_1 = $1 THEN c.participant_2 ELSE c.participant_1 END AS other_id
    FROM conversations c
    WHERE c.participant_1 = $1 OR c.participant_2 = $1
)
SELECT
    uc.id,
    uc.participant_1,
    uc.participant_2,
    uc.last_message_at,
    uc.created_at,
    uc.other_id,
    p.first_name,
    p.last_name,
    lm.id,
    lm.content,
    lm.sender_id,
    lm.created_at,
    (
        SELECT COUNT(*)
        FROM messages um
        WHERE um.conversation_id = uc.id
          AND um.sender_id <> $1
          AND um.read_at IS NULL
    ) AS unread_count
FROM user_conversations uc
LEFT JOIN profiles p ON p.id = uc.other_id
LEFT JOIN LATERAL (
    SELECT m.id, m.content, m.sender_id, m.created_at
    FROM messages m
    WHERE m.conversation_id = uc.id
    ORDER BY m.created_at DESC, m.id DESC
    LIMIT 1
) lm ON TRUE
ORDER BY uc.last_message_at DESC NULLS LAST, uc.created_at DESC
	`

	rows, err := s.db.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query user conversations: %w", err)
	}
	defer rows.Close()

	summaries := make([]*models.ConversationSummary, 0)
	for rows.Next() {
		var (
			summary         models.ConversationSummary
			otherID         uuid.UUID
			firstName       *string
			lastName        *string
			lastMessageID   *uuid.UUID
			lastContent     *string
			lastSenderID    *uuid.UUID
			lastMessageTime *time.Time
		)
		err := rows.Scan(
			&summary.ID,
			&summary.Participant1,
			&summary.Participant2,
			&summary.LastMessageAt,
			&summary.CreatedAt,
			&otherID,
			&firstName,
			&lastName,
			&lastMessageID,
			&lastContent,
			&lastSenderID,
			&lastMessageTime,
			&summary.UnreadCount,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user conversation row: %w", err)
		}

		summary.OtherParticipant = otherParticipantOrUnknown(otherID, firstName, lastName)
		if lastMessageID != nil {
			summary.LastMessage = &models.MessagePreview{
				ID:        *lastMessageID,
				Content:   *lastContent,
				SenderID:  *lastSenderID,
				CreatedAt: *lastMessageTime,
			}
		}
		summaries = append(summaries, &summary)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating user conversation rows: %w", err)
	}
	return summaries, nil
}
