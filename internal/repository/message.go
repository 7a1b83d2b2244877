package repository

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mtlprog/swarmmarket/internal/domain"
)

// MessageRepository handles database operations for conversation messages.
type MessageRepository struct {
	pool *pgxpool.Pool
}

// NewMessageRepository creates a new MessageRepository.
func NewMessageRepository(pool *pgxpool.Pool) *MessageRepository {
	return &MessageRepository{pool: pool}
}

// Create inserts a message within a transaction.
func (r *MessageRepository) Create(ctx context.Context, tx pgx.Tx, message *domain.Message) error {
	query, args, err := psql.
		Insert("messages").
		Columns("conversation_id", "sender_id", "content").
		Values(message.ConversationID, message.SenderID, message.Content).
		Suffix("RETURNING id, is_read, created_at").
		ToSql()
	if err != nil {
		return fmt.Errorf("build Create query for message: %w", err)
	}

	if err := tx.QueryRow(ctx, query, args...).Scan(&message.ID, &message.IsRead, &message.CreatedAt); err != nil {
		return fmt.Errorf("create message: %w", err)
	}
	return nil
}

// ListByConversation returns the messages of a conversation, oldest first.
func (r *MessageRepository) ListByConversation(ctx context.Context, conversationID string) ([]*domain.Message, error) {
	query, args, err := psql.
		Select("id", "conversation_id", "sender_id", "content", "is_read", "created_at").
		From("messages").
		Where(sq.Eq{"conversation_id": conversationID}).
		OrderBy("created_at ASC", "id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build ListByConversation query: %w", err)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	messages := []*domain.Message{}
	for rows.Next() {
		var message domain.Message
		err := rows.Scan(
			&message.ID,
			&message.ConversationID,
			&message.SenderID,
			&message.Content,
			&message.IsRead,
			&message.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, &message)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return messages, nil
}

// MarkReadFor marks every message in the conversation not sent by viewerID as read.
func (r *MessageRepository) MarkReadFor(ctx context.Context, tx pgx.Tx, conversationID, viewerID string) (int64, error) {
	query, args, err := psql.
		Update("messages").
		Set("is_read", true).
		Where(sq.Eq{"conversation_id": conversationID, "is_read": false}).
		Where(sq.NotEq{"sender_id": viewerID}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build MarkReadFor query for conversation %s: %w", conversationID, err)
	}

	tag, err := tx.Exec(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("mark messages read: %w", err)
	}
	return tag.RowsAffected(), nil
}

// CountUnread counts unread messages addressed to the user across all conversations.
func (r *MessageRepository) CountUnread(ctx context.Context, userID string) (int, error) {
	query, args, err := psql.
		Select("COUNT(*)").
		From("messages m").
		Join("conversations c ON c.id = m.conversation_id").
		Where(sq.Or{
			sq.Eq{"c.initiator_id": userID},
			sq.Eq{"c.owner_id": userID},
		}).
		Where(sq.NotEq{"m.sender_id": userID}).
		Where(sq.Eq{"m.is_read": false}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build CountUnread query: %w", err)
	}

	var count int
	if err := r.pool.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count unread messages: %w", err)
	}
	return count, nil
}
