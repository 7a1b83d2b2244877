package repository

import (
	"context"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mtlprog/swarmmarket/internal/domain"
)

// previewLength is the number of characters of the last message shown in summaries.
const previewLength = 100

var conversationColumns = []string{
	"c.id", "c.listing_id", "c.initiator_id", "c.owner_id", "c.subject", "c.last_message_at",
	"c.is_read_by_owner", "c.is_read_by_initiator", "c.created_at",
}

// ConversationRepository handles database operations for conversations.
type ConversationRepository struct {
	pool *pgxpool.Pool
}

// NewConversationRepository creates a new ConversationRepository.
func NewConversationRepository(pool *pgxpool.Pool) *ConversationRepository {
	return &ConversationRepository{pool: pool}
}

func conversationDest(c *domain.Conversation) []any {
	return []any{
		&c.ID, &c.ListingID, &c.InitiatorID, &c.OwnerID, &c.Subject, &c.LastMessageAt,
		&c.IsReadByOwner, &c.IsReadByInitiator, &c.CreatedAt,
	}
}

func scanConversation(row pgx.Row) (*domain.Conversation, error) {
	var conversation domain.Conversation
	if err := row.Scan(conversationDest(&conversation)...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrConversationNotFound
		}
		return nil, fmt.Errorf("scan conversation: %w", err)
	}
	return &conversation, nil
}

// summaryQuery selects conversations as seen by viewerID.
func summaryQuery(viewerID string) sq.SelectBuilder {
	return psql.
		Select(conversationColumns...).
		Columns("l.name", "l.avatar_url").
		Column(sq.Expr("CASE WHEN c.owner_id = ? THEN ui.display_name ELSE uo.display_name END", viewerID)).
		Column(sq.Expr(
			"(SELECT LEFT(m.content, ?) FROM messages m WHERE m.conversation_id = c.id ORDER BY m.created_at DESC LIMIT 1)",
			previewLength,
		)).
		Column(sq.Expr(
			"(SELECT COUNT(*) FROM messages m WHERE m.conversation_id = c.id AND m.sender_id <> ? AND NOT m.is_read)",
			viewerID,
		)).
		From("conversations c").
		LeftJoin("listings l ON l.id = c.listing_id").
		LeftJoin("users ui ON ui.id = c.initiator_id").
		LeftJoin("users uo ON uo.id = c.owner_id")
}

func scanSummary(row pgx.Row) (*domain.ConversationSummary, error) {
	var (
		conversation domain.Conversation
		summary      domain.ConversationSummary
	)
	dest := conversationDest(&conversation)
	dest = append(dest,
		&summary.ListingName,
		&summary.ListingAvatarURL,
		&summary.OtherPartyName,
		&summary.LastMessagePreview,
		&summary.UnreadCount,
	)
	if err := row.Scan(dest...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrConversationNotFound
		}
		return nil, fmt.Errorf("scan conversation summary: %w", err)
	}
	summary.Conversation = &conversation
	return &summary, nil
}

// Create inserts a conversation within a transaction.
func (r *ConversationRepository) Create(ctx context.Context, tx pgx.Tx, conversation *domain.Conversation) error {
	query, args, err := psql.
		Insert("conversations").
		Columns(
			"listing_id", "initiator_id", "owner_id", "subject", "last_message_at",
			"is_read_by_owner", "is_read_by_initiator",
		).
		Values(
			conversation.ListingID,
			conversation.InitiatorID,
			conversation.OwnerID,
			conversation.Subject,
			conversation.LastMessageAt,
			conversation.IsReadByOwner,
			conversation.IsReadByInitiator,
		).
		Suffix("RETURNING id, created_at").
		ToSql()
	if err != nil {
		return fmt.Errorf("build Create query for conversation: %w", err)
	}

	if err := tx.QueryRow(ctx, query, args...).Scan(&conversation.ID, &conversation.CreatedAt); err != nil {
		return fmt.Errorf("create conversation: %w", err)
	}
	return nil
}

// GetByIDForUpdate retrieves a conversation with FOR UPDATE lock (within transaction).
func (r *ConversationRepository) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, conversationID string) (*domain.Conversation, error) {
	if !isUUID(conversationID) {
		return nil, domain.ErrConversationNotFound
	}

	query, args, err := psql.
		Select(conversationColumns...).
		From("conversations c").
		Where(sq.Eq{"c.id": conversationID}).
		Suffix("FOR UPDATE").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build GetByIDForUpdate query for conversation %s: %w", conversationID, err)
	}

	return scanConversation(tx.QueryRow(ctx, query, args...))
}

// SaveActivity writes the last-message timestamp and both read flags.
func (r *ConversationRepository) SaveActivity(ctx context.Context, tx pgx.Tx, conversation *domain.Conversation) error {
	query, args, err := psql.
		Update("conversations").
		Set("last_message_at", conversation.LastMessageAt).
		Set("is_read_by_owner", conversation.IsReadByOwner).
		Set("is_read_by_initiator", conversation.IsReadByInitiator).
		Where(sq.Eq{"id": conversation.ID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build SaveActivity query for conversation %s: %w", conversation.ID, err)
	}

	tag, err := tx.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update conversation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrConversationNotFound
	}
	return nil
}

// GetSummary retrieves one conversation as seen by viewerID.
func (r *ConversationRepository) GetSummary(ctx context.Context, conversationID, viewerID string) (*domain.ConversationSummary, error) {
	if !isUUID(conversationID) {
		return nil, domain.ErrConversationNotFound
	}

	query, args, err := summaryQuery(viewerID).
		Where(sq.Eq{"c.id": conversationID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build GetSummary query for conversation: %w", err)
	}

	return scanSummary(r.pool.QueryRow(ctx, query, args...))
}

// ListForUser returns every conversation the user takes part in, most recent activity first.
func (r *ConversationRepository) ListForUser(ctx context.Context, userID string) ([]*domain.ConversationSummary, error) {
	query, args, err := summaryQuery(userID).
		Where(sq.Or{
			sq.Eq{"c.initiator_id": userID},
			sq.Eq{"c.owner_id": userID},
		}).
		OrderBy("c.last_message_at DESC NULLS LAST", "c.created_at DESC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build ListForUser query: %w", err)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query conversations: %w", err)
	}
	defer rows.Close()

	summaries := []*domain.ConversationSummary{}
	for rows.Next() {
		summary, err := scanSummary(rows)
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, summary)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return summaries, nil
}
