package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mtlprog/swarmmarket/internal/domain"
	"github.com/mtlprog/swarmmarket/internal/repository"
)

// ConversationService manages buyer and listing-owner message threads.
type ConversationService struct {
	pool             *pgxpool.Pool
	conversationRepo *repository.ConversationRepository
	messageRepo      *repository.MessageRepository
	listingRepo      *repository.ListingRepository
	now              func() time.Time
}

// NewConversationService creates a new ConversationService.
func NewConversationService(
	pool *pgxpool.Pool,
	conversationRepo *repository.ConversationRepository,
	messageRepo *repository.MessageRepository,
	listingRepo *repository.ListingRepository,
) *ConversationService {
	return &ConversationService{
		pool:             pool,
		conversationRepo: conversationRepo,
		messageRepo:      messageRepo,
		listingRepo:      listingRepo,
		now:              time.Now,
	}
}

func cleanContent(content string) (string, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return "", fmt.Errorf("%w: message content is required", domain.ErrValidation)
	}
	if err := checkText("content", content); err != nil {
		return "", err
	}
	return content, nil
}

// Start opens a conversation with the owner of a listing and sends the first message.
func (s *ConversationService) Start(
	ctx context.Context,
	initiatorID string,
	listingID string,
	subject *string,
	content string,
) (*domain.Conversation, *domain.Message, error) {
	content, err := cleanContent(content)
	if err != nil {
		return nil, nil, err
	}

	listing, err := s.listingRepo.GetByID(ctx, listingID)
	if err != nil {
		return nil, nil, err
	}
	if listing.IsOwnedBy(initiatorID) {
		return nil, nil, domain.ErrSelfConversation
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer rollback(ctx, tx)

	conversation := &domain.Conversation{
		ListingID:   listing.ID,
		InitiatorID: initiatorID,
		OwnerID:     listing.OwnerID,
		Subject:     subject,
	}
	conversation.MarkSentBy(initiatorID, s.now())

	if err := s.conversationRepo.Create(ctx, tx, conversation); err != nil {
		return nil, nil, err
	}

	message := &domain.Message{
		ConversationID: conversation.ID,
		SenderID:       initiatorID,
		Content:        content,
	}
	if err := s.messageRepo.Create(ctx, tx, message); err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, fmt.Errorf("commit transaction: %w", err)
	}

	slog.Info("conversation started",
		"conversation_id", conversation.ID,
		"listing_id", listing.ID,
		"initiator_id", initiatorID,
	)

	return conversation, message, nil
}

// Send appends a message and flips the read flags toward the recipient.
func (s *ConversationService) Send(
	ctx context.Context,
	conversationID string,
	senderID string,
	content string,
) (*domain.Message, error) {
	content, err := cleanContent(content)
	if err != nil {
		return nil, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer rollback(ctx, tx)

	conversation, err := s.conversationRepo.GetByIDForUpdate(ctx, tx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conversation.HasParticipant(senderID) {
		return nil, fmt.Errorf("%w: user %s in conversation %s", domain.ErrNotParticipant, senderID, conversationID)
	}

	message := &domain.Message{
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
	}
	if err := s.messageRepo.Create(ctx, tx, message); err != nil {
		return nil, err
	}

	conversation.MarkSentBy(senderID, message.CreatedAt)
	if err := s.conversationRepo.SaveActivity(ctx, tx, conversation); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	slog.Info("message sent",
		"conversation_id", conversationID,
		"sender_id", senderID,
		"message_id", message.ID,
	)

	return message, nil
}

// MarkRead marks the conversation and the other party's messages read for viewerID.
func (s *ConversationService) MarkRead(ctx context.Context, conversationID, viewerID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer rollback(ctx, tx)

	conversation, err := s.conversationRepo.GetByIDForUpdate(ctx, tx, conversationID)
	if err != nil {
		return err
	}
	if !conversation.HasParticipant(viewerID) {
		return fmt.Errorf("%w: user %s in conversation %s", domain.ErrNotParticipant, viewerID, conversationID)
	}

	conversation.MarkReadBy(viewerID)
	if err := s.conversationRepo.SaveActivity(ctx, tx, conversation); err != nil {
		return err
	}

	marked, err := s.messageRepo.MarkReadFor(ctx, tx, conversationID, viewerID)
	if err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	slog.Debug("conversation read",
		"conversation_id", conversationID,
		"user_id", viewerID,
		"messages", marked,
	)

	return nil
}

// List returns the user's conversations, most recent activity first.
func (s *ConversationService) List(ctx context.Context, userID string) ([]*domain.ConversationSummary, error) {
	return s.conversationRepo.ListForUser(ctx, userID)
}

// Get returns a conversation summary and its messages for a participant.
func (s *ConversationService) Get(
	ctx context.Context,
	conversationID string,
	viewerID string,
) (*domain.ConversationSummary, []*domain.Message, error) {
	summary, err := s.conversationRepo.GetSummary(ctx, conversationID, viewerID)
	if err != nil {
		return nil, nil, err
	}
	if !summary.Conversation.HasParticipant(viewerID) {
		return nil, nil, fmt.Errorf("%w: user %s in conversation %s", domain.ErrNotParticipant, viewerID, conversationID)
	}

	messages, err := s.messageRepo.ListByConversation(ctx, conversationID)
	if err != nil {
		return nil, nil, err
	}

	return summary, messages, nil
}
