package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"

	"github.com/mtlprog/swarmmarket/internal/auth"
	"github.com/mtlprog/swarmmarket/internal/domain"
	"github.com/mtlprog/swarmmarket/internal/repository"
)

// recentEventLimit is the number of listing events shown on the dashboard.
const recentEventLimit = 10

// Dashboard is the seller overview of a user.
type Dashboard struct {
	Stats          *repository.OwnerStatsResult
	UnreadMessages int
	Listings       []*domain.ListingStats
	RecentEvents   []*domain.ListingEvent
}

// UserService handles registration, login and the user dashboard.
type UserService struct {
	userRepo    *repository.UserRepository
	listingRepo *repository.ListingRepository
	taskRepo    *repository.TaskRepository
	eventRepo   *repository.TaskEventRepository
	messageRepo *repository.MessageRepository
	tokens      *auth.TokenIssuer
}

// NewUserService creates a new UserService.
func NewUserService(
	userRepo *repository.UserRepository,
	listingRepo *repository.ListingRepository,
	taskRepo *repository.TaskRepository,
	eventRepo *repository.TaskEventRepository,
	messageRepo *repository.MessageRepository,
	tokens *auth.TokenIssuer,
) *UserService {
	return &UserService{
		userRepo:    userRepo,
		listingRepo: listingRepo,
		taskRepo:    taskRepo,
		eventRepo:   eventRepo,
		messageRepo: messageRepo,
		tokens:      tokens,
	}
}

// Register creates an account and returns it with an access token.
func (s *UserService) Register(
	ctx context.Context,
	email string,
	password string,
	displayName *string,
) (*domain.User, string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, "", fmt.Errorf("%w: invalid email address", domain.ErrValidation)
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, "", err
	}

	if displayName != nil {
		trimmed := strings.TrimSpace(*displayName)
		displayName = &trimmed
		if trimmed == "" {
			displayName = nil
		}
	}

	user := &domain.User{
		Email:        email,
		PasswordHash: hash,
		DisplayName:  displayName,
	}
	if err := s.userRepo.Create(ctx, user); err != nil {
		return nil, "", err
	}

	token, err := s.tokens.Issue(user.ID)
	if err != nil {
		return nil, "", err
	}

	slog.Info("user registered", "user_id", user.ID)

	return user, token, nil
}

// Login checks credentials and returns the user with a fresh access token.
func (s *UserService) Login(ctx context.Context, email, password string) (*domain.User, string, error) {
	user, err := s.userRepo.GetByEmail(ctx, email)
	if errors.Is(err, domain.ErrUserNotFound) {
		return nil, "", domain.ErrInvalidCredentials
	}
	if err != nil {
		return nil, "", err
	}

	if err := auth.CheckPassword(user.PasswordHash, password); err != nil {
		return nil, "", err
	}

	token, err := s.tokens.Issue(user.ID)
	if err != nil {
		return nil, "", err
	}

	slog.Info("user logged in", "user_id", user.ID)

	return user, token, nil
}

// Authenticate resolves an access token to its user.
func (s *UserService) Authenticate(ctx context.Context, token string) (*domain.User, error) {
	userID, err := s.tokens.Parse(token)
	if err != nil {
		return nil, err
	}

	user, err := s.userRepo.GetByID(ctx, userID)
	if errors.Is(err, domain.ErrUserNotFound) {
		return nil, fmt.Errorf("%w: unknown subject", domain.ErrInvalidToken)
	}
	return user, err
}

// Dashboard collects the seller overview of a user.
func (s *UserService) Dashboard(ctx context.Context, userID string) (*Dashboard, error) {
	stats, err := s.taskRepo.GetOwnerStats(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get owner stats: %w", err)
	}

	unread, err := s.messageRepo.CountUnread(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("count unread messages: %w", err)
	}

	listings, err := s.listingRepo.ListByOwner(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list owner listings: %w", err)
	}

	events, err := s.eventRepo.RecentForOwner(ctx, userID, recentEventLimit)
	if err != nil {
		return nil, fmt.Errorf("list recent events: %w", err)
	}

	return &Dashboard{
		Stats:          stats,
		UnreadMessages: unread,
		Listings:       listings,
		RecentEvents:   events,
	}, nil
}
