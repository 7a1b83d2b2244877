package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/mtlprog/swarmmarket/internal/auth"
	"github.com/mtlprog/swarmmarket/internal/domain"
	"github.com/mtlprog/swarmmarket/internal/repository"
	"github.com/mtlprog/swarmmarket/internal/service"
)

// UserServiceTestSuite is the test suite for UserService.
type UserServiceTestSuite struct {
	dbSuite
	userService *service.UserService
	taskService *service.TaskService
}

// SetupTest runs before each test.
func (s *UserServiceTestSuite) SetupTest() {
	s.dbSuite.SetupTest()

	listingRepo := repository.NewListingRepository(s.pool)
	taskRepo := repository.NewTaskRepository(s.pool)
	eventRepo := repository.NewTaskEventRepository(s.pool)

	s.userService = service.NewUserService(
		repository.NewUserRepository(s.pool),
		listingRepo,
		taskRepo,
		eventRepo,
		repository.NewMessageRepository(s.pool),
		auth.NewTokenIssuer("test-secret", time.Hour),
	)
	s.taskService = service.NewTaskService(s.pool, taskRepo, eventRepo, listingRepo, nil)
}

func (s *UserServiceTestSuite) TestRegisterAndLogin() {
	ctx := context.Background()
	name := "  Ada  "

	user, token, err := s.userService.Register(ctx, " Ada@Example.com ", "correct horse", &name)
	s.Require().NoError(err)
	s.Equal("ada@example.com", user.Email)
	s.Require().NotNil(user.DisplayName)
	s.Equal("Ada", *user.DisplayName)
	s.NotEmpty(token)
	s.NotEqual("correct horse", user.PasswordHash)

	authenticated, err := s.userService.Authenticate(ctx, token)
	s.Require().NoError(err)
	s.Equal(user.ID, authenticated.ID)

	loggedIn, _, err := s.userService.Login(ctx, "ADA@example.com", "correct horse")
	s.Require().NoError(err)
	s.Equal(user.ID, loggedIn.ID)

	_, _, err = s.userService.Login(ctx, "ada@example.com", "wrong password")
	s.ErrorIs(err, domain.ErrInvalidCredentials)

	_, _, err = s.userService.Login(ctx, "nobody@example.com", "correct horse")
	s.ErrorIs(err, domain.ErrInvalidCredentials)
}

func (s *UserServiceTestSuite) TestRegister_Rejections() {
	ctx := context.Background()

	_, _, err := s.userService.Register(ctx, "buyer@example.com", "long enough", nil)
	s.ErrorIs(err, domain.ErrEmailTaken)

	_, _, err = s.userService.Register(ctx, "not-an-email", "long enough", nil)
	s.ErrorIs(err, domain.ErrValidation)

	_, _, err = s.userService.Register(ctx, "short@example.com", "short", nil)
	s.ErrorIs(err, domain.ErrValidation)
}

func (s *UserServiceTestSuite) TestAuthenticate_Invalid() {
	ctx := context.Background()

	_, err := s.userService.Authenticate(ctx, "garbage")
	s.ErrorIs(err, domain.ErrInvalidToken)

	other := auth.NewTokenIssuer("test-secret", time.Hour)
	token, err := other.Issue("00000000-0000-0000-0000-000000000099")
	s.Require().NoError(err)

	_, err = s.userService.Authenticate(ctx, token)
	s.ErrorIs(err, domain.ErrInvalidToken)
}

func (s *UserServiceTestSuite) TestDashboard() {
	ctx := context.Background()
	s.createTask(domain.TaskStatusInProgress, 0)
	completedID := s.createTask(domain.TaskStatusCompleted, 1500)

	_, err := s.taskService.AcceptResult(ctx, completedID, buyerID, nil, nil)
	s.Require().NoError(err)

	_, err = s.pool.Exec(ctx, `
		INSERT INTO conversations (id, listing_id, initiator_id, owner_id, last_message_at, is_read_by_owner)
		VALUES ('00000000-0000-0000-0000-000000000031', $1, $2, $3, NOW(), FALSE)
	`, listingID, buyerID, ownerID)
	s.Require().NoError(err)
	_, err = s.pool.Exec(ctx, `
		INSERT INTO messages (conversation_id, sender_id, content)
		VALUES ('00000000-0000-0000-0000-000000000031', $1, 'hello')
	`, buyerID)
	s.Require().NoError(err)

	dashboard, err := s.userService.Dashboard(ctx, ownerID)
	s.Require().NoError(err)

	s.Equal(1, dashboard.Stats.ListingCount)
	s.Equal(1, dashboard.Stats.ActiveTaskCount)
	s.Equal(int64(1500), dashboard.Stats.TotalEarnedCents)
	s.Equal(1, dashboard.Stats.TasksCompleted)
	s.Equal(1, dashboard.UnreadMessages)
	s.Require().Len(dashboard.Listings, 1)
	s.Equal(1, dashboard.Listings[0].ActiveTaskCount)
	s.Len(dashboard.RecentEvents, 3)
	s.Equal("Research Bot", dashboard.RecentEvents[0].ListingName)

	empty, err := s.userService.Dashboard(ctx, strangerID)
	s.Require().NoError(err)
	s.Equal(0, empty.Stats.ListingCount)
	s.Empty(empty.Listings)
	s.Empty(empty.RecentEvents)
}

func TestUserServiceTestSuite(t *testing.T) {
	suite.Run(t, new(UserServiceTestSuite))
}
