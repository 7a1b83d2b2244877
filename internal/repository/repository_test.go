package repository_test

import (
	"context"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/suite"

	"github.com/mtlprog/swarmmarket/internal/database"
	"github.com/mtlprog/swarmmarket/internal/domain"
	"github.com/mtlprog/swarmmarket/internal/repository"
)

const (
	ownerID = "00000000-0000-0000-0000-000000000012"
	buyerID = "00000000-0000-0000-0000-000000000011"
	botID   = "00000000-0000-0000-0000-000000000021"
	scoutID = "00000000-0000-0000-0000-000000000022"
	idleID  = "00000000-0000-0000-0000-000000000023"
)

type RepositoryTestSuite struct {
	suite.Suite
	pool     *pgxpool.Pool
	listings *repository.ListingRepository
	tasks    *repository.TaskRepository
	events   *repository.TaskEventRepository
}

func (s *RepositoryTestSuite) SetupSuite() {
	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		s.T().Skip("DATABASE_URL not set")
	}

	ctx := context.Background()

	db, err := database.New(ctx, databaseURL)
	s.Require().NoError(err)
	s.pool = db.Pool()

	_, err = database.RunMigrations(ctx, s.pool)
	s.Require().NoError(err)

	s.listings = repository.NewListingRepository(s.pool)
	s.tasks = repository.NewTaskRepository(s.pool)
	s.events = repository.NewTaskEventRepository(s.pool)
}

func (s *RepositoryTestSuite) SetupTest() {
	ctx := context.Background()

	s.Require().NoError(database.Truncate(ctx, s.pool))

	_, err := s.pool.Exec(ctx, `
		INSERT INTO users (id, email, password_hash)
		VALUES ($1, 'owner@example.com', 'x'), ($2, 'buyer@example.com', 'x')
	`, ownerID, buyerID)
	s.Require().NoError(err)

	_, err = s.pool.Exec(ctx, `
		INSERT INTO listings (id, owner_id, name, slug, category, tagline,
			total_hires, tasks_completed, total_earned_cents, is_docked, is_featured)
		VALUES
			($2, $1, 'Research Bot', 'research-bot', 'research', 'Deep literature review', 7, 5, 12000, true, false),
			($3, $1, 'Scout', 'scout', 'data', 'Web scraping', 3, 2, 40000, true, true),
			($4, $1, 'Idle', 'idle', 'research', NULL, 0, 0, 0, false, false)
	`, ownerID, botID, scoutID, idleID)
	s.Require().NoError(err)
}

func (s *RepositoryTestSuite) TearDownSuite() {
	if s.pool != nil {
		s.pool.Close()
	}
}

func TestRepositorySuite(t *testing.T) {
	suite.Run(t, new(RepositoryTestSuite))
}

func (s *RepositoryTestSuite) newTask(status domain.TaskStatus) *domain.Task {
	ctx := context.Background()

	tx, err := s.pool.Begin(ctx)
	s.Require().NoError(err)
	defer func() { _ = tx.Rollback(ctx) }()

	listingID := botID
	task := &domain.Task{
		BuyerID:     buyerID,
		ListingID:   &listingID,
		Title:       "Summarize",
		Category:    "research",
		BudgetCents: 500,
		Currency:    "usd",
		Status:      status,
	}
	_, err = s.tasks.Create(ctx, tx, task)
	s.Require().NoError(err)
	s.Require().NoError(tx.Commit(ctx))
	return task
}

func (s *RepositoryTestSuite) TestBrowse_FiltersDockedListings() {
	ctx := context.Background()

	listings, total, err := s.listings.Browse(ctx, repository.ListingFilters{Limit: 10})
	s.Require().NoError(err)
	s.Equal(2, total)
	s.Len(listings, 2)

	listings, total, err = s.listings.Browse(ctx, repository.ListingFilters{Category: "research", Limit: 10})
	s.Require().NoError(err)
	s.Equal(1, total)
	s.Equal("research-bot", listings[0].Listing.Slug)

	listings, _, err = s.listings.Browse(ctx, repository.ListingFilters{Search: "SCRAP", Limit: 10})
	s.Require().NoError(err)
	s.Require().Len(listings, 1)
	s.Equal("scout", listings[0].Listing.Slug)

	listings, _, err = s.listings.Browse(ctx, repository.ListingFilters{Sort: repository.ListingSortHires, Limit: 10})
	s.Require().NoError(err)
	s.Require().Len(listings, 2)
	s.Equal("research-bot", listings[0].Listing.Slug)
}

func (s *RepositoryTestSuite) TestGetStats_BySlugOrID() {
	ctx := context.Background()

	bySlug, err := s.listings.GetStats(ctx, "scout")
	s.Require().NoError(err)
	s.Equal(scoutID, bySlug.Listing.ID)

	byID, err := s.listings.GetStats(ctx, scoutID)
	s.Require().NoError(err)
	s.Equal("scout", byID.Listing.Slug)

	_, err = s.listings.GetStats(ctx, "missing")
	s.ErrorIs(err, domain.ErrListingNotFound)
}

func (s *RepositoryTestSuite) TestTopEarners_OrderedByEarnings() {
	earners, err := s.listings.TopEarners(context.Background(), 2)
	s.Require().NoError(err)
	s.Require().Len(earners, 2)
	s.Equal("scout", earners[0].Slug)
	s.Equal(int64(40000), earners[0].TotalEarnedCents)
	s.Equal("research-bot", earners[1].Slug)
}

func (s *RepositoryTestSuite) TestCreditCompletion_FoldsRating() {
	ctx := context.Background()

	for _, rating := range []int{5, 2} {
		tx, err := s.pool.Begin(ctx)
		s.Require().NoError(err)
		r := rating
		s.Require().NoError(s.listings.CreditCompletion(ctx, tx, botID, 1000, &r))
		s.Require().NoError(tx.Commit(ctx))
	}

	listing, err := s.listings.GetByID(ctx, botID)
	s.Require().NoError(err)
	s.Equal(7, listing.TasksCompleted)
	s.Equal(int64(14000), listing.TotalEarnedCents)
	s.Equal(2, listing.RatingCount)
	s.Require().NotNil(listing.AvgRating)
	s.InDelta(3.5, *listing.AvgRating, 0.001)
}

func (s *RepositoryTestSuite) TestSave_OptimisticGuard() {
	ctx := context.Background()
	task := s.newTask(domain.TaskStatusAssigned)

	tx, err := s.pool.Begin(ctx)
	s.Require().NoError(err)
	defer func() { _ = tx.Rollback(ctx) }()

	task.Status = domain.TaskStatusDispatched
	err = s.tasks.Save(ctx, tx, task, domain.TaskStatusPosted)
	s.ErrorIs(err, domain.ErrTaskStateChanged)
}

func (s *RepositoryTestSuite) TestEvents_OrderedBySeq() {
	ctx := context.Background()
	task := s.newTask(domain.TaskStatusAssigned)

	tx, err := s.pool.Begin(ctx)
	s.Require().NoError(err)
	for _, eventType := range []domain.EventType{domain.EventTypeCreated, domain.EventTypeDispatched, domain.EventTypeProgress} {
		s.Require().NoError(s.events.Create(ctx, tx, &domain.TaskEvent{
			TaskID: task.ID,
			Type:   eventType,
			Data:   map[string]any{"step": string(eventType)},
		}))
	}
	s.Require().NoError(tx.Commit(ctx))

	events, err := s.events.GetByTaskID(ctx, task.ID)
	s.Require().NoError(err)
	s.Require().Len(events, 3)
	s.Equal(domain.EventTypeCreated, events[0].Type)
	s.Equal(domain.EventTypeProgress, events[2].Type)
	s.Less(events[0].Seq, events[1].Seq)
	s.Less(events[1].Seq, events[2].Seq)
	s.Equal("progress", events[2].Data["step"])
	s.True(events[2].IsSystemEvent())
}

func (s *RepositoryTestSuite) TestOwnerStats() {
	s.newTask(domain.TaskStatusAssigned)
	s.newTask(domain.TaskStatusDispatched)
	s.newTask(domain.TaskStatusCompleted)

	stats, err := s.tasks.GetOwnerStats(context.Background(), ownerID)
	s.Require().NoError(err)
	s.Equal(3, stats.ListingCount)
	s.Equal(int64(52000), stats.TotalEarnedCents)
	s.Equal(1, stats.ActiveTaskCount)
	s.Equal(1, stats.TasksByStatus[string(domain.TaskStatusCompleted)])
}
