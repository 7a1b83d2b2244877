package service_test

import (
	"context"
	"os"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/suite"

	"github.com/mtlprog/swarmmarket/internal/database"
	"github.com/mtlprog/swarmmarket/internal/domain"
	"github.com/mtlprog/swarmmarket/internal/webhook"
)

// Fixture ids seeded before every test.
const (
	buyerID    = "00000000-0000-0000-0000-000000000011"
	ownerID    = "00000000-0000-0000-0000-000000000012"
	strangerID = "00000000-0000-0000-0000-000000000013"
	listingID  = "00000000-0000-0000-0000-000000000021"
)

// dbSuite connects to DATABASE_URL, migrates, and reseeds fixtures for each test.
type dbSuite struct {
	suite.Suite
	pool *pgxpool.Pool
}

// SetupSuite runs once before all tests.
func (s *dbSuite) SetupSuite() {
	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		s.T().Skip("DATABASE_URL not set")
	}

	ctx := context.Background()

	db, err := database.New(ctx, databaseURL)
	s.Require().NoError(err, "failed to connect to database")
	s.pool = db.Pool()

	_, err = database.RunMigrations(ctx, s.pool)
	s.Require().NoError(err, "failed to run migrations")
}

// SetupTest runs before each test.
func (s *dbSuite) SetupTest() {
	ctx := context.Background()

	s.Require().NoError(database.Truncate(ctx, s.pool), "failed to truncate tables")

	_, err := s.pool.Exec(ctx, `
		INSERT INTO users (id, email, password_hash, display_name)
		VALUES
			($1, 'buyer@example.com', 'x', 'Buyer'),
			($2, 'owner@example.com', 'x', 'Owner'),
			($3, 'stranger@example.com', 'x', NULL)
	`, buyerID, ownerID, strangerID)
	s.Require().NoError(err, "failed to create users")

	_, err = s.pool.Exec(ctx, `
		INSERT INTO listings (id, owner_id, name, slug, category)
		VALUES ($1, $2, 'Research Bot', 'research-bot', 'research')
	`, listingID, ownerID)
	s.Require().NoError(err, "failed to create listing")
}

// TearDownSuite runs once after all tests.
func (s *dbSuite) TearDownSuite() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// configureWebhook points the fixture listing at url with auto-accept on.
func (s *dbSuite) configureWebhook(url string, autoAccept bool) {
	_, err := s.pool.Exec(context.Background(), `
		UPDATE listings
		SET webhook_url = $2, webhook_secret = 'whsec_fixture', webhook_status = 'connected',
			auto_accept_tasks = $3
		WHERE id = $1
	`, listingID, url, autoAccept)
	s.Require().NoError(err, "failed to configure webhook")
}

// createTask inserts a task on the fixture listing in the given status.
func (s *dbSuite) createTask(status domain.TaskStatus, budgetCents int64) string {
	ctx := context.Background()

	var taskID string
	err := s.pool.QueryRow(ctx, `
		INSERT INTO tasks (buyer_id, listing_id, title, category, budget_cents, status)
		VALUES ($1, $2, 'Test Task', 'research', $3, $4)
		RETURNING id
	`, buyerID, listingID, budgetCents, status).Scan(&taskID)
	s.Require().NoError(err, "failed to create task")

	_, err = s.pool.Exec(ctx, `
		INSERT INTO task_events (task_id, actor_id, event_type, data)
		VALUES ($1, $2, 'created', '{}')
	`, taskID, buyerID)
	s.Require().NoError(err, "failed to create event")

	return taskID
}

// listingCounters reads the lifecycle aggregates of the fixture listing.
func (s *dbSuite) listingCounters() (hires, completed int, earned int64) {
	err := s.pool.QueryRow(context.Background(), `
		SELECT total_hires, tasks_completed, total_earned_cents FROM listings WHERE id = $1
	`, listingID).Scan(&hires, &completed, &earned)
	s.Require().NoError(err)
	return hires, completed, earned
}

// eventTypes returns the event log of a task in order.
func (s *dbSuite) eventTypes(taskID string) []string {
	rows, err := s.pool.Query(context.Background(),
		`SELECT event_type FROM task_events WHERE task_id = $1 ORDER BY seq`, taskID)
	s.Require().NoError(err)
	defer rows.Close()

	var types []string
	for rows.Next() {
		var t string
		s.Require().NoError(rows.Scan(&t))
		types = append(types, t)
	}
	s.Require().NoError(rows.Err())
	return types
}

// fakeNotifier records deliveries and pings instead of sending them.
type fakeNotifier struct {
	mu        sync.Mutex
	err       error
	delivered []string
	pinged    []webhook.Target
}

func (f *fakeNotifier) DeliverTask(_ context.Context, target webhook.Target, task *domain.Task) (*webhook.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delivered = append(f.delivered, task.ID)
	return &webhook.Result{DeliveryID: "delivery-" + task.ID, Attempts: 1}, f.err
}

func (f *fakeNotifier) Ping(_ context.Context, target webhook.Target) (*webhook.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pinged = append(f.pinged, target)
	return &webhook.Result{DeliveryID: "ping", Attempts: 1, StatusCode: 200}, f.err
}

func (f *fakeNotifier) deliveries() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.delivered...)
}
