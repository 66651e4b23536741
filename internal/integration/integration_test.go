package integration

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/migrate"

	"prep-session-service/internal/app"
	"prep-session-service/internal/domain"
	pgstore "prep-session-service/internal/infra/postgres"
	pgmigrations "prep-session-service/internal/infra/postgres/migrations"
	infraredis "prep-session-service/internal/infra/redis"
	"prep-session-service/internal/ledger"
	"prep-session-service/internal/selector"
	"prep-session-service/internal/visibility"
)

func TestInterviewLifecycleEndToEnd(t *testing.T) {
	ctx := context.Background()

	pgURL, pgCleanup := startPostgres(t, ctx)
	defer pgCleanup()
	redisURL, redisCleanup := startRedis(t, ctx)
	defer redisCleanup()

	db := openBunDB(t, ctx, pgURL)
	defer db.Close()
	seedCatalog(t, ctx, db)

	pool, err := pgxpool.Connect(ctx, pgURL)
	if err != nil {
		t.Fatalf("connect pg: %v", err)
	}
	defer pool.Close()

	redisClient, err := redisClientFromURL(redisURL)
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}

	pgSessions := pgstore.NewSessionStore(db)
	answers := pgstore.NewAnswerStore(db)
	assignments := pgstore.NewAssignmentStore(db)
	catalog := infraredis.NewQuestionCatalog(redisClient, pgstore.NewQuestionLoader(pool), 5*time.Minute)
	credits := ledger.New(pgstore.NewLedgerStore(db))

	engine := app.New(app.Deps{
		Sessions:    infraredis.NewSessionStore(pgSessions, redisClient, 5*time.Minute),
		Answers:     answers,
		Assignments: assignments,
		Questions:   catalog,
		Selector:    selector.NewWithSeed(catalog, 7),
		Eligibility: visibility.New(assignments, pgSessions),
		Credits:     credits,
	}, app.Options{})

	if _, err := credits.Add(ctx, "u1", domain.TxPurchase, 2, "starter pack", "", nil); err != nil {
		t.Fatalf("grant: %v", err)
	}

	result, err := engine.StartInterview(ctx, "u1", "asg-1")
	if err != nil {
		t.Fatalf("start interview: %v", err)
	}
	if len(result.Session.QuestionIDs) != 2 {
		t.Fatalf("expected 2 questions, got %d", len(result.Session.QuestionIDs))
	}

	available, err := credits.Available(ctx, "u1")
	if err != nil {
		t.Fatalf("available: %v", err)
	}
	if available != 1 {
		t.Fatalf("expected 1 credit left after debit, got %d", available)
	}

	for _, questionID := range result.Session.QuestionIDs {
		question, err := catalog.Question(ctx, questionID)
		if err != nil {
			t.Fatalf("lookup %s: %v", questionID, err)
		}
		payload := app.AnswerPayload{}
		if question.Type == domain.QuestionWritten {
			payload.GivenText = question.OfficialAnswer
		} else {
			for _, opt := range question.Options {
				if opt.Correct {
					payload.SelectedOptionIDs = append(payload.SelectedOptionIDs, opt.ID)
				}
			}
		}
		if _, _, err := engine.SubmitAnswer(ctx, result.Session.ID, questionID, payload, 30); err != nil {
			t.Fatalf("submit %s: %v", questionID, err)
		}
	}

	finished, err := engine.Finish(ctx, result.Session.ID)
	if err != nil {
		t.Fatalf("finish: %v", err)
	}
	if finished.Status != domain.StatusCompleted {
		t.Fatalf("status = %s", finished.Status)
	}
	if finished.TotalScore != 2 {
		t.Fatalf("expected perfect score 2, got %v", finished.TotalScore)
	}

	// Finishing must have cleared the redis liveness key for the session.
	exists, err := redisClient.Exists(ctx, "session:active:"+result.Session.ID).Result()
	if err != nil {
		t.Fatalf("redis exists: %v", err)
	}
	if exists != 0 {
		t.Fatalf("liveness key still present after finish")
	}

	history, err := credits.History(ctx, "u1")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected purchase + consumption, got %d entries", len(history))
	}
	if history[0].Type != domain.TxConsumption || history[0].SourceRef != result.Session.ID {
		t.Fatalf("unexpected newest entry: %+v", history[0])
	}
}

func openBunDB(t *testing.T, ctx context.Context, dsn string) *bun.DB {
	t.Helper()
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	db := bun.NewDB(sqldb, pgdialect.New())

	migrator := migrate.NewMigrator(db, pgmigrations.Migrations)
	if err := migrator.Init(ctx); err != nil {
		t.Fatalf("migrator init: %v", err)
	}
	if _, err := migrator.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func seedCatalog(t *testing.T, ctx context.Context, db *bun.DB) {
	t.Helper()
	questions := []domain.Question{
		{
			ID: "q1", TopicID: "go-basics", Type: domain.QuestionSingleChoice, Level: domain.LevelBasic,
			Prompt: "Which function starts a goroutine?",
			Options: []domain.Option{
				{ID: "o1", Text: "go f()", Correct: true},
				{ID: "o2", Text: "spawn f()"},
			},
		},
		{
			ID: "q2", TopicID: "go-basics", Type: domain.QuestionWritten, Level: domain.LevelBasic,
			Prompt:         "What does the select statement do?",
			OfficialAnswer: "It waits on multiple channel operations and runs the first one that is ready",
		},
	}
	data, err := json.Marshal(questions)
	if err != nil {
		t.Fatalf("marshal questions: %v", err)
	}
	if _, err := db.ExecContext(ctx,
		`INSERT INTO question_topics (topic_id, data) VALUES (?, ?::jsonb)`,
		"go-basics", string(data)); err != nil {
		t.Fatalf("insert topic: %v", err)
	}

	criteria, err := json.Marshal(domain.SelectionCriteria{
		TopicIDs:     []string{"go-basics"},
		Levels:       []domain.QuestionLevel{domain.LevelBasic},
		CountSingle:  1,
		CountWritten: 1,
	})
	if err != nil {
		t.Fatalf("marshal criteria: %v", err)
	}
	if _, err := db.ExecContext(ctx,
		`INSERT INTO templates (id, name, criteria, navigation, interview_cost) VALUES (?, ?, ?::jsonb, ?, ?)`,
		"tpl-1", "Go basics", string(criteria), string(domain.NavigationLinear), 1); err != nil {
		t.Fatalf("insert template: %v", err)
	}
	if _, err := db.ExecContext(ctx,
		`INSERT INTO assignments (id, template_id, visibility) VALUES (?, ?, ?)`,
		"asg-1", "tpl-1", string(domain.VisibilityPublic)); err != nil {
		t.Fatalf("insert assignment: %v", err)
	}
}

func startPostgres(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "postgres:15-alpine",
		Env:          map[string]string{"POSTGRES_USER": "prep", "POSTGRES_PASSWORD": "preppass", "POSTGRES_DB": "prepdb"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForListeningPort("5432/tcp").WithStartupTimeout(60 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start postgres: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		t.Fatalf("port: %v", err)
	}
	dsn := fmt.Sprintf("postgres://prep:preppass@%s:%s/prepdb?sslmode=disable", host, port.Port())
	return dsn, func() {
		_ = container.Terminate(ctx)
	}
}

func startRedis(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(30 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start redis: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("redis host: %v", err)
	}
	port, err := container.MappedPort(ctx, "6379/tcp")
	if err != nil {
		t.Fatalf("redis port: %v", err)
	}
	url := fmt.Sprintf("redis://%s:%s", host, port.Port())
	return url, func() {
		_ = container.Terminate(ctx)
	}
}

func redisClientFromURL(url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return goredis.NewClient(opts), nil
}
