package cli

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"prep-session-service/internal/app"
	"prep-session-service/internal/config"
	"prep-session-service/internal/domain"
	"prep-session-service/internal/infra/memory"
	pgstore "prep-session-service/internal/infra/postgres"
	redisstore "prep-session-service/internal/infra/redis"
	"prep-session-service/internal/ledger"
	"prep-session-service/internal/selector"
	transport "prep-session-service/internal/transport/http"
	"prep-session-service/internal/visibility"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the session engine server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

// logCertificateIssuer is the default sink for the one-way certificate
// eligibility signal; the certificate service consumes it out of band.
type logCertificateIssuer struct{}

func (logCertificateIssuer) SessionEligible(signal domain.CertificateSignal) {
	log.Printf("certificate eligible: session=%s user=%s score=%.2f",
		signal.SessionID, signal.UserID, signal.TotalScore)
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg); err != nil {
			return err
		}
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}
	redisTTL := config.TTLDuration(cfg.Redis.TTL, 10*time.Minute)
	questionTTL := config.TTLDuration(cfg.Questions.TTL, 10*time.Minute)

	var (
		sessions    app.SessionStore
		history     visibility.AttemptHistory
		answers     app.AnswerStore
		assignments interface {
			app.AssignmentStore
			visibility.GroupMembership
		}
		loader      memory.QuestionLoader
		ledgerStore ledger.Store
	)

	if cfg.Postgres.URL != "" {
		pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pool.Close()

		db := openBunDB(cfg.Postgres.URL)
		defer db.Close()

		pgSessions := pgstore.NewSessionStore(db)
		sessions = pgSessions
		history = pgSessions
		answers = pgstore.NewAnswerStore(db)
		assignments = pgstore.NewAssignmentStore(db)
		loader = pgstore.NewQuestionLoader(pool)
		ledgerStore = pgstore.NewLedgerStore(db)
	} else {
		memSessions := memory.NewSessionStore()
		memAnswers := memory.NewAnswerStore()
		memAnswers.BindSessionOwner(memSessions)
		memAssignments := memory.NewAssignmentStore()
		seedSampleAssignments(memAssignments)

		sessions = memSessions
		history = memSessions
		answers = memAnswers
		assignments = memAssignments
		loader = memory.NewStaticQuestionLoader(sampleQuestions())
		ledgerStore = memory.NewLedgerStore()
	}

	var catalog interface {
		app.QuestionLookup
		selector.PoolProvider
	}
	if redisClient != nil {
		catalog = redisstore.NewQuestionCatalog(redisClient, loader, questionTTL)
		sessions = redisstore.NewSessionStore(sessions, redisClient, redisTTL)
	} else {
		catalog = memory.NewQuestionCatalog(loader, questionTTL)
	}

	credits := ledger.New(ledgerStore)
	engine := app.New(app.Deps{
		Sessions:     sessions,
		Answers:      answers,
		Assignments:  assignments,
		Questions:    catalog,
		Selector:     selector.New(catalog),
		Eligibility:  visibility.New(assignments, history),
		Credits:      credits,
		Certificates: logCertificateIssuer{},
	}, app.Options{
		ReuseCooldown:    config.TTLDuration(cfg.Engine.ReuseCooldown, 0),
		WrittenThreshold: cfg.Engine.WrittenThreshold,
	})

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	transport.NewHandler(engine, credits).Register(mux)

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Printf("starting session engine on :%s", finalPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("failed to start server: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Println("shutting down server...")
	case <-ctx.Done():
		log.Println("context canceled, shutting down server...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// sampleQuestions provides a minimal pool for in-memory demo runs; production
// deployments load topics from Postgres JSONB instead.
func sampleQuestions() []domain.Question {
	return []domain.Question{
		{
			ID: "go-basics-1", TopicID: "go-basics", Type: domain.QuestionSingleChoice, Level: domain.LevelBasic,
			Prompt: "Which keyword declares a variable with inferred type?",
			Options: []domain.Option{
				{ID: "o1", Text: "var x = 1", Correct: true},
				{ID: "o2", Text: "int x = 1"},
				{ID: "o3", Text: "let x = 1"},
			},
		},
		{
			ID: "go-basics-2", TopicID: "go-basics", Type: domain.QuestionMultiChoice, Level: domain.LevelBasic,
			Prompt: "Which of these are built-in Go types?",
			Options: []domain.Option{
				{ID: "o1", Text: "rune", Correct: true},
				{ID: "o2", Text: "complex128", Correct: true},
				{ID: "o3", Text: "decimal"},
			},
		},
		{
			ID: "go-basics-3", TopicID: "go-basics", Type: domain.QuestionWritten, Level: domain.LevelBasic,
			Prompt:         "What does a goroutine cost at startup?",
			OfficialAnswer: "A goroutine starts with a small stack of a few kilobytes that grows as needed",
		},
	}
}

func seedSampleAssignments(store *memory.AssignmentStore) {
	store.PutTemplate(domain.Template{
		ID:   "tpl-go-basics",
		Name: "Go basics screening",
		Criteria: domain.SelectionCriteria{
			TopicIDs:     []string{"go-basics"},
			Levels:       []domain.QuestionLevel{domain.LevelBasic},
			CountSingle:  1,
			CountMulti:   1,
			CountWritten: 1,
		},
		TotalSec:      1800,
		Navigation:    domain.NavigationLinear,
		AllowPause:    true,
		InterviewCost: 1,
	})
	store.PutAssignment(domain.Assignment{
		ID:         "asg-go-basics",
		TemplateID: "tpl-go-basics",
		Visibility: domain.VisibilityPublic,
	})
}
