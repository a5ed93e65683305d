package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/habitcoach/habitcoach/internal/coach"
	"github.com/habitcoach/habitcoach/internal/genai"
	"github.com/habitcoach/habitcoach/internal/lockfile"
	"github.com/habitcoach/habitcoach/internal/messaging"
	"github.com/habitcoach/habitcoach/internal/recovery"
	"github.com/habitcoach/habitcoach/internal/scheduler"
	"github.com/habitcoach/habitcoach/internal/store"
	"github.com/habitcoach/habitcoach/internal/twiliowhatsapp"
	"github.com/habitcoach/habitcoach/internal/util"
	"github.com/habitcoach/habitcoach/internal/whatsapp"
	"github.com/joho/godotenv"
)

const (
	// DefaultStateDir is the default directory for HabitCoach state data.
	DefaultStateDir = "/var/lib/habitcoach"
	// DefaultDBFileName is the default SQLite database filename.
	DefaultDBFileName = "habitcoach.db"
	// DefaultWebhookAddr is the default listen address for the Twilio webhook.
	DefaultWebhookAddr = ":8080"
)

func main() {
	initializeLogger()

	config := loadEnvironmentConfig()
	flags := parseCommandLineFlags(config)

	if err := run(config, flags); err != nil {
		slog.Error("HabitCoach failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("HabitCoach exited successfully")
}

// Config holds environment configuration.
type Config struct {
	StoreDSN       string
	WhatsAppDSN    string
	StateDir       string
	OpenAIKey      string
	OpenAIModel    string
	Backend        string
	WebhookAddr    string
	ConfirmTimeout time.Duration
	ReportTimeout  time.Duration
	Debug          bool
}

// Flags holds command line flag values. Flags override environment values.
type Flags struct {
	qrOutput    *string
	numeric     *bool
	stateDir    *string
	dbDSN       *string
	openaiKey   *string
	openaiModel *string
	backend     *string
	webhookAddr *string
}

func initializeLogger() {
	level := slog.LevelInfo
	if util.ParseBoolEnv("HABITCOACH_DEBUG", false) {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from the environment and .env file.
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	}

	config := Config{
		StoreDSN:       os.Getenv("DATABASE_URL"),
		WhatsAppDSN:    os.Getenv("WHATSAPP_DB_DSN"),
		StateDir:       os.Getenv("HABITCOACH_STATE_DIR"),
		OpenAIKey:      os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:    os.Getenv("OPENAI_MODEL"),
		Backend:        os.Getenv("MESSAGING_BACKEND"),
		WebhookAddr:    os.Getenv("TWILIO_WEBHOOK_ADDR"),
		ConfirmTimeout: util.ParseDurationEnv("WORKOUT_CONFIRM_TIMEOUT", coach.DefaultConfirmTimeout),
		ReportTimeout:  util.ParseDurationEnv("WORKOUT_REPORT_TIMEOUT", coach.DefaultReportTimeout),
		Debug:          util.ParseBoolEnv("HABITCOACH_DEBUG", false),
	}

	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
	}
	if config.Backend == "" {
		config.Backend = "whatsapp"
	}
	if config.WebhookAddr == "" {
		config.WebhookAddr = DefaultWebhookAddr
	}
	// The whatsmeow session store defaults to SQLite in the state directory.
	if config.WhatsAppDSN == "" {
		config.WhatsAppDSN = filepath.Join(config.StateDir, "whatsmeow.db")
	}

	slog.Debug("environment configuration loaded",
		"DATABASE_URL_SET", config.StoreDSN != "",
		"WHATSAPP_DB_DSN_SET", config.WhatsAppDSN != "",
		"HABITCOACH_STATE_DIR", config.StateDir,
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"MESSAGING_BACKEND", config.Backend)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults.
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		qrOutput:    flag.String("qr-output", "", "path to write WhatsApp login QR code"),
		numeric:     flag.Bool("numeric-code", false, "use numeric WhatsApp login code instead of QR code"),
		stateDir:    flag.String("state-dir", config.StateDir, "state directory for HabitCoach data (overrides $HABITCOACH_STATE_DIR)"),
		dbDSN:       flag.String("db-dsn", config.StoreDSN, "user store DSN: mongodb://, postgres:// or SQLite path (overrides $DATABASE_URL)"),
		openaiKey:   flag.String("openai-api-key", config.OpenAIKey, "OpenAI API key (overrides $OPENAI_API_KEY)"),
		openaiModel: flag.String("openai-model", config.OpenAIModel, "OpenAI chat model (overrides $OPENAI_MODEL)"),
		backend:     flag.String("backend", config.Backend, "messaging backend: whatsapp or twilio (overrides $MESSAGING_BACKEND)"),
		webhookAddr: flag.String("webhook-addr", config.WebhookAddr, "listen address for the Twilio webhook (overrides $TWILIO_WEBHOOK_ADDR)"),
	}

	flag.Parse()

	// A SQLite user store defaults into the chosen state directory.
	if *flags.dbDSN == "" {
		*flags.dbDSN = filepath.Join(*flags.stateDir, DefaultDBFileName)
		slog.Debug("No user store DSN provided, defaulting to SQLite in state dir", "db_path", *flags.dbDSN)
	}

	return flags
}

func run(config Config, flags Flags) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if store.DetectDSNType(*flags.dbDSN) == "sqlite" {
		if err := os.MkdirAll(filepath.Dir(*flags.dbDSN), 0755); err != nil {
			return err
		}
	}

	lock, err := lockfile.AcquireLock(*flags.stateDir)
	if err != nil {
		return err
	}
	defer lock.Release()

	st, err := openStore(*flags.dbDSN)
	if err != nil {
		return err
	}
	defer st.Close()

	// Close out any workout sessions that were in flight when the previous
	// process died.
	if err := recovery.NewManager(st).Run(ctx); err != nil {
		return err
	}

	ai, err := genai.NewClient(buildGenAIOptions(flags)...)
	if err != nil {
		return err
	}

	svc, webhook, err := buildMessagingService(flags, config)
	if err != nil {
		return err
	}
	defer svc.Stop()

	sched := scheduler.NewScheduler()
	defer sched.Stop()

	timer := coach.NewSimpleTimer()
	defer timer.Stop()

	streaks := coach.NewStreakTracker(st)
	workouts := coach.NewWorkoutEngine(st, ai, timer, svc,
		coach.WithConfirmTimeout(config.ConfirmTimeout),
		coach.WithReportTimeout(config.ReportTimeout))
	bot := coach.NewCoach(st, ai, streaks, workouts)

	reminders := coach.NewReminderScheduler(st, svc, sched, bot)
	if err := reminders.Start(ctx); err != nil {
		return err
	}
	defer reminders.Stop()

	if err := svc.Start(ctx); err != nil {
		return err
	}

	router := messaging.NewRouter(svc, bot, coach.GenericApology)
	router.Start(ctx)

	if webhook != nil {
		go func() {
			slog.Info("Twilio webhook listening", "addr", *flags.webhookAddr)
			if err := webhook.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("Twilio webhook server failed", "error", err)
			}
		}()
		defer webhook.Shutdown(context.Background())
	}

	slog.Info("HabitCoach running", "backend", *flags.backend)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	s := <-sig
	slog.Info("Shutting down", "signal", s.String())

	return nil
}

// openStore selects a store backend from the DSN.
func openStore(dsn string) (store.Store, error) {
	switch store.DetectDSNType(dsn) {
	case "mongodb":
		slog.Info("Using MongoDB user store")
		return store.NewMongoStore(store.WithDSN(dsn))
	case "postgres":
		slog.Info("Using PostgreSQL user store")
		return store.NewPostgresStore(store.WithDSN(dsn))
	default:
		slog.Info("Using SQLite user store", "path", dsn)
		return store.NewSQLiteStore(store.WithDSN(dsn))
	}
}

func buildGenAIOptions(flags Flags) []genai.Option {
	var opts []genai.Option
	if *flags.openaiKey != "" {
		opts = append(opts, genai.WithAPIKey(*flags.openaiKey))
	}
	if *flags.openaiModel != "" {
		opts = append(opts, genai.WithModel(*flags.openaiModel))
	}
	return opts
}

// buildMessagingService constructs the configured transport. For the Twilio
// backend it also returns an HTTP server exposing the inbound webhook.
func buildMessagingService(flags Flags, config Config) (messaging.Service, *http.Server, error) {
	switch *flags.backend {
	case "twilio":
		client, err := twiliowhatsapp.NewClient()
		if err != nil {
			return nil, nil, err
		}
		svc := messaging.NewTwilioService(client)

		mux := http.NewServeMux()
		mux.HandleFunc("/twilio/webhook", svc.TwilioWebhookHandler)
		server := &http.Server{Addr: *flags.webhookAddr, Handler: mux}
		return svc, server, nil

	default:
		waClient, err := whatsapp.NewClient(buildWhatsAppOptions(flags, config)...)
		if err != nil {
			return nil, nil, err
		}
		return messaging.NewWhatsAppService(waClient), nil, nil
	}
}

func buildWhatsAppOptions(flags Flags, config Config) []whatsapp.Option {
	var opts []whatsapp.Option
	if *flags.qrOutput != "" {
		opts = append(opts, whatsapp.WithQRCodeOutput(*flags.qrOutput))
	}
	if *flags.numeric {
		opts = append(opts, whatsapp.WithNumericCode())
	}
	if config.WhatsAppDSN != "" {
		opts = append(opts, whatsapp.WithDBDSN(config.WhatsAppDSN))
	}
	return opts
}
