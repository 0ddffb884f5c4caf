package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/nidhogg/skillgate/internal/actuator"
	"github.com/nidhogg/skillgate/internal/api"
	"github.com/nidhogg/skillgate/internal/bus"
	"github.com/nidhogg/skillgate/internal/capability"
	"github.com/nidhogg/skillgate/internal/command"
	"github.com/nidhogg/skillgate/internal/config"
	"github.com/nidhogg/skillgate/internal/dispatch"
	"github.com/nidhogg/skillgate/internal/gateway"
	"github.com/nidhogg/skillgate/internal/mailbox"
	"github.com/nidhogg/skillgate/internal/metrics"
	"github.com/nidhogg/skillgate/internal/provider"
	msgrouter "github.com/nidhogg/skillgate/internal/router"
	"github.com/nidhogg/skillgate/internal/skill"
	pgstore "github.com/nidhogg/skillgate/internal/store"
	"github.com/nidhogg/skillgate/internal/trigger"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// mailStore is the mailbox skills read from plus the delivery side fed by
// chat and the HTTP API.
type mailStore interface {
	capability.Mailbox
	Deliver(ctx context.Context, m capability.Mail) (capability.Mail, error)
}

var personas = map[string]*gateway.Persona{
	"Epistemic Hygiene":   {Name: "Epistemic Hygiene", Emoji: ":broom:"},
	"Glitch Ritual":       {Name: "Glitch Ritual", Emoji: ":crystal_ball:"},
	"Resonance Injection": {Name: "Resonance Injection", Emoji: ":headphones:"},
}

func main() {
	_ = godotenv.Load()

	// Load configuration
	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = config.DefaultPath
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config %s: %v\n", cfgPath, err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg.Server.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting skillgate...", zap.String("config", cfgPath))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize provider router
	providers := provider.NewRouter(logger)
	for _, pc := range cfg.Providers {
		provCfg := provider.ProviderConfig{
			ID: pc.ID, Type: pc.Type, Name: pc.Name,
			Endpoint: pc.Endpoint, APIKey: pc.APIKey,
			Models: pc.Models, Extra: pc.Extra,
			Timeout: cfg.LLM.Timeout.Std(),
			Retries: cfg.LLM.Retries,
		}
		switch pc.Type {
		case "openai":
			providers.Register(provider.NewOpenAIProvider(provCfg, logger))
		case "anthropic":
			providers.Register(provider.NewAnthropicProvider(provCfg, logger))
		default:
			logger.Warn("unknown provider type", zap.String("id", pc.ID), zap.String("type", pc.Type))
		}
	}
	if cfg.LLM.Default != "" {
		providers.SetDefault(cfg.LLM.Default)
	}
	providers.SetFallbacks("", cfg.LLM.Fallbacks)
	for skillName, providerID := range cfg.LLM.Bindings {
		providers.Bind(skillName, providerID)
	}
	model := provider.NewClient(providers, cfg.LLM.Model, cfg.LLM.Timeout.Std())

	// Mailbox: PostgreSQL when configured, memory otherwise
	var (
		mail    mailStore = mailbox.NewMemory(logger)
		pgStore *pgstore.Store
	)
	if cfg.Database.Postgres.DSN != "" {
		ps, pgErr := pgstore.New(ctx, cfg.Database.Postgres.DSN, logger)
		if pgErr != nil {
			logger.Warn("PostgreSQL unavailable, running with an in-memory mailbox", zap.Error(pgErr))
		} else {
			if mErr := ps.Migrate(ctx, cfg.Database.Postgres.Migrations); mErr != nil {
				logger.Fatal("migration failed", zap.Error(mErr))
			}
			pgStore = ps
			mail = ps
		}
	}

	// Redis Streams
	var stream *bus.Bus
	if cfg.Database.Redis.URL != "" {
		b, busErr := bus.New(ctx, cfg.Database.Redis.URL, cfg.Database.Redis.Prefix, logger)
		if busErr != nil {
			logger.Warn("Redis unavailable, running without the stream bus", zap.Error(busErr))
		} else {
			stream = b
		}
	}

	// Initialize gateway
	gw := gateway.NewGateway(logger)
	restAdapter := gateway.NewRESTAdapter(cfg.Gateway.ReplyTimeout.Std(), logger)
	gw.Register(restAdapter)

	if cfg.Gateway.Slack.Enabled && cfg.Gateway.Slack.BotToken != "" {
		slackAdapter := gateway.NewSlackAdapter(cfg.Gateway.Slack.BotToken, cfg.Gateway.Slack.AppToken, logger)
		for source, p := range personas {
			slackAdapter.SetPersona(source, p)
		}
		gw.Register(slackAdapter)
	}

	if cfg.Gateway.Discord.Enabled && cfg.Gateway.Discord.BotToken != "" {
		discordAdapter := gateway.NewDiscordAdapter(cfg.Gateway.Discord.BotToken, logger)
		for source, p := range personas {
			discordAdapter.SetPersona(source, p)
		}
		gw.Register(discordAdapter)
	}

	broadcaster := gateway.NewBroadcaster(gw, logger)

	shell := actuator.NewShell(actuator.Options{
		Shell:         cfg.Actuator.Shell,
		Timeout:       cfg.Actuator.Timeout.Std(),
		Dir:           cfg.Actuator.Dir,
		NotifyCommand: cfg.Actuator.NotifyCommand,
	}, broadcaster, logger)

	// Gateway switch
	initial, err := gateway.ParseState(cfg.Gateway.InitialState)
	if err != nil {
		logger.Fatal("invalid gateway.initial_state", zap.Error(err))
	}
	sw := gateway.NewSwitch(initial, logger)
	sw.OnToggle(msgrouter.StateHook(broadcaster))
	sw.OnToggle(func(ctx context.Context, state gateway.State) {
		line := cfg.Gateway.OnlineCommand
		if state == gateway.Offline {
			line = cfg.Gateway.OfflineCommand
		}
		if line == "" {
			return
		}
		if _, err := shell.RunCommand(ctx, line); err != nil {
			logger.Warn("gateway toggle command failed", zap.String("state", string(state)), zap.Error(err))
		}
	})
	logger.Info("Gateway switch ready", zap.String("state", string(sw.State())))

	// Skills and dispatcher
	tracker := metrics.NewTracker(cfg.Triggers.TypingWindow.Std())
	factory := capability.NewFactory(mail, model, shell, tracker, logger)

	settings, err := skill.LoadSettings(cfg.SkillsDir)
	if err != nil {
		logger.Fatal("failed to load skill settings", zap.String("dir", cfg.SkillsDir), zap.Error(err))
	}
	skills := skill.NewRegistry()
	if err := skill.RegisterBuiltins(skills, settings); err != nil {
		logger.Fatal("failed to register skills", zap.Error(err))
	}
	logger.Info("Skills registered", zap.Int("count", len(skills.All())), zap.Strings("triggers", skills.Triggers()))

	disp := dispatch.New(skills, sw, factory, dispatch.Options{
		SkillTimeout: cfg.Dispatch.SkillTimeout.Std(),
		Concurrency:  cfg.Dispatch.Concurrency,
		HistorySize:  cfg.Dispatch.HistorySize,
	}, logger)
	if pgStore != nil {
		disp.AddSink(pgStore)
	}
	if stream != nil {
		disp.AddSink(stream)
	}
	disp.AddSink(msgrouter.ReportSink(broadcaster))

	fire := func(ctx context.Context, name string, payload any) {
		disp.Dispatch(ctx, name, payload)
	}

	// Event sources
	mailWatcher := trigger.NewMailWatcher(mail, fire, logger)

	clock := trigger.NewClock("system", cfg.Triggers.ClockInterval.Std(), logger)
	clock.AddListener(trigger.NewIdleWatcher(cfg.Triggers.IdleThreshold.Std(), cfg.Triggers.IdleMaxCPU,
		tracker.IdleFor, trigger.HostCPU, fire, logger))
	clock.AddListener(trigger.NewMoonWatcher(fire, logger))

	typingClock := trigger.NewClock("typing", cfg.Triggers.TypingInterval.Std(), logger)
	typingClock.AddListener(trigger.NewTypingWatcher(tracker, fire))

	mailClock := trigger.NewClock("mail", cfg.Triggers.MailInterval.Std(), logger)
	mailClock.AddListener(mailWatcher)

	// Chat routing: wire the handler before adapters connect
	cmds := command.NewRegistry()
	command.RegisterBuiltins(cmds, sw, disp, skills, gw)
	command.RegisterProviderCommands(cmds, providers)
	msgRouter := msgrouter.New(cmds, disp, mail, mailWatcher, gw, logger)
	gw.SetHandler(msgRouter.Handle)

	if err := gw.ConnectAll(ctx); err != nil {
		logger.Warn("some gateway adapters failed to connect", zap.Error(err))
	}

	clock.Start(ctx)
	typingClock.Start(ctx)
	mailClock.Start(ctx)
	logger.Info("Trigger clocks started")

	if stream != nil {
		go func() {
			if err := stream.ConsumeTriggers(ctx, fire); err != nil {
				logger.Error("trigger consumer stopped", zap.Error(err))
			}
		}()
	}

	// Build HTTP handler
	checks := map[string]api.Pinger{}
	deps := api.Deps{
		Switch:      sw,
		Dispatcher:  disp,
		Skills:      skills,
		Tracker:     tracker,
		Mail:        mail,
		Ingest:      msgRouter,
		Gateway:     gw,
		Broadcaster: broadcaster,
		REST:        restAdapter,
		Providers:   providers,
		Checks:      checks,
	}
	if pgStore != nil {
		deps.Reports = pgStore
		checks["postgres"] = pgStore
	}
	if stream != nil {
		checks["redis"] = stream
	}
	handler := api.NewHandler(deps, logger)

	// Start server
	port := fmt.Sprintf("%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           handler.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("skillgate listening", zap.String("port", port))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	// Graceful shutdown
	<-ctx.Done()
	logger.Info("Shutting down skillgate...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	srv.Shutdown(shutdownCtx)

	clock.Stop()
	typingClock.Stop()
	mailClock.Stop()
	sw.Wait()

	gw.Close()
	if stream != nil {
		stream.Close()
	}
	if pgStore != nil {
		pgStore.Close()
	}
}

func newLogger(level string) (*zap.Logger, error) {
	if level == "debug" {
		return zap.NewDevelopment()
	}
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}
