package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/cbodonnell/fomo/pkg/api"
	authproviders "github.com/cbodonnell/fomo/pkg/auth/providers"
	"github.com/cbodonnell/fomo/pkg/config"
	"github.com/cbodonnell/fomo/pkg/fhe"
	"github.com/cbodonnell/fomo/pkg/game"
	"github.com/cbodonnell/fomo/pkg/game/constants"
	"github.com/cbodonnell/fomo/pkg/game/types"
	"github.com/cbodonnell/fomo/pkg/log"
	"github.com/cbodonnell/fomo/pkg/metrics"
	"github.com/cbodonnell/fomo/pkg/network"
	"github.com/cbodonnell/fomo/pkg/oracle/simulator"
	"github.com/cbodonnell/fomo/pkg/queue"
	"github.com/cbodonnell/fomo/pkg/repositories"
	"github.com/cbodonnell/fomo/pkg/state"
	"github.com/cbodonnell/fomo/pkg/version"
	"github.com/cbodonnell/fomo/pkg/workers"
	"github.com/google/uuid"
)

func main() {
	configPath := flag.String("config", "", "Path to a TOML config file")
	port := flag.Int("port", 0, "Port to listen on, overrides the config")
	logLevel := flag.String("log-level", "", "Log level, overrides the config")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}
	if *port != 0 {
		cfg.Port = *port
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}

	parsedLogLevel, err := log.ParseLogLevel(cfg.Log.Level)
	if err != nil {
		panic(fmt.Sprintf("Failed to parse log level: %v", err))
	}
	var out io.Writer = os.Stdout
	if cfg.Log.File != "" {
		out = io.MultiWriter(os.Stdout, log.NewFileWriter(log.FileOptions{
			Filename:   cfg.Log.File,
			MaxSizeMB:  cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
			MaxAgeDays: cfg.Log.MaxAgeDays,
			Compress:   true,
		}))
	}
	log.SetDefaultLogger(log.New(out, parsedLogLevel))
	log.Info("Log level set to %s", parsedLogLevel)

	log.Info("Starting fomo server version %s", version.Get())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	repository, err := newRepository(ctx, cfg.Database)
	if err != nil {
		panic(fmt.Sprintf("Failed to create repository: %v", err))
	}
	defer repository.Close(context.Background())

	authProvider, err := newAuthProvider(ctx, cfg.Auth)
	if err != nil {
		panic(fmt.Sprintf("Failed to create auth provider: %v", err))
	}

	paymentUnit, err := cfg.PaymentUnit()
	if err != nil {
		panic(err.Error())
	}

	signalChan := make(chan types.Signal, constants.SignalChannelSize)
	evaluator := fhe.NewMemoryEvaluator()
	gameID := uuid.New().String()
	g, err := game.NewGame(game.NewGameOptions{
		GameID:      gameID,
		Evaluator:   evaluator,
		PaymentUnit: paymentUnit,
		Owner:       cfg.Game.Owner,
		SignalHandler: func(s types.Signal) {
			select {
			case signalChan <- s:
			case <-ctx.Done():
				log.Warn("Dropped signal %d during shutdown", s.Seq)
			}
		},
	})
	if err != nil {
		panic(fmt.Sprintf("Failed to create game: %v", err))
	}
	log.Info("Created game %s", gameID)

	m := metrics.New()
	stateManager := state.NewInMemoryStateManager(nil)
	saveGameStateChan := make(chan workers.SaveGameStateRequest, constants.SaveChannelSize)

	var wg sync.WaitGroup
	run := func(start func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			start(ctx)
		}()
	}

	saveGameStateWorker := workers.NewSaveGameStateWorker(workers.NewSaveGameStateWorkerOptions{
		Repository:        repository,
		SaveGameStateChan: saveGameStateChan,
		StateManager:      stateManager,
		Interval:          cfg.Game.SaveInterval.Duration,
	})
	run(saveGameStateWorker.Start)

	hub := network.NewSignalHub(network.NewSignalHubOptions{
		OriginPatterns: cfg.AllowedOrigins,
	})

	// nil unless the in-process oracle is enabled
	var oracleChan chan types.Signal
	if cfg.Oracle.Simulate {
		oracleChan = make(chan types.Signal, constants.SignalChannelSize)
	}
	signalWorker := workers.NewSignalWorker(workers.NewSignalWorkerOptions{
		Repository:  repository,
		Broadcaster: hub,
		Metrics:     m,
		SignalChan:  signalChan,
		Forward:     oracleChan,
	})
	run(signalWorker.Start)

	gameManager := game.NewManager(game.NewManagerOptions{
		Game:              g,
		ActionQueue:       queue.NewInMemoryQueue(constants.ActionQueueSize),
		StateManager:      stateManager,
		SaveGameStateChan: saveGameStateChan,
		Metrics:           m,
		LoopInterval:      cfg.Game.LoopInterval.Duration,
	})
	run(func(ctx context.Context) {
		if err := gameManager.Start(ctx); err != nil {
			log.Error("Game manager stopped: %v", err)
		}
	})

	if oracleChan != nil {
		log.Warn("Answering oracle requests in process, targets are not secret")
		oracle := simulator.NewSimulator(simulator.NewSimulatorOptions{
			Decrypter:  evaluator,
			Callbacker: gameManager,
			SignalChan: oracleChan,
			Delay:      cfg.Oracle.SimulateDelay.Duration,
		})
		run(oracle.Start)
	}

	if cfg.Game.TargetHigh != 0 {
		requester := cfg.Game.Owner
		if requester == "" {
			requester = "operator"
		}
		id, err := gameManager.SetTarget(ctx, requester, cfg.Game.TargetLow, cfg.Game.TargetHigh)
		if err != nil {
			panic(fmt.Sprintf("Failed to request target: %v", err))
		}
		log.Info("Requested target within [%d, %d) as request %d", cfg.Game.TargetLow, cfg.Game.TargetHigh, id)
	}

	apiServerOpts := api.NewAPIServerOptions{
		Port:           cfg.Port,
		AuthProvider:   authProvider,
		OracleToken:    cfg.Oracle.Token,
		Service:        gameManager,
		Repository:     repository,
		Metrics:        m,
		Signals:        hub,
		AllowedOrigins: cfg.AllowedOrigins,
	}
	tlsCertFile := os.Getenv("FOMO_API_TLS_CERT_FILE")
	tlsKeyFile := os.Getenv("FOMO_API_TLS_KEY_FILE")
	if tlsCertFile != "" && tlsKeyFile != "" {
		apiServerOpts.TLS = &api.TLSConfig{
			CertFile: tlsCertFile,
			KeyFile:  tlsKeyFile,
		}
	}
	if cfg.Oracle.Token == "" {
		log.Warn("No oracle token configured, oracle endpoints are disabled")
	}
	server := api.NewAPIServer(apiServerOpts)
	go server.Start()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)
	<-interrupt
	log.Info("Shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Stop(shutdownCtx); err != nil {
		log.Error("Failed to stop server: %v", err)
	}
	cancel()
	wg.Wait()
}

func newRepository(ctx context.Context, db config.Database) (repositories.Repository, error) {
	u, err := url.Parse(db.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %v", err)
	}

	switch u.Scheme {
	case "sqlite":
		// sqlite://fomo.db puts the file name in the host, sqlite:///var/lib/fomo.db in the path
		path := u.Host + u.Path
		return repositories.NewSQLiteRepository(ctx, path, migrationsDir(db, "sqlite"))
	case "postgres", "postgresql":
		return repositories.NewPostgresRepository(ctx, u.String(), migrationsDir(db, "postgres"))
	default:
		return nil, fmt.Errorf("unknown database type %s", u.Scheme)
	}
}

func migrationsDir(db config.Database, driver string) string {
	if db.MigrationsDir != "" {
		return filepath.Join(db.MigrationsDir, driver)
	}
	return filepath.Join(".", "migrations", driver)
}

func newAuthProvider(ctx context.Context, auth config.Auth) (authproviders.AuthProvider, error) {
	if auth.FirebaseProjectID != "" {
		log.Info("Using Firebase auth for project %s", auth.FirebaseProjectID)
		return authproviders.NewFirebaseAuthProvider(ctx, authproviders.FirebaseOptions{
			ProjectID:       auth.FirebaseProjectID,
			APIKey:          auth.FirebaseAPIKey,
			CredentialsFile: auth.FirebaseCredentialsFile,
		})
	}

	tokens, err := authproviders.ParseStaticTokens(auth.StaticTokens)
	if err != nil {
		return nil, err
	}
	if len(tokens) == 0 {
		log.Warn("No player tokens configured, every player request will be rejected")
	}
	return authproviders.NewStaticAuthProvider(tokens), nil
}
