package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"chat-relay/internal/adapter/assistant"
	"chat-relay/internal/adapter/botstore"
	"chat-relay/internal/adapter/channel"
	"chat-relay/internal/infra/config"
	"chat-relay/internal/infra/logger"
	"chat-relay/internal/infra/tracer"
	"chat-relay/internal/usecase/relay"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "--help", "-h", "help":
			showUsage()
			return
		}
	}

	if len(os.Args) < 2 || strings.HasPrefix(os.Args[1], "-") {
		if err := run(); err != nil {
			fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
			os.Exit(1)
		}
		return
	}

	switch os.Args[1] {
	case "serve":
		if err := run(); err != nil {
			fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
			os.Exit(1)
		}
	case "doctor":
		if err := runDoctor(os.Stdout, configPath()); err != nil {
			fmt.Fprintf(os.Stderr, "doctor: %v\n", err)
			os.Exit(1)
		}
	case "encrypt":
		if err := runEncrypt(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "encrypt: %v\n", err)
			os.Exit(1)
		}
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\nRun 'relay --help' for usage information.\n", os.Args[1])
		os.Exit(1)
	}
}

func showUsage() {
	fmt.Println(`relay - chat relay between web clients and a hosted assistant

USAGE:
    relay [COMMAND] [FLAGS]

COMMANDS:
    serve       Run the HTTP relay (default)
    doctor      Check configuration, credentials and the bot store
    encrypt     Print an enc: value for a secret (needs RELAY_CONFIG_KEY)

FLAGS:
    -h, --help         Show this help message
    --config PATH      Specify config file path (default: ./config.yaml)

CONFIGURATION:
    Config file: ./config.yaml (optional)
    Environment: RELAY_* variables override config; OPENAI_API_KEY,
                 SUPABASE_URL and SUPABASE_SERVICE_ROLE_KEY are honoured

EXAMPLES:
    relay                                  # Serve with config.yaml
    relay --config /etc/relay/config.yaml  # Serve with custom config
    relay doctor                           # Check setup
    RELAY_CONFIG_KEY=... relay encrypt sk-...`)
}

func run() error {
	// 1. Config
	cfg, err := config.Load(configPath())
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := config.RequireCredentials(cfg); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	// 2. Logger & Tracer
	log, logCloser, err := logger.New(cfg.Logger)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer logCloser()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	tracerShutdown, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		return fmt.Errorf("tracer: %w", err)
	}
	defer tracerShutdown(context.Background())

	// 3. Bot store
	store, err := botstore.Open(ctx, cfg.Store, log)
	if err != nil {
		return fmt.Errorf("bot store: %w", err)
	}
	defer store.Close()

	// 4. Relay
	api := assistant.New(cfg.Assistant, log)
	svc := relay.NewService(store, api, cfg.Relay, log)

	// 5. HTTP
	ch := channel.NewHTTPChannel(cfg.Server, svc, log)
	if err := ch.Start(ctx); err != nil {
		return fmt.Errorf("http: %w", err)
	}

	log.Info("relay starting",
		"addr", ch.Addr(),
		"store", cfg.Store.Driver,
		"assistant", cfg.Assistant.BaseURL,
		"circuit_breaker", cfg.Assistant.CircuitBreaker.Enabled,
		"rate_limit", cfg.Server.RateLimit.Enabled,
	)

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := ch.Stop(shutdownCtx); err != nil {
		log.Error("http shutdown error", "error", err)
	}
	return nil
}

func runEncrypt(args []string) error {
	if len(args) != 1 || args[0] == "" {
		return fmt.Errorf("usage: relay encrypt VALUE")
	}
	passphrase := os.Getenv("RELAY_CONFIG_KEY")
	if passphrase == "" {
		return fmt.Errorf("RELAY_CONFIG_KEY is not set")
	}
	enc, err := config.EncryptValue(args[0], passphrase)
	if err != nil {
		return err
	}
	fmt.Println(enc)
	return nil
}

func configPath() string {
	for i, arg := range os.Args {
		if arg == "--config" && i+1 < len(os.Args) {
			return os.Args[i+1]
		}
		if strings.HasPrefix(arg, "--config=") {
			return strings.TrimPrefix(arg, "--config=")
		}
	}
	if p := os.Getenv("RELAY_CONFIG"); p != "" {
		return p
	}
	return "config.yaml"
}
