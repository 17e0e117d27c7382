package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/npezzotti/roomchat/internal/api"
	"github.com/npezzotti/roomchat/internal/config"
	"github.com/npezzotti/roomchat/internal/stats"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

type cliOptions struct {
	wsURL          string
	serviceURL     string
	name           string
	room           string
	debugAddr      string
	allowedOrigins []string
	autoReconnect  bool
	typingTimeout  time.Duration
	logLevel       string
}

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintln(os.Stderr, "load .env:", err)
	}

	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func newRootCmd() *cobra.Command {
	var opts cliOptions

	cmd := &cobra.Command{
		Use:          "roomchat",
		Short:        "Terminal client for encrypted chat rooms",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.wsURL, "ws-url", envOr(config.EnvWSURL, "ws://localhost:8000/ws"), "chat server websocket endpoint")
	flags.StringVar(&opts.serviceURL, "service-url", envOr(config.EnvServiceURL, "http://localhost:8000"), "room service base url")
	flags.StringVar(&opts.name, "name", envOr(config.EnvName, os.Getenv("USER")), "display name")
	flags.StringVar(&opts.room, "room", "", "room id to join; a new room is created when empty")
	flags.StringVar(&opts.debugAddr, "debug-addr", os.Getenv(config.EnvDebugAddr), "status server address, disabled when empty")
	flags.StringSliceVar(&opts.allowedOrigins, "allowed-origins", nil, "origins allowed to read the status server")
	flags.BoolVar(&opts.autoReconnect, "auto-reconnect", true, "reconnect automatically after a disconnect")
	flags.DurationVar(&opts.typingTimeout, "typing-timeout", config.DefaultQuietInterval, "quiet time before typing stops")
	flags.StringVar(&opts.logLevel, "log-level", "info", "log level")

	return cmd
}

func newLogger(level string) (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("log level: %w", err)
	}

	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		Level(lvl).
		With().Timestamp().
		Logger(), nil
}

func run(ctx context.Context, opts cliOptions, in io.Reader, out io.Writer) error {
	logger, err := newLogger(opts.logLevel)
	if err != nil {
		return err
	}

	cfg, err := config.NewConfig(opts.wsURL, opts.serviceURL, opts.name,
		config.WithDebugAddr(opts.debugAddr),
		config.WithAllowedOrigins(opts.allowedOrigins),
		config.WithAutoReconnect(opts.autoReconnect),
		config.WithQuietInterval(opts.typingTimeout),
	)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	statsUpdater := stats.NewStatsUpdater()
	stats.RegisterAll(statsUpdater)
	statsUpdater.Run()
	defer statsUpdater.Stop()

	p := newPrinter(out, cfg.Username)
	client, err := newChatClient(ctx, cfg, statsUpdater, p, logger)
	if err != nil {
		return err
	}
	defer client.Close()

	if cfg.DebugAddr != "" {
		status := api.NewStatusServer(logger, client, statsUpdater, cfg)
		go func() {
			if err := status.Start(); err != nil {
				logger.Error().Err(err).Msg("status server")
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := status.Shutdown(shutdownCtx); err != nil {
				logger.Error().Err(err).Msg("status server shutdown")
			}
		}()
	}

	if opts.room == "" {
		err = client.createRoom(ctx)
	} else {
		err = client.join(ctx, opts.room)
	}
	if err != nil {
		logger.Debug().Err(err).Msg("initial connect")
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case line, ok := <-lines:
			if !ok || !client.handleLine(ctx, line) {
				break loop
			}
		}
	}

	return nil
}
