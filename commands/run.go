package commands

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/signalmesh/signalmesh/config"
	sig "github.com/signalmesh/signalmesh/signal"
)

func newRunCommand() *cobra.Command {
	var follow bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the agent, reading signals from stdin as JSON lines",
		Long: `run starts the full pipeline and reads one signal per line from
stdin, e.g.

  {"source":"email","subject":"Invoice overdue","body":"...","sender":"ap@acme.com"}

Missing ids and timestamps are filled in. With --follow the process
stays up after stdin closes so queued work and pending reviews keep
draining until interrupted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			return runAgent(cfg, follow)
		},
	}
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "keep running after stdin closes")
	return cmd
}

func runAgent(cfg *config.Config, follow bool) error {
	logger := slog.Default()

	app, err := NewApp(cfg)
	if err != nil {
		return fmt.Errorf("wire components: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := app.Start(ctx); err != nil {
		return fmt.Errorf("start components: %w", err)
	}
	logger.Info("Agent started",
		"data_dir", cfg.DataDir,
		"providers", cfg.LLM.ProviderOrder,
		"daily_token_limit", cfg.LLM.MaxDailyTokens)

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)

	stdinDone := make(chan struct{})
	go func() {
		defer close(stdinDone)
		readSignals(ctx, app, logger)
	}()

	select {
	case <-interrupt:
		logger.Info("Interrupt received, shutting down")
	case <-stdinDone:
		if follow {
			logger.Info("Stdin closed, draining until interrupted")
			<-interrupt
		} else {
			// Give in-flight work a moment to land before teardown.
			time.Sleep(2 * cfg.Queue.ProcessingInterval)
		}
	}

	cancel()
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	app.Stop(stopCtx)
	logger.Info("Agent stopped")
	return nil
}

// readSignals decodes one signal per stdin line and feeds it to the bus.
// Malformed lines are logged and skipped.
func readSignals(ctx context.Context, app *App, logger *slog.Logger) {
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var s sig.Signal
		if err := json.Unmarshal(line, &s); err != nil {
			logger.Warn("Skipping malformed signal line", "error", err)
			continue
		}
		if s.ID == "" {
			s.ID = uuid.NewString()
		}
		if s.Source == "" {
			s.Source = sig.SourceManual
		}
		if s.Timestamp.IsZero() {
			s.Timestamp = time.Now()
		}
		app.Ingest(s)
	}
	if err := scanner.Err(); err != nil {
		logger.Warn("Stdin read failed", "error", err)
	}
}
