package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/samber/do/v2"
	"github.com/spf13/cobra"

	"github.com/nfrund/quickchat/internal/app"
	"github.com/nfrund/quickchat/internal/config"
	"github.com/nfrund/quickchat/internal/coords"
	"github.com/nfrund/quickchat/internal/credentials"
	"github.com/nfrund/quickchat/internal/eventloop"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start a terminal client",
	Long: `Chat connects to the configured store and prints the messages of the
selected room as they arrive. Logs go to stderr.

Commands:
  /room N     switch to room N
  /rooms      list rooms
  /users      list users
  /name X     set your name
  /point X Y  move your pointer to pixel X,Y of the configured viewport
  /quit       leave
Anything else is sent as a message to the current room.`,
	RunE: runChat,
}

func init() {
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, _ []string) error {
	injector, err := newInjector(os.Stderr)
	if err != nil {
		return err
	}
	defer func() { _ = injector.Shutdown() }()

	cfg := do.MustInvoke[*config.Config](injector)
	logger := do.MustInvoke[*slog.Logger](injector)
	b, err := do.Invoke[*backend](injector)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	loop := eventloop.New(logger)
	client := app.New(app.Dependencies{
		Connector:       b.connector,
		Credentials:     do.MustInvoke[credentials.Store](injector),
		Loop:            loop,
		Viewport:        coords.NewTracker(cfg.GetViewport()),
		Notifier:        app.NotifierFunc(func(title, message string) { fmt.Fprintf(out, "! %s failed: %s\n", title, message) }),
		Logger:          logger,
		Room:            cfg.GetRoom(),
		PointerInterval: cfg.GetPointerInterval(),
	})

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	loopCtx, stopLoop := context.WithCancel(context.Background())
	defer stopLoop()
	go func() { _ = loop.Run(loopCtx) }()

	term := newTerminal(client, out)
	client.OnChange(term.render)
	if err := client.Start(ctx); err != nil {
		return err
	}

	lines := make(chan string)
	go scanLines(cmd.InOrStdin(), lines)
	term.run(ctx, lines)

	closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return client.Close(closeCtx)
}

// scanLines feeds r line by line into lines and closes it at EOF.
func scanLines(r io.Reader, lines chan<- string) {
	defer close(lines)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		lines <- scanner.Text()
	}
}
