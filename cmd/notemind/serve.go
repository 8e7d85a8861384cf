package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/michaelbrown/notemind/internal/server"
)

var portFlag int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the notemind API server",
	Long: `Start the notemind HTTP server with REST API and WebSocket support.

API endpoints are under /api; live session events stream from
/api/sessions/{id}/ws.

Examples:
  notemind serve
  notemind serve --port 9090
  notemind serve --scheme openai-lite`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVar(&portFlag, "port", 0, "Port to listen on (overrides config)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := openApp(true)
	if err != nil {
		return err
	}
	defer a.Close()

	// Determine port
	port := a.cfg.Server.Port
	if portFlag > 0 {
		port = portFlag
	}

	srv := server.New(server.Deps{
		Store:      a.store,
		Generator:  a.gen,
		Retriever:  a.retriever,
		Dispatcher: a.dispatcher,
		Importer:   a.importer,
		Ledger:     a.ledger,
		Titles:     a.titles,
		Sessions:   a.sessionOptions(),
	})

	// Graceful shutdown on SIGINT/SIGTERM
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		srv.Shutdown(context.Background())
	}()

	if err := srv.Start(port); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
