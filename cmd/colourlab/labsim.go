package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/colourlab-core/internal/infrastructure/logging"
	"github.com/nerrad567/colourlab-core/internal/lab"
)

const (
	labsimReadHeaderTimeout = 5 * time.Second
	labsimShutdownTimeout   = 5 * time.Second
)

func (a *app) labsimCommand() *cobra.Command {
	var (
		host string
		port int
	)

	cmd := &cobra.Command{
		Use:   "labsim",
		Short: "Run the virtual lab simulator",
		Long: `labsim serves the Lab HTTP API over an in-memory 8x12 plate with an
additive dye model. serve launches it as a supervised child process when
lab.simulator.managed is set.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			addr := net.JoinHostPort(host, strconv.Itoa(port))
			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("listening on %s: %w", addr, err)
			}
			return serveLabsim(cmd.Context(), ln, a.log.Component("labsim"))
		},
	}
	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "listen host")
	cmd.Flags().IntVar(&port, "port", 5000, "listen port")
	return cmd
}

// serveLabsim serves a fresh virtual lab on ln until ctx is cancelled.
func serveLabsim(ctx context.Context, ln net.Listener, log *logging.Logger) error {
	srv := &http.Server{
		Handler:           lab.NewHandler(lab.NewVirtualLab()),
		ReadHeaderTimeout: labsimReadHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	log.Info("lab simulator listening", "address", ln.Addr().String())

	select {
	case err := <-errCh:
		return fmt.Errorf("lab simulator: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), labsimShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down lab simulator: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("lab simulator: %w", err)
	}
	log.Info("lab simulator stopped")
	return nil
}
