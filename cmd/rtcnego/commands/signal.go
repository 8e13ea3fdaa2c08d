package commands

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/shynome/rtcnego/signaler/lens2"
	"github.com/shynome/rtcnego/signaler/wamp"
	"github.com/shynome/rtcnego/signaler/ws"
	"github.com/spf13/cobra"
)

// NewSignalCmd returns the command running a signaling server.
func NewSignalCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "signal",
		Short: "Run a signaling server",
		RunE:  runSignal,
	}
	cmd.Flags().String("listen", config.Listen, "listen address")
	cmd.Flags().Bool("wamp", false, "run a wamp router instead of the websocket relay")
	cmd.Flags().Bool("lens2", false, "run the http event stream relay instead of the websocket relay")
	cmd.Flags().String("cert", "", "tls certificate of the wamp router")
	cmd.Flags().String("key", "", "tls key of the wamp router")
	return cmd
}

func runSignal(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if config.Wamp {
		return runWamp(ctx)
	}

	var handler http.Handler
	if config.Lens2 {
		relay := lens2.NewServer(logger)
		defer relay.Close()
		handler = relay
	} else {
		handler = ws.NewServer(logger)
	}

	srv := &http.Server{Addr: config.Listen, Handler: handler}
	errCh := make(chan error, 1)
	go func() {
		logger.WithField("addr", config.Listen).Info("signaling server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down")
	return srv.Shutdown(context.Background())
}

func runWamp(ctx context.Context) error {
	server, err := wamp.NewServer(config.Realm, logger)
	if err != nil {
		return err
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe(config.Listen, config.CertFile, config.KeyFile)
	}()

	select {
	case err := <-errCh:
		server.Shutdown()
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down")
	server.Shutdown()
	return nil
}
