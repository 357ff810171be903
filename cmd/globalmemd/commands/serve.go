package commands

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/srediag/plugin-chrdev/adapter"
	"github.com/srediag/plugin-chrdev/pkg/chrdev"
	"github.com/srediag/plugin-chrdev/pkg/transport"
)

func newServeCmd() *cobra.Command {
	var configFile string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the globalmem daemon",
		Long: `Run the globalmem daemon in the foreground.

Configuration is read from the optional --config YAML file and overridden by
GLOBALMEM_* environment variables.

Examples:
  # Serve with defaults on 127.0.0.1:7070
  globalmemd serve

  # Four device nodes on every interface
  GLOBALMEM_LISTEN=:7070 GLOBALMEM_DEVICE_MINORS=4 globalmemd serve`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := LoadConfig(configFile)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cmd, cfg, nil)
		},
	}
	cmd.Flags().StringVarP(&configFile, "config", "c", "", "Path to a YAML configuration file")
	return cmd
}

// serve runs the daemon until ctx is done. When ready is not nil it receives
// the bound address once the listener is up.
func serve(ctx context.Context, cmd *cobra.Command, cfg *Config, ready chan<- string) (err error) {
	module, err := chrdev.NewModule(&cfg.Device, chrdev.WithBufferOptions(adapter.GlobalTelemetry()...))
	if err != nil {
		return err
	}
	if err := module.Init(ctx); err != nil {
		return err
	}
	defer func() {
		if xerr := module.Exit(context.Background()); xerr != nil && err == nil {
			err = xerr
		}
	}()

	dispatcher, err := transport.NewDispatcher(module, cfg.Transport)
	if err != nil {
		return err
	}
	for _, c := range dispatcher.Collectors() {
		if err := module.Registerer().Register(c); err != nil {
			return errors.Wrap(err, "register dispatcher metrics")
		}
	}
	if err := dispatcher.Start(); err != nil {
		return err
	}
	defer func() {
		if serr := dispatcher.Stop(); serr != nil && err == nil {
			err = serr
		}
	}()

	ln, err := adapter.Listen(ctx, cfg.Listen, cfg.ListenTimeout)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:           transport.NewRouter(dispatcher, module),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()

	cmd.Printf("globalmemd %s serving %d device nodes on %s\n", Version, cfg.Device.Minors, ln.Addr())
	if ready != nil {
		ready <- ln.Addr().String()
	}

	select {
	case <-ctx.Done():
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "http server")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "http shutdown")
	}
	cmd.Println("globalmemd stopped")
	return nil
}
