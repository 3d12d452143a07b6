package cmd

import (
	"context"
	"errors"
	"fmt"
	nethttp "net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/julienstroheker/devicestream/gateway/http"
	"github.com/julienstroheker/devicestream/gateway/management"
	"github.com/julienstroheker/devicestream/gateway/store"
	"github.com/julienstroheker/devicestream/gateway/stream"
	"github.com/julienstroheker/devicestream/internal/config"
	"github.com/julienstroheker/devicestream/internal/controlplane"
	"github.com/julienstroheker/devicestream/internal/logging"
	"github.com/spf13/cobra"
)

const defaultShutdownTimeout = 30

var (
	addrFlag            string
	publicURLFlag       string
	redisAddrFlag       string
	shutdownTimeoutFlag int
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the gateway HTTP server",
	Long:  `Start the gateway HTTP server: control plane, stream rendezvous, health and metrics endpoints`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer(cmd)
	},
}

func init() {
	rootCmd.AddCommand(startCmd)
	startCmd.Flags().StringVarP(&addrFlag, "addr", "a", "",
		"Address to listen on (default: $DEVICESTREAM_GATEWAY_ADDR or "+config.DefaultGatewayAddr+")")
	startCmd.Flags().StringVar(&publicURLFlag, "public-url", "",
		"Base URL clients reach the gateway at (default: derived from the listen address)")
	startCmd.Flags().StringVar(&redisAddrFlag, "redis-addr", "",
		"Redis address for the grant store (default: in-memory)")
	startCmd.Flags().IntVar(&shutdownTimeoutFlag, "shutdown-timeout", defaultShutdownTimeout,
		"Graceful shutdown timeout in seconds")
}

func runServer(cmd *cobra.Command) error {
	cfg := GetConfig()
	log := GetLogger()

	if addrFlag != "" {
		cfg.GatewayAddr = addrFlag
	}
	if publicURLFlag != "" {
		cfg.GatewayPublicURL = publicURLFlag
	}
	if redisAddrFlag != "" {
		cfg.RedisAddr = redisAddrFlag
	}
	if err := cfg.Validate(config.RoleGateway); err != nil {
		return err
	}

	grants, err := store.New(cmd.Context(), cfg.RedisAddr, store.DefaultTTL)
	if err != nil {
		return fmt.Errorf("failed to open grant store: %w", err)
	}
	defer func() {
		_ = grants.Close()
	}()

	svc, err := management.NewService(&management.Options{
		Store:     grants,
		PublicURL: cfg.GatewayURL(),
	})
	if err != nil {
		return err
	}

	hub, err := controlplane.NewHub(&controlplane.HubOptions{
		Issuer: svc,
		Logger: log,
	})
	if err != nil {
		return err
	}

	streams := stream.NewManager(&stream.Options{Logger: log})

	server, err := http.NewServer(&http.Options{
		Addr:       cfg.GatewayAddr,
		Hub:        hub,
		Management: svc,
		Streams:    streams,
		KeyName:    cfg.GatewayKeyName,
		Key:        cfg.GatewayKey,
		Logger:     log,
	})
	if err != nil {
		return err
	}

	// Channel to listen for errors coming from the listener.
	serverErrors := make(chan error, 1)

	// Start the server
	go func() {
		log.Info("Gateway listening",
			logging.String("addr", server.Addr()),
			logging.String("public_url", cfg.GatewayURL()),
			logging.Bool("redis", cfg.RedisAddr != ""),
			logging.Bool("sas", cfg.GatewayKey != ""))
		serverErrors <- server.ListenAndServe()
	}()

	// Channel to listen for an interrupt or terminate signal from the OS.
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(shutdown)

	// Blocking select
	select {
	case err := <-serverErrors:
		if errors.Is(err, nethttp.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server error: %w", err)

	case sig := <-shutdown:
		log.Info("Starting graceful shutdown", logging.String("signal", sig.String()))

		// Give outstanding requests a deadline for completion.
		ctx, cancel := context.WithTimeout(context.Background(), time.Duration(shutdownTimeoutFlag)*time.Second)
		defer cancel()

		// Half-open streams never complete on their own
		_ = streams.Close()

		// Asking listener to shut down and shed load.
		if err := server.Shutdown(ctx); err != nil {
			if err := server.Close(); err != nil {
				return fmt.Errorf("could not stop server gracefully: %w", err)
			}
			return fmt.Errorf("could not gracefully shutdown the server: %w", err)
		}

		log.Info("Server stopped gracefully")
	}

	return nil
}
