package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/julienstroheker/devicestream/internal/auth"
	"github.com/julienstroheker/devicestream/internal/config"
	"github.com/julienstroheker/devicestream/internal/controlplane"
	"github.com/julienstroheker/devicestream/internal/logging"
	"github.com/julienstroheker/devicestream/service/proxy"
	"github.com/spf13/cobra"
)

var (
	portFlag       int
	deviceIDFlag   string
	streamNameFlag string
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Listen locally and open a stream to the device for every client",
	Long:  `Listen on a loopback port and open a stream to the device for every accepted client`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runService(cmd)
	},
}

func init() {
	rootCmd.AddCommand(startCmd)
	startCmd.Flags().IntVarP(&portFlag, "port", "p", 0,
		fmt.Sprintf("Local port to listen on (default: $DEVICESTREAM_LOCAL_PORT or %d)", config.DefaultLocalPort))
	startCmd.Flags().StringVarP(&deviceIDFlag, "device-id", "d", "",
		"Device to open streams to (default: $DEVICESTREAM_DEVICE_ID)")
	startCmd.Flags().StringVar(&streamNameFlag, "stream-name", "",
		"Stream name sent with every request (default: "+config.DefaultStreamName+")")
}

func runService(cmd *cobra.Command) error {
	if portFlag != 0 {
		cfg.LocalPort = portFlag
	}
	if deviceIDFlag != "" {
		cfg.DeviceID = deviceIDFlag
	}
	if streamNameFlag != "" {
		cfg.StreamName = streamNameFlag
	}
	if err := cfg.Validate(config.RoleService); err != nil {
		return err
	}

	cs, err := cfg.Credentials()
	if err != nil {
		return err
	}

	baseURL, err := cfg.ControlPlaneURL()
	if err != nil {
		return err
	}

	tokens, err := auth.NewTokenProvider(cs)
	if err != nil {
		return fmt.Errorf("failed to create token provider: %w", err)
	}

	client, err := controlplane.NewServiceClient(&controlplane.ServiceClientOptions{
		BaseURL: baseURL,
		Tokens:  tokens,
		Logger:  logger,
	})
	if err != nil {
		return err
	}

	p, err := proxy.New(&proxy.Options{
		Requester:  client,
		DeviceID:   cfg.TargetDeviceID(),
		StreamName: cfg.StreamName,
		ListenAddr: cfg.ListenAddr(),
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("Service proxy starting",
		logging.String("device_id", cfg.TargetDeviceID()),
		logging.String("control_plane", baseURL),
		logging.String("listen", cfg.ListenAddr()))

	if err := p.Run(ctx, logger); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
