package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/julienstroheker/devicestream/device/proxy"
	"github.com/julienstroheker/devicestream/internal/auth"
	"github.com/julienstroheker/devicestream/internal/config"
	"github.com/julienstroheker/devicestream/internal/controlplane"
	"github.com/julienstroheker/devicestream/internal/logging"
	"github.com/spf13/cobra"
)

var (
	hostFlag string
	portFlag int
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Wait for stream requests and relay them to the local target",
	Long:  `Wait for stream requests and relay every accepted stream to the local target`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDevice(cmd)
	},
}

func init() {
	rootCmd.AddCommand(startCmd)
	startCmd.Flags().StringVar(&hostFlag, "host", "",
		"Local target host (default: $DEVICESTREAM_REMOTE_HOST or "+config.DefaultRemoteHost+")")
	startCmd.Flags().IntVarP(&portFlag, "port", "p", 0,
		fmt.Sprintf("Local target port (default: $DEVICESTREAM_REMOTE_PORT or %d)", config.DefaultRemotePort))
}

func runDevice(cmd *cobra.Command) error {
	if hostFlag != "" {
		cfg.RemoteHost = hostFlag
	}
	if portFlag != 0 {
		cfg.RemotePort = portFlag
	}
	if err := cfg.Validate(config.RoleDevice); err != nil {
		return err
	}

	cs, err := cfg.Credentials()
	if err != nil {
		return err
	}
	if cs.DeviceID == "" {
		return fmt.Errorf("connection string has no DeviceId")
	}

	baseURL, err := cfg.ControlPlaneURL()
	if err != nil {
		return err
	}

	tokens, err := auth.NewTokenProvider(cs)
	if err != nil {
		return fmt.Errorf("failed to create token provider: %w", err)
	}

	client, err := controlplane.NewDeviceClient(&controlplane.DeviceClientOptions{
		BaseURL:  baseURL,
		DeviceID: cs.DeviceID,
		Tokens:   tokens,
		Logger:   logger,
	})
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	p, err := proxy.New(&proxy.Options{
		Source:     client,
		TargetAddr: cfg.TargetAddr(),
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("Device proxy starting",
		logging.String("device_id", cs.DeviceID),
		logging.String("control_plane", baseURL),
		logging.String("target", cfg.TargetAddr()))

	if err := p.Run(ctx, logger); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
