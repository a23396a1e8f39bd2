package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"courier/internal/app"
	"courier/internal/domain"
)

var (
	home       string
	configPath string
	passphrase string
	relayURL   string
	username   string
	device     uint32
	force      bool

	appCtx *app.Wire
)

// Execute runs the root command.
func Execute(version string) error {
	root := &cobra.Command{
		Use:           "courier",
		Version:       version,
		Short:         "End-to-end encrypted messaging client",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if home == "" {
				dir, err := os.UserHomeDir()
				if err != nil {
					return err
				}
				home = filepath.Join(dir, ".courier")
			}
			cfg, err := app.LoadFromPath(configPath, home)
			if err != nil {
				return err
			}
			// Flags beat file and environment.
			if relayURL != "" {
				cfg.RelayURL = relayURL
			}
			if username != "" {
				cfg.Username = domain.Username(username)
			}
			if device != 0 {
				cfg.Device = domain.DeviceID(device)
			}
			if err := app.ConfigureLogging(os.Stderr, cfg.LogLevel, cfg.LogFormat); err != nil {
				return err
			}
			if passphrase == "" {
				passphrase = os.Getenv("COURIER_PASSPHRASE")
			}

			appCtx, err = app.NewWire(cfg, force)
			return err
		},
	}

	root.PersistentFlags().StringVar(&home, "home", "", "data dir (default ~/.courier)")
	root.PersistentFlags().StringVar(&configPath, "config", "", "config file (default <home>/config.yaml)")
	root.PersistentFlags().StringVarP(&passphrase, "passphrase", "p", "", "passphrase protecting the identity (or COURIER_PASSPHRASE)")
	root.PersistentFlags().StringVar(&relayURL, "relay", "", "relay base URL (e.g. http://127.0.0.1:8080)")
	root.PersistentFlags().StringVarP(&username, "username", "u", "", "local account name")
	root.PersistentFlags().Uint32Var(&device, "device", 0, "local device id")

	root.AddCommand(
		initCmd(),
		fingerprintCmd(),
		registerCmd(),
		startSessionCmd(),
		sendCmd(),
		runCmd(),
		pendingCmd(),
	)

	if err := root.Execute(); err != nil {
		logrus.WithError(err).Error("Command failed")
		return err
	}
	return nil
}

func requirePassphrase() error {
	if passphrase == "" {
		return fmt.Errorf("passphrase required (-p or COURIER_PASSPHRASE)")
	}
	return nil
}

// unlock opens the account for commands that encrypt or read the database.
func unlock() (*app.Account, error) {
	if err := requirePassphrase(); err != nil {
		return nil, err
	}
	return appCtx.Unlock(passphrase)
}
