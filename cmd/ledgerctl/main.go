package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ivankudzin/creditpay/internal/app/bootstrap"
	"github.com/ivankudzin/creditpay/internal/app/platform"
	"github.com/ivankudzin/creditpay/internal/config"
)

var configPath string

func main() {
	rootCmd := &cobra.Command{
		Use:           "ledgerctl",
		Short:         "Operator tooling for the credit ledger",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", bootstrap.ConfigPath(), "Path to the YAML config")

	rootCmd.AddCommand(sweepCmd())
	rootCmd.AddCommand(exportCmd())
	rootCmd.AddCommand(balanceCmd())
	rootCmd.AddCommand(adjustCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(signCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() (config.Config, error) {
	return config.Load(configPath)
}

// openPlatform loads config and connects to the backends. The returned
// func closes everything.
func openPlatform(ctx context.Context) (*platform.Platform, func(), error) {
	cfg, log, err := bootstrap.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	p, err := platform.Open(ctx, cfg, log)
	if err != nil {
		return nil, nil, err
	}
	if p.Postgres == nil {
		_ = p.Close()
		return nil, nil, fmt.Errorf("postgres is unavailable")
	}
	closeFn := func() {
		if err := p.Close(); err != nil {
			log.Warn("close platform", zap.Error(err))
		}
		_ = log.Sync()
	}
	return p, closeFn, nil
}
