package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/cascoin-org/wcas-bridge/config"
	"github.com/cascoin-org/wcas-bridge/internal/bridge"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	environment string
	rootCmd     = &cobra.Command{
		Use:   "bridge",
		Short: "Cascoin wCAS Bridge",
		Run:   run,
	}
)

// Execute executes the root command.
func Execute() error {
	return rootCmd.Execute()
}

func run(cmd *cobra.Command, args []string) {
	config.InitLogger()

	cfg, err := config.Load(environment)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	ctx := context.Background()
	service, err := bridge.NewService(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create bridge service")
	}

	service.Start(ctx)

	// Wait for interrupt signal to gracefully shutdown the bridge
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down bridge...")
	service.Stop()
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&environment,
		"env",
		"local",
		"Environment name to the configuration file",
	)
	viper.BindPFlag("env", rootCmd.PersistentFlags().Lookup("env"))
}
