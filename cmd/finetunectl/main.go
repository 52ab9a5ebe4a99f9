package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/modelops/finetunectl/cli"
	"github.com/modelops/finetunectl/pkg/sdk"
)

const pathEnv = ".env"

type envConfig struct {
	LogLevel        string `env:"FINETUNE_LOG_LEVEL"     envDefault:"info"`
	BaseURL         string `env:"FINETUNE_API_URL"       envDefault:"https://api.openai.com/v1"`
	APIKey          string `env:"OPENAI_API_KEY"`
	Organization    string `env:"ORGANIZATION_ID"`
	Project         string `env:"PROJECT_ID"`
	TLSVerification bool   `env:"FINETUNE_TLS_VERIFY"    envDefault:"true"`
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	if _, err := os.Stat(pathEnv); err == nil {
		_ = godotenv.Load(pathEnv)
	}

	cfg := envConfig{}
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("failed to load configuration : %s", err.Error())
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		log.Fatalf("failed to parse log level: %s", err.Error())
	}
	logHandler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	logger := slog.New(logHandler)
	slog.SetDefault(logger)

	rootCmd := &cobra.Command{
		Use:   "finetunectl",
		Short: "Fine-tuning pipeline CLI",
		Long:  `finetunectl drives translation model fine-tuning runs against the training service.`,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			if cfg.APIKey == "" {
				return fmt.Errorf("OPENAI_API_KEY is not set")
			}

			s := sdk.NewSDK(sdk.Config{
				BaseURL:         cfg.BaseURL,
				APIKey:          cfg.APIKey,
				Organization:    cfg.Organization,
				Project:         cfg.Project,
				TLSVerification: cfg.TLSVerification,
			})
			cli.SetSDK(s)

			return nil
		},
	}
	rootCmd.AddCommand(cli.NewPipelineCmd())

	g.Go(func() error {
		return rootCmd.ExecuteContext(ctx)
	})

	if err := g.Wait(); err != nil {
		logger.Error(fmt.Sprintf("finetunectl exited with error: %s", err))
		os.Exit(1)
	}
}
