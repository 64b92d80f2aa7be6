// Package cmd wires the cobra command tree. Every command runs behind
// the same bootstrap: .env, config file, environment and flags merge
// into one validated Config, the logger comes up, and the Config rides
// the command context down to the subcommand.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/kei1-dev/terakoya-invoicer/internal/config"
	"github.com/kei1-dev/terakoya-invoicer/internal/observability"
)

type contextKey int

const configKey contextKey = iota

// flagBindings maps CLI flags onto their configuration keys. A flag only
// overrides when the user actually set it; otherwise file and env values
// stay in charge.
var flagBindings = map[string]string{
	"headless":   "browser.headless",
	"unit-price": "terakoya.lesson_unit_price",
	"password":   "terakoya.password",
}

// NewRootCommand builds a fresh command tree. Tests call this directly
// so no state leaks between executions.
func NewRootCommand() *cobra.Command {
	var cfgFile string

	root := &cobra.Command{
		Use:   "terakoya-invoicer",
		Short: "Registers Terakoya lesson records as invoice items.",
		Long: `terakoya-invoicer logs into the Terakoya lesson platform, collects the
lesson records of one month, and registers each as an invoice item on
the claim page, skipping records that are already invoiced.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			v := viper.New()
			config.SetDefaults(v)

			if err := initializeConfig(cmd, v, cfgFile); err != nil {
				return fmt.Errorf("failed to initialize configuration: %w", err)
			}

			cfg, err := config.NewConfigFromViper(v)
			if err != nil {
				// Bring up a plain logger so the failure is at least visible.
				observability.InitializeLogger(config.LoggerConfig{
					Level: "info", Format: "console", ServiceName: "terakoya-invoicer",
				})
				return err
			}

			observability.InitializeLogger(cfg.Logger)
			observability.GetLogger().Info("Starting terakoya-invoicer",
				zap.String("version", Version))

			cmd.SetContext(context.WithValue(cmd.Context(), configKey, cfg))
			return nil
		},
	}

	root.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./config.yaml)")
	root.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	root.AddCommand(newRunCmd())
	root.AddCommand(newReportCmd(NewStoreProvider()))
	root.AddCommand(newVersionCmd())
	return root
}

// Execute runs the command tree under the given signal-aware context and
// returns the failure, if any, for the caller to turn into an exit code.
func Execute(ctx context.Context) error {
	root := NewRootCommand()
	err := root.ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	return err
}

// initializeConfig layers the configuration sources onto v: .env file,
// config.yaml, TERAKOYA_* environment variables, then any explicitly set
// CLI flags.
func initializeConfig(cmd *cobra.Command, v *viper.Viper, cfgFile string) error {
	// Credentials usually live in a local .env; load it before viper
	// inspects the environment. A missing file is the normal case.
	_ = godotenv.Load()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("TERAKOYA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	for name, key := range flagBindings {
		f := cmd.Flags().Lookup(name)
		if f == nil || !f.Changed {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("binding flag %s: %w", name, err)
		}
	}
	return nil
}

// getConfigFromContext retrieves the Config the root bootstrap stored.
func getConfigFromContext(ctx context.Context) (*config.Config, error) {
	cfg, ok := ctx.Value(configKey).(*config.Config)
	if !ok || cfg == nil {
		return nil, errors.New("configuration missing from command context")
	}
	return cfg, nil
}
