package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/pavelanni/exambench/internal/dataset"
	appI18n "github.com/pavelanni/exambench/internal/i18n"
	"github.com/pavelanni/exambench/internal/model"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "exambench",
		Short:        "Benchmark language models on exam question banks",
		SilenceUsage: true,
		PersistentPreRun: func(*cobra.Command, []string) {
			// A missing .env file is fine; keys may come from the environment.
			_ = godotenv.Load()
		},
	}
	root.AddCommand(runCmd(), checkCmd(), diagnoseCmd(), modelsCmd(), runsCmd(), exportCmd(), serveCmd())
	return root
}

func addCommonFlags(f *pflag.FlagSet) {
	f.StringP("lang", "l", appI18n.DefaultLanguage, "Report language (en, ru)")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
}

func addProfileFlag(f *pflag.FlagSet) {
	f.StringP("profile", "p", "profile.yaml", "Path to the model profile (YAML or JSON)")
}

func setupLogging(v *viper.Viper) {
	var logLevel slog.Level
	switch strings.ToLower(v.GetString("log-level")) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	handlerOpts := &slog.HandlerOptions{Level: logLevel}
	var logHandler slog.Handler
	switch strings.ToLower(v.GetString("log-format")) {
	case "json":
		logHandler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	default:
		logHandler = slog.NewTextHandler(os.Stderr, handlerOpts)
	}
	slog.SetDefault(slog.New(logHandler))
}

// viperForCmd binds a command's flags and environment to a fresh viper instance.
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())

	v.SetEnvPrefix("EXAMBENCH")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("exambench")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/exambench")
	v.AddConfigPath("/etc/exambench")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Debug("loaded config file", "path", v.ConfigFileUsed())
	}
	return v
}

// setup prepares logging, translations and the viper instance shared by
// every command.
func setup(cmd *cobra.Command) (*viper.Viper, context.Context, error) {
	v := viperForCmd(cmd)
	setupLogging(v)
	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return nil, nil, fmt.Errorf("init i18n: %w", err)
	}
	return v, appI18n.Context(cmd.Context(), lang), nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func loadProfile(v *viper.Viper) (model.Profile, error) {
	path := v.GetString("profile")
	p, err := dataset.LoadProfile(path)
	if err != nil {
		return model.Profile{}, err
	}
	slog.Debug("loaded profile", "path", path, "id", p.ID, "bindings", len(p.Bindings))
	return p, nil
}

// openOutput returns stdout for "" or "-", otherwise a created file.
func openOutput(path string) (io.WriteCloser, error) {
	if path == "" || path == "-" {
		return nopCloser{os.Stdout}, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create output file: %w", err)
	}
	return f, nil
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }
