package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/victornm/songquiz/internal/config"
	"github.com/victornm/songquiz/internal/server"
	"github.com/victornm/songquiz/internal/telemetry"
)

const releaseVersion = "0.1.0"

func main() {
	log.SetFlags(0)
	cobra.CheckErr(newCmd().Execute())
}

func newCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "songquiz",
		Short:         "Live music-guessing session server: one host, many players, one shared round.",
		Args:          cobra.ExactArgs(0),
		Version:       releaseVersion,
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	fs := cmd.Flags()
	fs.String("config", os.Getenv("CONFIG_PATH"), "path to a config file (env: CONFIG_PATH)")
	fs.Int32P("port", "p", 3000, "HTTP and websocket port (env: SONGQUIZ_HTTP_PORT)")
	fs.Int32("grpc-port", 3001, "gRPC health port (env: SONGQUIZ_GRPC_PORT)")
	fs.Int("total-rounds", 10, "rounds per game (env: SONGQUIZ_GAME_TOTALROUNDS)")
	fs.String("public-url", "", "URL encoded in the join QR code (env: SONGQUIZ_HTTP_PUBLICURL)")
	fs.String("log-level", "info", "debug, info, warn or error (env: SONGQUIZ_LOG_LEVEL)")
	fs.String("log-format", "text", "text or json (env: SONGQUIZ_LOG_FORMAT)")

	cmd.RunE = func(cmd *cobra.Command, _ []string) error {
		c, err := loadConfig(cmd.Flags())
		if err != nil {
			return err
		}

		if _, err := telemetry.SetupLogger(c.Log); err != nil {
			return err
		}

		return run(c)
	}

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})

	return cmd
}

func run(c server.Config) error {
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGTERM, os.Interrupt)

	s, err := server.Init(c)
	if err != nil {
		return fmt.Errorf("init server: %w", err)
	}

	errc := make(chan error, 1)
	go func() {
		errc <- s.Start()
	}()

	select {
	case <-shutdown:
		s.Shutdown()
		return <-errc
	case err := <-errc:
		s.Shutdown()
		return err
	}
}

func loadConfig(fs *pflag.FlagSet) (server.Config, error) {
	c := server.DefaultConfig()

	file, err := fs.GetString("config")
	if err != nil {
		return c, err
	}

	err = config.Load(file, &c,
		config.BindFlag("http.port", fs.Lookup("port")),
		config.BindFlag("grpc.port", fs.Lookup("grpc-port")),
		config.BindFlag("game.totalRounds", fs.Lookup("total-rounds")),
		config.BindFlag("http.publicURL", fs.Lookup("public-url")),
		config.BindFlag("log.level", fs.Lookup("log-level")),
		config.BindFlag("log.format", fs.Lookup("log-format")),
	)
	if err != nil {
		return c, fmt.Errorf("load config: %w", err)
	}

	return c, nil
}
