package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/omochice/toy-file-chat/internal/config"
	"github.com/omochice/toy-file-chat/internal/logging"
	"github.com/omochice/toy-file-chat/internal/relay"
	"github.com/omochice/toy-file-chat/pkg/protocol"
)

var cfg = config.DefaultRelay()

var rootCmd = &cobra.Command{
	Use:          "chat-relay",
	Short:        "Relay chat messages and files between clients",
	SilenceUsage: true,
	RunE:         runRelay,
}

func init() {
	flags := rootCmd.Flags()
	flags.StringVar(&cfg.Listen, "listen", cfg.Listen, "address serving WebSocket and line TCP clients")
	flags.StringVar(&cfg.Bytes, "bytes", cfg.Bytes, "file data encoding on the wire: array or base64")
	flags.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (debug, info, warn, error)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("execute chat-relay command")
	}
}

func runRelay(cmd *cobra.Command, args []string) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger := logging.New(cfg.LogLevel, cmd.ErrOrStderr())
	log.Logger = logger

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := relay.NewServer(cfg.Listen,
		relay.WithLogger(logger),
		relay.WithCodec(protocol.NewCodec(cfg.ByteEncoding())),
	)
	if err := srv.Start(); err != nil {
		return err
	}

	<-ctx.Done()
	log.Info().Msg("[relay] shutting down")
	srv.Stop()
	return nil
}
