package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/omochice/toy-file-chat/internal/config"
	"github.com/omochice/toy-file-chat/internal/filetransfer"
	"github.com/omochice/toy-file-chat/internal/logging"
	"github.com/omochice/toy-file-chat/internal/session"
	"github.com/omochice/toy-file-chat/internal/transport"
	"github.com/omochice/toy-file-chat/internal/transport/gorilla"
	"github.com/omochice/toy-file-chat/internal/transport/tcp"
	"github.com/omochice/toy-file-chat/internal/transport/ws"
	"github.com/omochice/toy-file-chat/pkg/protocol"
)

var cfg = config.DefaultClient()

var rootCmd = &cobra.Command{
	Use:          "chat-client",
	Short:        "Chat and share files through a relay",
	Long:         "Chat and share files through a relay.\n\n" + helpText,
	SilenceUsage: true,
	RunE:         runClient,
}

func init() {
	flags := rootCmd.Flags()
	flags.StringVar(&cfg.Server, "server", cfg.Server, "relay address to connect to on startup (ws://, wss:// or tcp://)")
	flags.StringVar(&cfg.Name, "name", cfg.Name, "display name announced to the relay")
	flags.StringVar(&cfg.Transport, "transport", cfg.Transport, "WebSocket implementation: gobwas or gorilla")
	flags.StringVar(&cfg.Bytes, "bytes", cfg.Bytes, "file data encoding on the wire: array or base64")
	flags.StringVar(&cfg.DownloadDir, "download-dir", cfg.DownloadDir, "directory for downloaded files")
	flags.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (debug, info, warn, error)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("execute chat-client command")
	}
}

func runClient(cmd *cobra.Command, args []string) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger := logging.New(cfg.LogLevel, cmd.ErrOrStderr())
	log.Logger = logger

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s := session.New(newDialer(cfg.Transport),
		session.WithLogger(logger),
		session.WithCodec(protocol.NewCodec(cfg.ByteEncoding())),
		session.WithSaver(filetransfer.DirSaver{Dir: cfg.DownloadDir}),
	)
	defer s.Close()

	c := newConsole(s, cmd.OutOrStdout())
	if cfg.Server != "" {
		s.Connect(ctx, cfg.Server, cfg.Name)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.render(gctx) })
	g.Go(func() error { return c.readInput(gctx, cmd.InOrStdin()) })

	err := g.Wait()
	if errors.Is(err, errQuit) {
		log.Debug().Msg("[client] quit")
		return nil
	}
	return err
}

// newDialer routes tcp:// to the line transport and ws:// and wss:// to the
// selected WebSocket implementation.
func newDialer(name string) transport.Dialer {
	mux := transport.NewMux().Handle(&tcp.Dialer{}, "tcp")
	switch name {
	case config.TransportGorilla:
		mux.Handle(gorilla.Dialer{}, "ws", "wss")
	default:
		mux.Handle(ws.Dialer{}, "ws", "wss")
	}
	return mux
}
