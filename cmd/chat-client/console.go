package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/omochice/toy-file-chat/internal/eventlog"
	"github.com/omochice/toy-file-chat/internal/filetransfer"
	"github.com/omochice/toy-file-chat/internal/session"
	"github.com/omochice/toy-file-chat/pkg/protocol"
)

// errQuit ends the input loop and with it the command.
var errQuit = errors.New("quit")

const helpText = `Commands:
  /connect <addr> <name>   connect to a relay, replacing any current connection
  /to <dest> <text>        send a direct message
  /file <path> [dest]      send a file, to everyone unless dest is given
  /download <id>           save a received file; id is the prefix shown with it
  /status                  show the connection state
  /quit                    exit
Any other line is sent to everyone.`

// shortIDLen is how much of an entry ID is shown for /download.
const shortIDLen = 8

// console is the line-mode front end: it turns input lines into session
// operations and prints new log entries.
type console struct {
	session *session.Session

	mu      sync.Mutex // guards out and lastSeq
	out     io.Writer
	lastSeq uint64
}

func newConsole(s *session.Session, out io.Writer) *console {
	return &console{session: s, out: out}
}

// render prints new entries oldest-first until ctx is done.
func (c *console) render(ctx context.Context) error {
	for {
		changed := c.session.Changed()
		c.flush()
		select {
		case <-ctx.Done():
			c.flush()
			return nil
		case <-changed:
		}
	}
}

// flush prints every entry not yet printed.
func (c *console) flush() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.session.Log().Since(c.lastSeq) {
		fmt.Fprintln(c.out, formatEntry(e))
		c.lastSeq = e.Seq
	}
}

func (c *console) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, format+"\n", args...)
}

// readInput handles lines from r until /quit, end of input or ctx is done.
func (c *console) readInput(ctx context.Context, r io.Reader) error {
	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					if err != nil {
						return fmt.Errorf("failed to read input: %w", err)
					}
				default:
				}
				return errQuit
			}
			if err := c.handle(ctx, line); err != nil {
				return err
			}
		}
	}
}

// handle runs one input line. Only errQuit is returned; other failures are
// printed.
func (c *console) handle(ctx context.Context, line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	if !strings.HasPrefix(line, "/") {
		c.report(c.session.SendChat(ctx, line, ""))
		return nil
	}

	cmd, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)
	switch cmd {
	case "/quit", "/exit":
		return errQuit
	case "/help":
		c.printf("%s", helpText)
	case "/connect":
		fields := strings.Fields(rest)
		if len(fields) != 2 {
			c.printf("usage: /connect <addr> <name>")
			return nil
		}
		c.session.Connect(ctx, fields[0], fields[1])
	case "/to":
		dest, text, _ := strings.Cut(rest, " ")
		text = strings.TrimSpace(text)
		if dest == "" || text == "" {
			c.printf("usage: /to <dest> <text>")
			return nil
		}
		c.report(c.session.SendChat(ctx, text, dest))
	case "/file":
		fields := strings.Fields(rest)
		if len(fields) < 1 || len(fields) > 2 {
			c.printf("usage: /file <path> [dest]")
			return nil
		}
		dest := ""
		if len(fields) == 2 {
			dest = fields[1]
		}
		c.report(c.session.UploadFile(ctx, filetransfer.LocalFile(fields[0]), dest))
	case "/download":
		if rest == "" {
			c.printf("usage: /download <id>")
			return nil
		}
		c.download(rest)
	case "/status":
		c.printf("state: %s, connected: %t", c.session.State(), c.session.Connected())
	default:
		c.printf("unknown command %s, try /help", cmd)
	}
	return nil
}

func (c *console) download(prefix string) {
	var match *eventlog.Entry
	for _, e := range c.session.Events() {
		if _, ok := e.Message.Content.(protocol.File); !ok {
			continue
		}
		if strings.HasPrefix(e.ID.String(), prefix) {
			if match != nil {
				c.printf("ambiguous id %s", prefix)
				return
			}
			match = &e
		}
	}
	if match == nil {
		c.printf("no file with id %s", prefix)
		return
	}

	path, err := c.session.DownloadFile(match.Message.Content.(protocol.File))
	if err != nil {
		c.report(err)
		return
	}
	c.printf("saved %s", path)
}

func (c *console) report(err error) {
	if err == nil {
		return
	}
	log.Debug().Err(err).Msg("[client] command failed")
	c.printf("error: %v", err)
}

func formatEntry(e eventlog.Entry) string {
	msg := e.Message
	if msg.IsSystem() {
		if chat, ok := msg.Content.(protocol.Chat); ok {
			return fmt.Sprintf("*** %s ***", chat.Text)
		}
	}

	from := msg.Sender
	if msg.Destination != "" {
		from = fmt.Sprintf("%s to %s", msg.Sender, msg.Destination)
	}
	switch content := msg.Content.(type) {
	case protocol.Chat:
		return fmt.Sprintf("%s [%s]: %s", e.At.Format("15:04"), from, content.Text)
	case protocol.File:
		return fmt.Sprintf("%s [%s]: file %s (%d bytes), /download %s",
			e.At.Format("15:04"), from, content.Filename, len(content.Data), e.ID.String()[:shortIDLen])
	default:
		return fmt.Sprintf("%s [%s]: ?", e.At.Format("15:04"), from)
	}
}
