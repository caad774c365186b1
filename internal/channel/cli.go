package channel

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"backroom/internal/chat"
	"backroom/internal/dispatch"
	"backroom/internal/domain"
	"backroom/internal/history"
	"backroom/internal/render"
)

const listenerName = "cli"

// CLI implements domain.View for interactive terminal chat.
type CLI struct {
	session  *chat.Session
	history  *history.Log
	term     *render.Terminal
	logger   *slog.Logger
	in       io.Reader
	out      io.Writer
	timeout  time.Duration
	spinner  bool
	outMu    sync.Mutex
	inflight sync.WaitGroup

	thinking  bool
	thinkMu   sync.Mutex
	thinkStop chan struct{}
	thinkDone chan struct{}
}

type CLIConfig struct {
	Session  *chat.Session
	History  *history.Log
	Renderer *render.Terminal
	Logger   *slog.Logger
	In       io.Reader
	Out      io.Writer
	// Timeout bounds each dispatch. Zero means no limit.
	Timeout time.Duration
	// Spinner animates a progress line while a reply is pending.
	Spinner bool
}

func NewCLI(cfg CLIConfig) *CLI {
	if cfg.In == nil {
		cfg.In = os.Stdin
	}
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	if cfg.Renderer == nil {
		cfg.Renderer = render.NewTerminal(cfg.Out, render.DefaultTheme(), false)
	}
	return &CLI{
		session: cfg.Session,
		history: cfg.History,
		term:    cfg.Renderer,
		logger:  cfg.Logger,
		in:      cfg.In,
		out:     cfg.Out,
		timeout: cfg.Timeout,
		spinner: cfg.Spinner,
	}
}

func (c *CLI) Name() string { return "cli" }

// Start runs the interactive REPL and blocks until input ends, the user
// quits, or ctx is cancelled. It waits for an in-flight dispatch before
// returning.
func (c *CLI) Start(ctx context.Context) error {
	c.history.OnAppend(listenerName, c.onBatch)
	defer c.history.Off(listenerName)
	defer c.inflight.Wait()

	c.printf("Backroom CLI, talking to %s. Type /help for commands, /quit to exit.\n", c.session.AgentID())
	c.prompt()

	scanner := bufio.NewScanner(c.in)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return err
			}
			return nil // EOF
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			c.prompt()
			continue
		}
		if strings.HasPrefix(line, "/") {
			if quit := c.command(line); quit {
				c.logger.Info("user requested quit")
				return nil
			}
			c.prompt()
			continue
		}
		c.submit(ctx, line)
	}
}

// command handles a slash command and reports whether the REPL should exit.
func (c *CLI) command(line string) bool {
	name, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	switch name {
	case "/quit", "/exit", "/q":
		return true
	case "/help":
		c.printf("%s", helpText)
	case "/attach":
		if arg == "" {
			c.printf("usage: /attach <path>\n")
			return false
		}
		if err := c.session.SelectAttachment(arg); err != nil {
			c.printf("cannot attach: %v\n", err)
			return false
		}
		f := c.session.Attachment()
		c.printf("attached %s (%s), it will be sent with your next message\n", f.Name, f.ContentType)
	case "/detach":
		c.session.ClearAttachment()
		c.printf("attachment cleared\n")
	case "/direct":
		c.printView(domain.ChannelDirect)
	case "/backroom":
		c.printView(domain.ChannelBackroom)
	default:
		c.printf("unknown command %s, type /help\n", name)
	}
	return false
}

const helpText = `Commands:
  /attach <path>  attach an image to the next message
  /detach         drop the selected attachment
  /direct         show the direct conversation
  /backroom       show the backroom feed
  /quit           exit
`

// submit dispatches line in the background. A second submission while one
// is pending is refused.
func (c *CLI) submit(ctx context.Context, line string) {
	if c.session.Pending() {
		c.printf("still waiting for the last reply\n")
		return
	}

	c.inflight.Add(1)
	go func() {
		defer c.inflight.Done()

		sendCtx := ctx
		if c.timeout > 0 {
			var cancel context.CancelFunc
			sendCtx, cancel = context.WithTimeout(ctx, c.timeout)
			defer cancel()
		}

		c.startThinking()
		_, err := c.session.Submit(sendCtx, line)
		c.stopThinking()

		switch {
		case err == nil:
		case errors.Is(err, chat.ErrDispatchPending):
			c.printf("still waiting for the last reply\n")
		default:
			c.logger.Warn("submit failed", "agent", c.session.AgentID(), "err", err)
			c.printf("error: %v\n", err)
			if f := c.session.Attachment(); f != nil {
				c.printf("attachment %s kept\n", f.Name)
			}
			if dispatch.IsRetryable(err) {
				c.printf("the agent may be busy, send again to retry\n")
			}
		}
		c.prompt()
	}()
}

// onBatch prints agent replies as they land in history. User messages are
// already on screen as typed input.
func (c *CLI) onBatch(batch []domain.Message) {
	c.stopThinking()

	var sb strings.Builder
	for _, m := range batch {
		if m.FromUser() {
			continue
		}
		if m.Channel == domain.ChannelBackroom {
			sb.WriteString(c.term.Header(domain.ChannelBackroom) + "\n")
		} else {
			sb.WriteString("--- " + m.Author + " ---\n")
		}
		sb.WriteString(c.term.Message(m))
	}
	if sb.Len() == 0 {
		return
	}
	c.printf("%s", sb.String())
}

func (c *CLI) printView(ch domain.Channel) {
	msgs := c.history.ByChannel(ch)
	var sb strings.Builder
	sb.WriteString(c.term.Header(ch) + "\n")
	if len(msgs) == 0 {
		sb.WriteString("(empty)\n")
	}
	for _, m := range msgs {
		sb.WriteString(c.term.Message(m))
	}
	c.printf("%s", sb.String())
}

func (c *CLI) prompt() { c.printf("You> ") }

func (c *CLI) printf(format string, args ...any) {
	c.outMu.Lock()
	defer c.outMu.Unlock()
	if c.spinner {
		_, _ = fmt.Fprint(c.out, "\r\033[K") // Clear spinner line
	}
	_, _ = fmt.Fprintf(c.out, format, args...)
}

func (c *CLI) startThinking() {
	if !c.spinner {
		return
	}
	c.thinkMu.Lock()
	defer c.thinkMu.Unlock()
	if c.thinking {
		return
	}
	c.thinking = true
	c.thinkStop = make(chan struct{})
	c.thinkDone = make(chan struct{})
	go func(stop, done chan struct{}) {
		defer close(done)
		frames := []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}
		i := 0
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				c.outMu.Lock()
				_, _ = fmt.Fprintf(c.out, "\r%s Waiting for %s...", frames[i%len(frames)], c.session.AgentID())
				c.outMu.Unlock()
				i++
			}
		}
	}(c.thinkStop, c.thinkDone)
}

func (c *CLI) stopThinking() {
	c.thinkMu.Lock()
	defer c.thinkMu.Unlock()
	if !c.thinking {
		return
	}
	c.thinking = false
	close(c.thinkStop)
	<-c.thinkDone
}

// Stop is a no-op for CLI (we exit when Start returns).
func (c *CLI) Stop() error { return nil }

var _ domain.View = (*CLI)(nil)
