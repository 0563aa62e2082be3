// ABOUTME: Terminal chat loop keeping one in-memory conversation per session
// ABOUTME: Supports /reset, /branch N, /history and /quit alongside plain messages

package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"github.com/fatih/color"

	"github.com/2389/coven-assistant/internal/conversation"
)

// Processor runs turns. *assistant.Engine implements it.
type Processor interface {
	NewConversation() *conversation.Conversation
	Process(ctx context.Context, conv *conversation.Conversation, user conversation.UserMessage) (*conversation.Update, error)
}

// Config configures a REPL.
type Config struct {
	Engine   Processor
	In       io.Reader
	Out      io.Writer
	UserName string
	Logger   *slog.Logger
}

// REPL is an interactive chat session over a reader and a writer.
type REPL struct {
	engine Processor
	in     io.Reader
	out    io.Writer
	user   string
	logger *slog.Logger

	conv *conversation.Conversation
}

var (
	replyColor  = color.New(color.FgWhite, color.Bold)
	errorColor  = color.New(color.FgRed)
	noticeColor = color.New(color.FgHiBlack)
	promptColor = color.New(color.FgCyan)
)

// New creates a REPL.
func New(cfg Config) *REPL {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &REPL{
		engine: cfg.Engine,
		in:     cfg.In,
		out:    cfg.Out,
		user:   cfg.UserName,
		logger: logger.With("component", "cli"),
	}
}

// Run reads lines until EOF, /quit, or ctx is done.
func (r *REPL) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	r.conv = r.engine.NewConversation()
	lines := r.readLines(ctx)

	noticeColor.Fprintln(r.out, "Type a message and press Enter. /help for commands.")
	for {
		promptColor.Fprint(r.out, "> ")

		var line readResult
		select {
		case <-ctx.Done():
			return nil
		case line = <-lines:
		}
		if line.err != nil {
			if errors.Is(line.err, io.EOF) {
				fmt.Fprintln(r.out)
				return nil
			}
			return fmt.Errorf("reading input: %w", line.err)
		}

		input := strings.TrimSpace(line.text)
		if input == "" {
			continue
		}
		if quit := r.handle(ctx, input); quit {
			return nil
		}
	}
}

type readResult struct {
	text string
	err  error
}

// readLines scans input on its own goroutine so Run can observe ctx.
// The goroutine exits at EOF, or once ctx is done and the blocked read returns.
func (r *REPL) readLines(ctx context.Context) <-chan readResult {
	out := make(chan readResult)
	go func() {
		scanner := bufio.NewScanner(r.in)
		for scanner.Scan() {
			select {
			case out <- readResult{text: scanner.Text()}:
			case <-ctx.Done():
				return
			}
		}
		err := scanner.Err()
		if err == nil {
			err = io.EOF
		}
		select {
		case out <- readResult{err: err}:
		case <-ctx.Done():
		}
	}()
	return out
}

func (r *REPL) handle(ctx context.Context, input string) (quit bool) {
	cmd, arg, _ := strings.Cut(input, " ")
	switch cmd {
	case "/quit", "/exit", "/q":
		return true
	case "/help":
		r.printHelp()
	case "/reset":
		r.conv = r.engine.NewConversation()
		noticeColor.Fprintln(r.out, "Started a new conversation.")
	case "/branch":
		r.branch(strings.TrimSpace(arg))
	case "/history":
		r.printHistory()
	default:
		r.send(ctx, input)
	}
	return false
}

func (r *REPL) send(ctx context.Context, input string) {
	user := conversation.NewUserText(input)
	user.Name = r.user

	r.logger.Info("sending message", "conversation_id", r.conv.ID(), "length", len(input))
	update, err := r.engine.Process(ctx, r.conv, user)
	if err != nil {
		errorColor.Fprintf(r.out, "[error] %v\n", err)
		return
	}

	reply := update.AssistantMessage()
	if reply.IsSensitive {
		noticeColor.Fprintln(r.out, "[sensitive]")
	}
	fmt.Fprint(r.out, ">> ")
	replyColor.Fprintln(r.out, reply.Text)
	for _, att := range update.Attachments() {
		if img, ok := att.(conversation.ImageAttachment); ok {
			noticeColor.Fprintf(r.out, "   [image] %s %s\n", img.URL, img.Description)
		}
	}

	next, err := update.Finish()
	if err != nil {
		errorColor.Fprintf(r.out, "[error] %v\n", err)
		return
	}
	r.conv = next
}

func (r *REPL) branch(arg string) {
	n, err := strconv.Atoi(arg)
	if err != nil {
		errorColor.Fprintln(r.out, "[error] usage: /branch N")
		return
	}
	branched, err := r.conv.Branch(n)
	if err != nil {
		errorColor.Fprintf(r.out, "[error] %v\n", err)
		return
	}
	r.conv = branched
	noticeColor.Fprintf(r.out, "Branched into %s with %d messages.\n", branched.ID(), branched.Len())
}

func (r *REPL) printHistory() {
	noticeColor.Fprintf(r.out, "conversation %s\n", r.conv.ID())
	for i, m := range r.conv.Messages() {
		fmt.Fprintf(r.out, "%3d %s\n", i, summarize(m))
	}
}

func summarize(m conversation.Message) string {
	switch m := m.(type) {
	case conversation.SystemMessage:
		return "system: " + m.Text
	case conversation.UserMessage:
		return "user: " + m.Text()
	case conversation.FunctionCallsMessage:
		names := make([]string, len(m.Calls))
		for i, c := range m.Calls {
			names[i] = c.Name
		}
		return "calls: " + strings.Join(names, ", ")
	case conversation.FunctionResponseMessage:
		return "result: " + m.Name
	case conversation.AssistantMessage:
		return "assistant: " + m.Text
	default:
		return fmt.Sprintf("%T", m)
	}
}

func (r *REPL) printHelp() {
	fmt.Fprintln(r.out, "Commands:")
	fmt.Fprintln(r.out, "  /reset      start a new conversation")
	fmt.Fprintln(r.out, "  /branch N   continue from the first N messages")
	fmt.Fprintln(r.out, "  /history    show the current conversation")
	fmt.Fprintln(r.out, "  /quit       leave")
}
