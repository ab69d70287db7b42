// Command chatcli is a terminal client for the conversation gateway.
//
//	chatcli -token <token> -conversation <id>
//
// Each input line is sent as a message. Commands: "/read <messageID>",
// "/typing", "/reconnect" and "/quit".
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"campuschat/internal/client"
	"campuschat/internal/models"
)

func main() {
	url := flag.String("url", "ws://localhost:8080/ws", "Gateway URL")
	token := flag.String("token", os.Getenv("CAMPUSCHAT_TOKEN"), "Access token (defaults to $CAMPUSCHAT_TOKEN)")
	conversationID := flag.String("conversation", "", "Conversation to post into")
	flag.Parse()

	if *token == "" || *conversationID == "" {
		flag.Usage()
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, *url, *token, *conversationID, os.Stdin, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "chatcli: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, url, token, conversationID string, in io.Reader, out io.Writer) error {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	c, err := client.New(client.Config{URL: url, Token: token, Logger: logger})
	if err != nil {
		return err
	}
	defer func() { _ = c.Close() }()

	printer := &printer{out: out, conversationID: conversationID}
	for _, typ := range []models.ServerMessageType{
		models.ServerMessageTypeNewMessage,
		models.ServerMessageTypeTypingIndicator,
		models.ServerMessageTypeReadReceipt,
		models.ServerMessageTypeUserStatus,
		models.ServerMessageTypeError,
	} {
		c.Subscribe(string(typ), printer.event)
	}
	c.Subscribe(client.EventConnectionStatus, printer.status)

	if err := c.Connect(ctx); err != nil {
		fmt.Fprintf(out, "* initial connect failed, retrying in the background: %v\n", err)
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if quit := handleLine(ctx, c, conversationID, line, out); quit {
				return nil
			}
		}
	}
}

func handleLine(ctx context.Context, c *client.Client, conversationID, line string, out io.Writer) bool {
	line = strings.TrimSpace(line)
	switch {
	case line == "":
		return false
	case line == "/quit":
		return true
	case line == "/reconnect":
		if err := c.Connect(ctx); err != nil {
			fmt.Fprintf(out, "* reconnect failed: %v\n", err)
		}
		return false
	case strings.HasPrefix(line, "/read "):
		id := strings.TrimSpace(strings.TrimPrefix(line, "/read "))
		if err := c.SendReadReceipt(conversationID, id); err != nil {
			fmt.Fprintf(out, "* not sent: %v\n", err)
		}
		return false
	case line == "/typing":
		// withdrawn automatically after client.TypingTimeout
		if err := c.Typing(conversationID); err != nil {
			fmt.Fprintf(out, "* not sent: %v\n", err)
		}
		return false
	}

	_ = c.StopTyping(conversationID)
	if err := c.SendMessage(conversationID, line); err != nil {
		fmt.Fprintf(out, "* not sent: %v\n", err)
	}
	return false
}

type printer struct {
	mu             sync.Mutex
	out            io.Writer
	conversationID string
}

func (p *printer) event(ev client.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	m := ev.Message
	if m.ConversationID != "" && m.ConversationID != p.conversationID {
		return
	}
	switch m.Type {
	case models.ServerMessageTypeNewMessage:
		fmt.Fprintf(p.out, "[%s] %s: %s  (%s)\n", m.Message.CreatedAt.Local().Format("15:04"), m.Message.Sender, m.Message.Content, m.Message.ID)
	case models.ServerMessageTypeTypingIndicator:
		if m.IsTyping != nil && *m.IsTyping {
			fmt.Fprintf(p.out, "* %s is typing...\n", m.UserID)
		}
	case models.ServerMessageTypeReadReceipt:
		fmt.Fprintf(p.out, "* %s read %s\n", m.ReadBy, m.MessageID)
	case models.ServerMessageTypeUserStatus:
		fmt.Fprintf(p.out, "* %s is %s\n", m.UserID, m.Status)
	case models.ServerMessageTypeError:
		fmt.Fprintf(p.out, "! %s\n", m.Error)
	}
}

func (p *printer) status(ev client.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch ev.Status {
	case client.StatusConnected:
		fmt.Fprintln(p.out, "* connected")
	case client.StatusFailed:
		fmt.Fprintln(p.out, "* gave up reconnecting, type /reconnect to try again")
	case client.StatusDisconnected:
		if ev.Err != nil {
			fmt.Fprintf(p.out, "* disconnected: %v\n", ev.Err)
		}
	}
}
