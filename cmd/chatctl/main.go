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
	"syscall"
	"time"

	"fitchat/internal/chat"
	"fitchat/internal/wsclient"
)

func main() {
	url := flag.String("url", "ws://localhost:8080/api/realtime", "Realtime endpoint")
	community := flag.String("community", "", "Community to join")
	username := flag.String("user", "", "Username the token was issued for")
	noAutoRead := flag.Bool("no-auto-read", false, "Do not mark delivered messages as read")
	flag.Parse()

	token := os.Getenv("FITCHAT_TOKEN")
	if *community == "" || *username == "" || token == "" {
		fmt.Println("Usage: FITCHAT_TOKEN=<token> chatctl -community <id> -user <name> [-url ws://host/api/realtime]")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, *url, token, chat.Config{
		Community:       *community,
		Username:        *username,
		DisableAutoRead: *noAutoRead,
		Logger:          slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})),
	}); err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, url, token string, cfg chat.Config) error {
	client, err := wsclient.Dial(ctx, url, token, wsclient.Options{Logger: cfg.Logger})
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	session, err := chat.Join(ctx, client, cfg)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = session.Close(closeCtx)
	}()

	lines := make(chan string)
	go readLines(os.Stdin, lines)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-client.Done():
			return fmt.Errorf("connection lost")
		case _, ok := <-session.Updates():
			if !ok {
				return nil
			}
			render(os.Stdout, session, cfg.Username)
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if _, err := session.Send(ctx, line); err != nil {
				fmt.Printf("send failed: %v\n", err)
			}
		}
	}
}

func readLines(r io.Reader, out chan<- string) {
	defer close(out)
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		out <- sc.Text()
	}
}

// render redraws the screen. Read marks are drawn on the user's own messages
// only.
func render(w io.Writer, s *chat.Session, username string) {
	fmt.Fprintf(w, "\033[H\033[2J")
	fmt.Fprintf(w, "online: %s\n\n", strings.Join(s.Online(), ", "))
	for _, m := range s.View() {
		ts := time.UnixMilli(m.Timestamp).Format("15:04:05")
		fmt.Fprintf(w, "%s %-12s %s%s\n", ts, m.AuthorName, m.Text, readMark(m, username))
	}
}

func readMark(m chat.MessageView, username string) string {
	if m.AuthorName != username {
		return ""
	}
	switch {
	case m.ReadByAll:
		return " ✓✓"
	case m.ReadByMe:
		return " ✓"
	}
	return ""
}
