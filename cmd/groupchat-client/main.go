// Command groupchat-client is a console front end for the group chat service.
// It implements the engine's UI callbacks on the terminal: chat lines and
// roster updates are printed as they arrive, stdin lines are sent as chat.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"groupchat/internal/client"
	"groupchat/internal/config"
	"groupchat/internal/logger"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath string
		host       string
		name       string
	)

	cmd := &cobra.Command{
		Use:     "groupchat-client",
		Short:   "Console client for the group chat service",
		Version: config.ClientVersion,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath, host, name)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "path to a JSON config file")
	cmd.Flags().StringVar(&host, "host", "localhost", "server host to connect to")
	cmd.Flags().StringVar(&name, "name", "", "display name to join with")
	_ = cmd.MarkFlagRequired("name")

	return cmd
}

// consoleUI renders the engine's callbacks on the terminal.
type consoleUI struct {
	chat   *color.Color
	roster *color.Color
	alert  *color.Color
}

func newConsoleUI() *consoleUI {
	return &consoleUI{
		chat:   color.New(color.FgCyan),
		roster: color.New(color.FgGreen),
		alert:  color.New(color.FgRed, color.Bold),
	}
}

func (u *consoleUI) ShowChatMessage(text string) {
	_, _ = u.chat.Println(text)
}

func (u *consoleUI) UpdateRoster(names []string) {
	_, _ = u.roster.Printf("Online (%d): %s\n", len(names), strings.Join(names, ", "))
}

func (u *consoleUI) Alert(message string) {
	_, _ = u.alert.Println(message)
}

func run(configPath, host, name string) error {
	cfg := config.DefaultClientConfig()
	if configPath != "" {
		var err error
		if cfg, err = config.LoadClientConfig(configPath); err != nil {
			return err
		}
	}

	log := logger.NewZerologLogger(zerolog.New(os.Stderr), "groupchat-client", zerolog.WarnLevel)
	ui := newConsoleUI()
	engine := client.NewEngine(cfg, log, ui)

	addr := net.JoinHostPort(host, strconv.Itoa(cfg.ServerPort))
	if err := engine.Connect(addr, name); err != nil {
		switch {
		case errors.Is(err, client.ErrDenied):
			return fmt.Errorf("the server is full, try again later")
		case errors.Is(err, client.ErrNetwork):
			return fmt.Errorf("could not reach %s: %w", addr, err)
		default:
			return err
		}
	}
	defer engine.Shutdown()

	fmt.Printf("Connected to %s as %s. Type to chat, /quit to leave.\n", addr, name)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	lines := make(chan string)
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return nil
			}
		}
		return scanner.Err()
	})

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return g.Wait()
			}
			line = strings.TrimSpace(line)
			if line == "/quit" {
				stop()
				return nil
			}
			if line != "" {
				engine.SendChat(line)
			}
		}
	}
}
