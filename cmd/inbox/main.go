package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"krewup-messaging/internal/client"
	"krewup-messaging/internal/config"
	"krewup-messaging/internal/inbox"
	"krewup-messaging/internal/logging"
	"krewup-messaging/internal/syncer"

	tea "github.com/charmbracelet/bubbletea"
)

func main() {
	apiURL := flag.String("api", envOr("KREWUP_API", "http://localhost:8080"), "messaging API base URL")
	token := flag.String("token", os.Getenv("KREWUP_TOKEN"), "bearer token (or KREWUP_TOKEN)")
	pollingPath := flag.String("polling", "", "polling profiles YAML (defaults built in)")
	logPath := flag.String("log", "", "write debug logs to this file")
	noHints := flag.Bool("no-hints", false, "poll only, do not open the hint websocket")
	flag.Parse()

	if err := run(*apiURL, *token, *pollingPath, *logPath, !*noHints); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(apiURL, token, pollingPath, logPath string, hints bool) error {
	if token == "" {
		return fmt.Errorf("a token is required: pass -token or set KREWUP_TOKEN (krewup-admin token <user-id> mints one)")
	}

	var logOut io.Writer = io.Discard
	if logPath != "" {
		f, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		defer f.Close()
		logOut = f
	}
	logger := logging.New("json", "debug", logOut)

	polling, err := config.LoadPolling(pollingPath)
	if err != nil {
		return err
	}

	api := client.New(apiURL, token)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	meCtx, meCancel := context.WithTimeout(ctx, 10*time.Second)
	me, err := api.Me(meCtx)
	meCancel()
	if err != nil {
		return fmt.Errorf("sign in: %w", err)
	}

	in := syncer.NewInbox(api, syncConfig(polling.Conversations), syncConfig(polling.Messages), logger)
	defer in.Close()

	if hints {
		hintsURL, err := api.HintsURL()
		if err != nil {
			return err
		}
		go client.NewHintListener(hintsURL, in.Bus, in.Cache.Keys, logger).Run(ctx)
	}

	if err := in.Conversations.Start(); err != nil {
		return err
	}

	p := tea.NewProgram(inbox.New(in, me.ID), tea.WithAltScreen(), tea.WithReportFocus())
	_, err = p.Run()
	return err
}

func syncConfig(p config.PollingProfile) syncer.Config {
	return syncer.Config{
		BaseInterval: p.BaseInterval(),
		MaxInterval:  p.MaxInterval(),
		ActiveWindow: p.ActiveWindow(),
		FetchTimeout: p.FetchTimeout(),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
