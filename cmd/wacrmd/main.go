package main

import (
	"flag"
	"fmt"
	"os"

	"go.uber.org/fx"

	"github.com/rafaelmv/wacrm/internal/config"
	"github.com/rafaelmv/wacrm/internal/daemon"
	"github.com/rafaelmv/wacrm/internal/session"
)

func main() {
	sessionFlag := flag.String("session", "", "session name (overrides config default)")
	listenFlag := flag.String("listen", "", "listen address (overrides config)")
	flag.Parse()

	sessionName := resolveSession(*sessionFlag)
	if err := session.ValidateName(sessionName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	app := fx.New(
		daemon.Module(daemon.Params{
			SessionName: sessionName,
			ListenAddr:  *listenFlag,
		}),
	)

	app.Run()
}

// resolveSession picks the session name: flag, then config default, then
// the built-in default.
func resolveSession(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if cfg, err := config.Load(session.ConfigPath()); err == nil && cfg.DefaultSession != "" {
		return cfg.DefaultSession
	}
	return session.DefaultSessionName
}
