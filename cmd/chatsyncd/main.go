package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/fx"

	"github.com/matheus3301/chatsync/internal/app"
	"github.com/matheus3301/chatsync/internal/session"
)

func main() {
	sessionFlag := flag.String("session", "", "session name (overrides config default)")
	configFlag := flag.String("config", "", "config file (default ~/.chatsync/config.toml)")
	listenFlag := flag.String("listen", "", "ops HTTP address, e.g. 127.0.0.1:9477 (overrides config)")
	flag.Parse()

	sessionName := session.Resolve(*sessionFlag)
	if err := session.ValidateName(sessionName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	fxApp := fx.New(
		fx.StartTimeout(45*time.Second),
		app.Module(app.Params{
			SessionName: sessionName,
			ConfigPath:  *configFlag,
			Listen:      *listenFlag,
		}),
	)

	fxApp.Run()
}
