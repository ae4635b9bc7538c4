// Command pantry is the terminal client of pantryd.
//
//	pantry [config.yaml]
//
// The server address comes from client.base_url or PANTRY_CLIENT_BASE_URL.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/kasuganosora/pantry/config"
	"github.com/kasuganosora/pantry/inventory"
	"github.com/kasuganosora/pantry/logging"
	"github.com/kasuganosora/pantry/sdk"
	"github.com/kasuganosora/pantry/session"
	"github.com/kasuganosora/pantry/ui"
	"go.uber.org/zap"
)

func main() {
	cfgPath := ""
	if len(os.Args) > 1 {
		cfgPath = os.Args[1]
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger, err := logging.New(false, cfg.Client.LogLevel, cfg.Log)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	client := sdk.New(cfg.Client.BaseURL, sdk.WithLogger(logger))
	defer client.Close()

	gate := session.NewGate(client.Auth(), logger)
	ctrl := ui.NewController(gate,
		inventory.NewService(client.Docs(), cfg.Client.Collection, logger), logger)
	ctrl.Mount()
	defer ctrl.Unmount()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Printf("pantry: connected to %s\n%s\n\n", cfg.Client.BaseURL, ui.Help())
	if err := run(ctx, ctrl, bufio.NewScanner(os.Stdin)); err != nil {
		logger.Error("input", zap.Error(err))
	}
}

func run(ctx context.Context, ctrl *ui.Controller, in *bufio.Scanner) error {
	_ = ctrl.Render(os.Stdout)
	for {
		fmt.Print("> ")
		if !in.Scan() {
			return in.Err()
		}
		if ctx.Err() != nil {
			return nil
		}
		err := ctrl.Execute(ctx, in.Text())
		switch {
		case errors.Is(err, ui.ErrQuit):
			return nil
		case errors.Is(err, ui.ErrUsage):
			fmt.Printf("%v\n%s\n", err, ui.Help())
			continue
		}
		// Other failures are part of the rendered view.
		fmt.Println()
		_ = ctrl.Render(os.Stdout)
	}
}
