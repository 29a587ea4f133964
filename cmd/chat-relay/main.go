package main

import (
	"club-link/applog"
	"club-link/launcher"
	"club-link/relay"
	"context"
	"fmt"
	"github.com/spf13/cobra"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGQUIT, syscall.SIGTERM)
	defer cancel()

	info := &launcher.RelayInfo{}
	cmd := launcher.NewRelayCommand(info, run)
	if err := cmd.ExecuteContext(ctx); err != nil {
		cancel()
		fmt.Fprintf(os.Stderr, "chat-relay: %v\n", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, info *launcher.RelayInfo) error {
	ctx := cmd.Context()

	if err := applog.InitializeNamed("relay", info.LogLevel, info.LogPath); err != nil {
		fmt.Printf("Failed to initialize app logger: %v\n", err)
	}
	defer applog.Shutdown()
	defer applog.LogExit(ctx, "Relay")

	applog.LogStartupInfo(info)

	return relay.NewServer(info.ServerConfig()).ListenAndServe(ctx, info.Address())
}
