package main

import (
	"club-link/applog"
	"club-link/catalog"
	"club-link/console"
	"club-link/launcher"
	"club-link/session"
	"club-link/transport"
	"club-link/transport/httprelay"
	"club-link/transport/wsrelay"
	"context"
	"fmt"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"os"
	"os/signal"
	"syscall"
)

// relayChannel is a transport channel with its own connection loop.
type relayChannel interface {
	transport.Channel
	Run(ctx context.Context) error
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGQUIT, syscall.SIGTERM)
	defer cancel()

	info := &launcher.Info{}
	cmd := launcher.NewCommand(info, run)
	if err := cmd.ExecuteContext(ctx); err != nil {
		cancel()
		fmt.Fprintf(os.Stderr, "club-link: %v\n", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, info *launcher.Info) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	if err := applog.Initialize(info.MemberId, info.LogLevel, info.LogPath); err != nil {
		fmt.Printf("Failed to initialize app logger: %v\n", err)
	}
	defer applog.Shutdown()
	defer applog.LogExit(ctx, "Client")

	applog.LogStartupInfo(info)

	cat, err := loadCatalog(info.CatalogPath)
	if err != nil {
		return err
	}

	peers, err := info.ParsePeers()
	if err != nil {
		return err
	}
	npcs, err := info.ParseNpcs()
	if err != nil {
		return err
	}
	others := make([]console.Member, 0, len(peers))
	for _, peer := range peers {
		others = append(others, console.Member{Id: peer.Id, Name: peer.Name, Owned: peer.Owned, Online: true})
	}
	host := console.New(os.Stdout, console.Member{Id: info.MemberId, Name: info.MemberName}, others, npcs)

	var channel relayChannel
	switch info.Transport {
	case launcher.TransportHTTP:
		client := httprelay.New(info.RelayURL, info.Room, info.MemberId, info.ReconnectInterval)
		defer func() {
			_ = client.Close()
		}()
		channel = client
	default:
		client := wsrelay.New(info.RelayURL, info.Room, info.MemberId, info.ReconnectInterval)
		host.SetInChatRoom(false)
		client.OnConnectionChange(host.SetInChatRoom)
		channel = client
	}
	go func() {
		if err := channel.Run(ctx); err != nil {
			applog.Error("Chat relay connection stopped", zap.Error(err))
			cancel()
		}
	}()

	sess, err := session.New(ctx, info.SessionConfig(), host.Host(), cat, channel)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	go sess.Start()

	shell := console.NewShell(host, sess, cat)
	fmt.Println("Type 'help' for the list of commands.")
	if err := shell.Run(ctx, os.Stdin); err != nil {
		applog.Error("Reading commands failed", zap.Error(err))
	}

	cancel()
	<-sess.Done()
	return nil
}

func loadCatalog(path string) (*catalog.Catalog, error) {
	if path == "" {
		return catalog.Default()
	}
	cat, err := catalog.LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load catalogue: %w", err)
	}
	applog.Info("Loaded catalogue", zap.String("path", path),
		zap.Int("activities", len(cat.Activities())),
		zap.Int("rooms", len(cat.Rooms())),
	)
	return cat, nil
}
