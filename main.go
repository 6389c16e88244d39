package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
)

const Version = "0.3.0"

func main() {
	configPath := flag.String("config", "", "Path to JSON config file")
	dataDir := flag.String("data", "", "Data directory (overrides config file)")
	listenAddr := flag.String("listen", "", "P2P listen address host:port (overrides config file)")
	testnet := flag.Bool("testnet", false, "Run against testnet parameters")
	flag.Parse()

	cfg := DefaultConfig()
	if *configPath != "" {
		loaded, err := LoadConfig(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	cfg = applyFlags(cfg, dataDir, listenAddr, testnet)

	log.Printf("cnnode %s starting", Version)
	daemon, err := NewDaemon(cfg, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	if err := daemon.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	log.Println("received shutdown signal")
	if err := daemon.Stop(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
