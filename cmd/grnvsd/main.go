package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/danmuck/grnvsctl/internal/logging"
	"github.com/danmuck/grnvsctl/internal/server"
)

func main() {
	configPath := flag.String("config", "", "TOML config path (defaults apply when omitted)")
	flag.Parse()

	logging.ConfigureRuntime()

	cfg, err := loadServerConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "grnvsd: %v\n", err)
		os.Exit(1)
	}
	svc, err := server.NewService(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "grnvsd: %v\n", err)
		os.Exit(1)
	}
	if err := svc.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "grnvsd: %v\n", err)
		os.Exit(1)
	}
}
