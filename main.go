package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mark0725/natproxy-go/internal/config"
	"github.com/mark0725/natproxy-go/internal/tunnel"
)

func sigIntHandler(cancel context.CancelFunc) {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	cancel()
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if len(os.Args) > 1 && (os.Args[1] == "-h" || os.Args[1] == "--help") {
		fmt.Print(config.Usage())
		os.Exit(0)
	}

	opt, err := config.ParseArgs(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "natproxy: %v\n%s", err, config.Usage())
		os.Exit(1)
	}

	logger := tunnel.NewLogger(opt.Role, tunnel.ParseLogLevel(opt.LogLevel))
	go sigIntHandler(cancel)

	switch opt.Role {
	case "client":
		logger.ILogf("starting client: server=%s signal_port=%d data_port=%d", opt.Server, opt.SignalPort, opt.DataPort)
		tunnel.Supervise(ctx, logger, tunnel.NewClient(opt, logger), tunnel.ClientResetDelay)
	case "server":
		logger.ILogf("starting server: listen=%s signal_port=%d data_port=%d mappings=%d", opt.Listen, opt.SignalPort, opt.DataPort, len(opt.Mappings))
		tunnel.Supervise(ctx, logger, tunnel.NewServer(opt, logger), tunnel.ServerResetDelay)
	default:
		fmt.Fprintf(os.Stderr, "natproxy: unknown role %q\n%s", opt.Role, config.Usage())
		os.Exit(1)
	}

	logger.ILogf("exiting")
}
