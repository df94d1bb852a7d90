// Command tunrelay-client is a demo CLI that opens a real TUN device,
// handshakes with a tunrelay server, and runs the packet pump. The mobile
// FFI bridge this core is actually embedded behind is out of scope; this
// binary exists so the core can be exercised end to end on a Linux box.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"tunrelay/internal/config"
	"tunrelay/internal/logging"
	"tunrelay/internal/tunio"
	"tunrelay/pkg/tunrelay"
)

type cliCallback struct {
	log *zap.Logger
}

func (c *cliCallback) OnStatsUpdate(tx, rx uint64) {
	c.log.Info("stats", zap.Uint64("tx", tx), zap.Uint64("rx", rx))
}

func (c *cliCallback) OnStop(reason string) {
	c.log.Info("session stopped", zap.String("reason", reason))
}

func main() {
	configPath := flag.String("config", "", "path to client YAML config")
	server := flag.String("server", "", "server address, host:port (overrides config)")
	transportName := flag.String("transport", "", "udp|quic|websocket (overrides config)")
	flag.Parse()

	cfg, err := config.LoadClientConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if *server != "" {
		cfg.Server = *server
	}
	if *transportName != "" {
		cfg.Transport = *transportName
	}
	if cfg.Server == "" {
		fmt.Fprintln(os.Stderr, "missing --server or config server field")
		os.Exit(1)
	}

	log := logging.New(logging.Options{Level: cfg.Log.Level, Path: cfg.Log.Path})
	defer log.Sync()

	tunFD, ifName, err := tunio.CreateLinux(cfg.TunDevice)
	if err != nil {
		log.Error("create tun device failed", zap.Error(err))
		os.Exit(1)
	}

	tr, err := dial(cfg.Transport, cfg.Server)
	if err != nil {
		log.Error("dial transport failed", zap.Error(err))
		os.Exit(1)
	}

	result, err := tunrelay.Handshake(tr, cfg.HandshakeTimeout)
	if err != nil {
		log.Error("handshake failed", zap.Error(err))
		os.Exit(1)
	}
	log.Info("handshake complete", zap.String("client_ip", result.ClientIP.String()))

	configureInterface(log, ifName, result)

	cb := &cliCallback{log: log}
	session, done := tunrelay.Start(tunFD, tr, cb, cfg.StatsInterval, log)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		session.Stop()
	}()

	if err := <-done; err != nil {
		log.Error("session ended with error", zap.Error(err))
		os.Exit(1)
	}
}

func dial(transportName, server string) (tunrelay.Transport, error) {
	switch transportName {
	case "", "udp":
		return tunrelay.DialUDP(server)
	case "quic":
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return tunrelay.DialQUIC(ctx, server)
	case "websocket":
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return tunrelay.DialWebSocket(ctx, server)
	default:
		return nil, fmt.Errorf("unknown transport %q", transportName)
	}
}

func configureInterface(log *zap.Logger, name string, result tunrelay.Result) {
	run := func(args ...string) {
		cmd := exec.Command(args[0], args[1:]...)
		if out, err := cmd.CombinedOutput(); err != nil {
			log.Warn("interface configuration command failed",
				zap.Strings("args", args), zap.Error(err), zap.ByteString("output", out))
		}
	}
	run("ip", "addr", "add", result.ClientIP.String()+"/24", "dev", name)
	run("ip", "link", "set", "dev", name, "up")
	for _, r := range result.Routes {
		dst := fmt.Sprintf("%s/%d", r.Destination.String(), r.PrefixLen)
		run("ip", "route", "add", dst, "dev", name)
	}
}
