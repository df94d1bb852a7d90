// Command tunrelay-server runs the daemon side of the tunnel: it owns a
// TUN interface and a UDP socket, allocates tunnel IPs to clients on
// handshake, and forwards packets between the two.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"tunrelay/internal/config"
	"tunrelay/internal/forwarder"
	"tunrelay/internal/ippool"
	"tunrelay/internal/logging"
	"tunrelay/internal/metrics"
	"tunrelay/internal/registry"
	"tunrelay/internal/transport"
	"tunrelay/internal/tunio"
)

var (
	configPath  string
	port        int
	tunIP       string
	tunMask     string
	tunName     string
	metricsAddr string
)

var rootCmd = &cobra.Command{
	Use:   "tunrelay-server",
	Short: "Tunnel relay server",
	Long:  "tunrelay-server owns a TUN interface and a UDP socket, assigning tunnel IPs to clients and forwarding packets between them.",
	RunE:  runServer,
}

func init() {
	rootCmd.Flags().StringVar(&configPath, "config", "", "path to server YAML config")
	rootCmd.Flags().IntVar(&port, "port", 0, "UDP listen port (overrides config, default 12345)")
	rootCmd.Flags().StringVar(&tunIP, "tun-ip", "", "server's tunnel IP (overrides config, default 10.0.0.1)")
	rootCmd.Flags().StringVar(&tunMask, "tun-mask", "", "tunnel subnet mask (overrides config, default 255.255.255.0)")
	rootCmd.Flags().StringVar(&tunName, "tun-name", "", "TUN interface name (overrides config, default tun0)")
	rootCmd.Flags().StringVar(&metricsAddr, "metrics", "", "metrics listen address, empty disables (overrides config)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadServerConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if port != 0 {
		cfg.Port = port
	}
	if tunIP != "" {
		cfg.TunIP = tunIP
	}
	if tunMask != "" {
		cfg.TunMask = tunMask
	}
	if tunName != "" {
		cfg.TunName = tunName
	}
	if metricsAddr != "" {
		cfg.Metrics = metricsAddr
	}

	log := logging.New(logging.Options{Level: cfg.Log.Level, Path: cfg.Log.Path})
	defer log.Sync()

	serverIP := net.ParseIP(cfg.TunIP)
	if serverIP == nil {
		return fmt.Errorf("invalid --tun-ip %q", cfg.TunIP)
	}
	mask := net.ParseIP(cfg.TunMask)
	if mask == nil {
		return fmt.Errorf("invalid --tun-mask %q", cfg.TunMask)
	}

	pool, err := ippool.New(serverIP, mask)
	if err != nil {
		return fmt.Errorf("build ip pool: %w", err)
	}
	reg := registry.New(pool)

	tunFD, ifName, err := tunio.CreateLinux(cfg.TunName)
	if err != nil {
		return fmt.Errorf("create tun device: %w", err)
	}
	tun, err := tunio.New(tunFD)
	if err != nil {
		return fmt.Errorf("wrap tun device: %w", err)
	}
	defer tun.Close()

	if err := configureInterface(log, ifName, cfg.TunIP, cfg.TunMask); err != nil {
		return fmt.Errorf("configure tun interface: %w", err)
	}

	udpConn, err := transport.ListenUDP(fmt.Sprintf(":%d", cfg.Port))
	if err != nil {
		return fmt.Errorf("listen udp: %w", err)
	}
	defer udpConn.Close()

	var stats *metrics.Registry
	metricsCtx, cancelMetrics := context.WithCancel(context.Background())
	defer cancelMetrics()
	if cfg.Metrics != "" {
		stats = metrics.New()
		go func() {
			if err := stats.StartServer(metricsCtx, cfg.Metrics); err != nil {
				log.Warn("metrics server stopped", zap.Error(err))
			}
		}()
	}

	fw := forwarder.New(udpConn, tun, reg, forwarder.RateLimit{
		MaxPerWindow: cfg.RateLimit.MaxHandshakesPerWindow,
		Window:       cfg.RateLimit.Window,
	}, log, stats)

	stop := make(chan struct{})
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		close(stop)
	}()

	log.Info("server started",
		zap.String("tun", ifName),
		zap.String("tun_ip", cfg.TunIP),
		zap.Int("port", cfg.Port))

	if err := fw.Run(stop); err != nil {
		log.Error("forwarder stopped with error", zap.Error(err))
		return err
	}
	return nil
}

func configureInterface(log *zap.Logger, name, ip, mask string) error {
	prefix, err := maskToPrefixLen(mask)
	if err != nil {
		return err
	}
	run := func(args ...string) error {
		cmd := exec.Command(args[0], args[1:]...)
		out, err := cmd.CombinedOutput()
		if err != nil {
			log.Warn("interface configuration command failed",
				zap.Strings("args", args), zap.Error(err), zap.ByteString("output", out))
		}
		return err
	}
	if err := run("ip", "addr", "add", fmt.Sprintf("%s/%d", ip, prefix), "dev", name); err != nil {
		return err
	}
	return run("ip", "link", "set", "dev", name, "up")
}

func maskToPrefixLen(mask string) (int, error) {
	m := net.ParseIP(mask)
	if m == nil {
		return 0, fmt.Errorf("invalid mask %q", mask)
	}
	v4 := m.To4()
	if v4 == nil {
		return 0, fmt.Errorf("mask %q is not ipv4", mask)
	}
	ones, _ := net.IPMask(v4).Size()
	return ones, nil
}
