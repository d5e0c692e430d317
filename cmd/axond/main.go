// Command axond is the AXON daemon: it discovers peers, maintains mutually
// authenticated connections to them, and bridges a local control socket to
// application clients.
package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/axon-project/axon/internal/config"
	"github.com/axon-project/axon/internal/discovery"
	"github.com/axon-project/axon/internal/logging"
	"github.com/axon-project/axon/internal/metrics"
	"github.com/axon-project/axon/internal/peercache"
	"github.com/axon-project/axon/internal/router"
	"github.com/axon-project/axon/pkg/identity"
	"github.com/axon-project/axon/pkg/peertable"
	"github.com/axon-project/axon/pkg/transport"
)

var version = "dev"

func main() {
	_ = godotenv.Load(".env")

	var configPath string
	root := &cobra.Command{
		Use:   "axond",
		Short: "run the AXON messaging daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath)
		},
	}
	root.Flags().StringVar(&configPath, "config", "config.yaml", "path to the daemon configuration file")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	log := logging.New(cfg.Logging.Level)

	id, err := identity.LoadOrGenerate(expandHome(cfg.Identity.Dir))
	if err != nil {
		return fmt.Errorf("load identity: %w", err)
	}
	log.WithField("agent_id", id.ID).Info("identity loaded")

	table := peertable.New(
		peertable.WithMaxDiscovered(cfg.Network.MaxDiscovered),
		peertable.WithLogger(log),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	eng, err := transport.Bind(ctx, id, cfg.Network.ListenAddr, table.PubkeyMapHandle(), table,
		transport.WithLogger(log),
		transport.WithInboundCapacity(cfg.Network.InboundCap),
	)
	if err != nil {
		return fmt.Errorf("bind transport: %w", err)
	}
	log.WithField("addr", eng.LocalAddr()).Info("listening")

	stateDir := expandHome(cfg.StateDir)
	cachePath := filepath.Join(stateDir, "known_peers.json")
	for _, e := range peercache.Load(cachePath, log) {
		pub, err := decodeBase64(e.PublicKey)
		if err != nil {
			continue
		}
		table.UpsertDiscovered(peertable.Record{
			AgentID:        identity.AgentID(e.AgentID),
			NetworkAddress: e.NetworkAddress,
			PublicKey:      pub,
			Source:         peertable.SourceCached,
		})
	}
	cacheWriter := peercache.NewWriter(cachePath, log)

	var mdnsCollab *discovery.MDNS
	if cfg.Discovery.Enabled {
		mdnsCollab = discovery.NewMDNS(cfg.Discovery.ServiceName, log)
		if port, ok := listenPort(eng.LocalAddr()); ok {
			if srv, err := mdnsCollab.Advertise(id, port); err != nil {
				log.WithError(err).Warn("failed to advertise via mdns")
			} else {
				defer srv.Shutdown()
			}
		}
	}

	staticPeers := make([]discovery.StaticPeer, 0, len(cfg.Network.StaticPeers))
	for _, p := range cfg.Network.StaticPeers {
		staticPeers = append(staticPeers, discovery.StaticPeer{
			AgentID:   p.AgentID,
			Addr:      p.Addr,
			PubkeyB64: p.Pubkey,
		})
	}
	staticCollab := discovery.NewStatic(staticPeers, log)

	mx := metrics.New()
	if cfg.Metrics.Enabled {
		go func() {
			if err := mx.Serve(ctx, cfg.Metrics.ListenAddr, log); err != nil {
				log.WithError(err).Warn("metrics server stopped")
			}
		}()
	}

	r := router.New(router.Config{
		ControlSocketPath: expandHome(cfg.Control.SocketPath),
		ControlQueueDepth: cfg.Control.QueueDepth,
		StaleTimeout:      time.Duration(cfg.Network.StaleTimeoutSecs) * time.Second,
		ReplayGuardTTL:    time.Duration(cfg.Network.ReplayGuardTTLSecs) * time.Second,
		CacheSavePeriod:   60 * time.Second,
		Version:           version,
	}, id, table, eng, mdnsCollab, staticCollab, cacheWriter, mx, log)

	log.Info("daemon running")
	return r.Run(ctx)
}

func expandHome(path string) string {
	if len(path) >= 2 && path[:2] == "~/" {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}

func decodeBase64(s string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(s)
}

func listenPort(addr string) (int, bool) {
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return 0, false
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return 0, false
	}
	return port, true
}
