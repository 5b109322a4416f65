package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/sharetube/roomcluster/internal/gateway"
	"github.com/sharetube/roomcluster/internal/registry"
	"github.com/sharetube/roomcluster/internal/rpc"
	"github.com/sharetube/roomcluster/pkg/ctxlogger"
)

// AppConfig is one cluster node's full configuration. ClusterPeers
// enumerates every node in the cluster, including this one; NodeID picks
// which entry is "this node" (§6) — its host/clientPort/rpcPort become this
// node's own listen addresses, and every other entry becomes a Raft peer.
type AppConfig struct {
	NodeID string `json:"node_id"`

	// ClusterPeers is a comma-separated "nodeId:host:clientPort:rpcPort"
	// list of every node in the cluster (§6), including this one.
	ClusterPeers string `json:"cluster_peers"`

	LogLevel string `json:"log_level"`
}

func (cfg *AppConfig) Validate() error {
	if cfg.NodeID == "" {
		return fmt.Errorf("node id must not be empty")
	}
	if cfg.ClusterPeers == "" {
		return fmt.Errorf("cluster peers must not be empty")
	}
	return nil
}

type peerSpec struct {
	nodeID     string
	host       string
	clientPort int
	rpcPort    int
}

// parsePeers splits "nodeId:host:clientPort:rpcPort,..." into its entries
// (§6). Every node in the cluster, including the one running this process,
// must appear exactly once.
func parsePeers(raw string) ([]peerSpec, error) {
	entries := strings.Split(raw, ",")
	peers := make([]peerSpec, 0, len(entries))

	for _, e := range entries {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}

		parts := strings.Split(e, ":")
		if len(parts) != 4 || parts[0] == "" || parts[1] == "" {
			return nil, fmt.Errorf("malformed peer spec %q, want nodeId:host:clientPort:rpcPort", e)
		}

		clientPort, err := strconv.Atoi(parts[2])
		if err != nil || clientPort < 1 {
			return nil, fmt.Errorf("peer %q: invalid client port %q", e, parts[2])
		}

		rpcPort, err := strconv.Atoi(parts[3])
		if err != nil || rpcPort < 1 {
			return nil, fmt.Errorf("peer %q: invalid rpc port %q", e, parts[3])
		}

		peers = append(peers, peerSpec{nodeID: parts[0], host: parts[1], clientPort: clientPort, rpcPort: rpcPort})
	}

	return peers, nil
}

// Run wires up one cluster node and blocks until ctx is canceled or a
// listener fails. It starts two HTTP servers — the client gateway and the
// inter-node RPC listener — and shuts both down gracefully on SIGINT/SIGTERM.
func Run(ctx context.Context, cfg *AppConfig) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logLevel := slog.LevelInfo
	if err := logLevel.UnmarshalText([]byte(strings.ToUpper(cfg.LogLevel))); err != nil {
		return fmt.Errorf("parse log level: %w", err)
	}

	h := &ctxlogger.ContextHandler{
		Handler: slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level:     logLevel,
			AddSource: true,
		}),
	}
	logger := slog.New(h)

	peers, err := parsePeers(cfg.ClusterPeers)
	if err != nil {
		return fmt.Errorf("parse cluster peers: %w", err)
	}

	var self *peerSpec
	peerAddrs := make(map[string]string, len(peers))
	peerIDs := make([]string, 0, len(peers))
	for i := range peers {
		p := &peers[i]
		if p.nodeID == cfg.NodeID {
			self = p
			continue
		}
		peerAddrs[p.nodeID] = fmt.Sprintf("http://%s:%d", p.host, p.rpcPort)
		peerIDs = append(peerIDs, p.nodeID)
	}
	if self == nil {
		// Unknown id -> fatal at startup (§6).
		return fmt.Errorf("node id %q not found in cluster peers", cfg.NodeID)
	}

	rpcClient := rpc.NewClient(cfg.NodeID, peerAddrs)
	reg := registry.New(cfg.NodeID, peerIDs, rpcClient, rpcClient, logger)
	rpcServer := rpc.NewServer(cfg.NodeID, reg, logger)
	gw := gateway.New(gateway.Config{
		NodeID:   cfg.NodeID,
		Registry: reg,
		Logger:   logger,
	})

	clientSrv := &http.Server{Addr: fmt.Sprintf("%s:%d", self.host, self.clientPort), Handler: gw.Mux()}
	rpcSrv := &http.Server{Addr: fmt.Sprintf("%s:%d", self.host, self.rpcPort), Handler: rpcServer.Mux()}

	serverCtx, serverStopCtx := context.WithCancel(ctx)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	go func() {
		select {
		case <-sig:
		case <-ctx.Done():
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		go func() {
			<-shutdownCtx.Done()
			if shutdownCtx.Err() == context.DeadlineExceeded {
				logger.Error("graceful shutdown timed out, forcing exit")
				os.Exit(1)
			}
		}()

		if err := clientSrv.Shutdown(shutdownCtx); err != nil {
			logger.Error("client server shutdown failed", "error", err)
		}
		if err := rpcSrv.Shutdown(shutdownCtx); err != nil {
			logger.Error("rpc server shutdown failed", "error", err)
		}
		serverStopCtx()
	}()

	errCh := make(chan error, 2)
	go func() {
		logger.InfoContext(serverCtx, "starting client gateway", "address", clientSrv.Addr)
		if err := clientSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("client server: %w", err)
		}
	}()
	go func() {
		logger.InfoContext(serverCtx, "starting rpc listener", "address", rpcSrv.Addr)
		if err := rpcSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("rpc server: %w", err)
		}
	}()

	select {
	case err := <-errCh:
		serverStopCtx()
		return err
	case <-serverCtx.Done():
	}

	return nil
}
