package main

import (
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"

	"github.com/cuemby/percokv/pkg/log"
	"github.com/cuemby/percokv/pkg/metrics"
	"github.com/cuemby/percokv/pkg/mvcc"
	"github.com/cuemby/percokv/pkg/raftstore"
	"github.com/cuemby/percokv/pkg/rpc"
	"github.com/cuemby/percokv/pkg/server"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "percokv-server",
	Short: "percokv server - a distributed transactional key-value store",
	Long: `percokv-server runs a single replica of a percokv store. It speaks
the Percolator transaction protocol over gRPC, either directly against a
local engine (--server basic) or replicated through Raft (--server raft).`,
	Version: Version,
	RunE:    runServer,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"percokv-server version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")

	rootCmd.Flags().String("addr", "127.0.0.1:7070", "gRPC listen address")
	rootCmd.Flags().String("server", "basic", "Server mode: basic or raft")
	rootCmd.Flags().String("engine", "kvs", "Storage engine: kvs or bolt")
	rootCmd.Flags().String("data-dir", "./data", "Directory for on-disk storage")
	rootCmd.Flags().String("node-id", "", "Raft server ID (--server raft only; a random one is generated if omitted)")
	rootCmd.Flags().String("raft-addr", "127.0.0.1:7170", "Raft transport bind address (--server raft only)")
	rootCmd.Flags().Bool("bootstrap", false, "Bootstrap a brand-new single-node Raft cluster (--server raft only)")
	rootCmd.Flags().Uint64("maxraftstate", 1024, "Number of applied log entries before Raft snapshots")
	rootCmd.Flags().String("metrics-addr", "127.0.0.1:9090", "Address for the Prometheus metrics and health endpoints")

	cobra.OnInitialize(initLogging)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}

func storageKind(name string) (mvcc.Kind, error) {
	switch name {
	case "kvs", "":
		return mvcc.KindLog, nil
	case "bolt", "sled":
		return mvcc.KindBolt, nil
	default:
		return "", fmt.Errorf("unknown engine %q, expected kvs or bolt", name)
	}
}

func runServer(cmd *cobra.Command, args []string) error {
	addr, _ := cmd.Flags().GetString("addr")
	mode, _ := cmd.Flags().GetString("server")
	engineName, _ := cmd.Flags().GetString("engine")
	dataDir, _ := cmd.Flags().GetString("data-dir")
	nodeID, _ := cmd.Flags().GetString("node-id")
	raftAddr, _ := cmd.Flags().GetString("raft-addr")
	bootstrap, _ := cmd.Flags().GetBool("bootstrap")
	maxRaftState, _ := cmd.Flags().GetUint64("maxraftstate")
	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")

	kind, err := storageKind(engineName)
	if err != nil {
		return err
	}

	logger := log.WithComponent("server")

	var svc rpc.Service
	var closeFn func() error

	switch mode {
	case "basic":
		basic, err := server.NewBasic(server.BasicConfig{DataDir: dataDir, StorageKind: kind})
		if err != nil {
			return fmt.Errorf("failed to start basic server: %w", err)
		}
		svc, closeFn = basic, basic.Close
	case "raft":
		if nodeID == "" {
			nodeID = uuid.New().String()
		}
		node, err := raftstore.New(raftstore.Config{
			NodeID:       nodeID,
			BindAddr:     raftAddr,
			DataDir:      dataDir,
			StorageKind:  kind,
			MaxRaftState: maxRaftState,
		})
		if err != nil {
			return fmt.Errorf("failed to open raft node: %w", err)
		}
		if bootstrap {
			if err := node.Bootstrap(); err != nil {
				return fmt.Errorf("failed to bootstrap raft cluster: %w", err)
			}
		} else if err := node.Join(); err != nil {
			return fmt.Errorf("failed to start raft: %w", err)
		}

		collector := metrics.NewCollector(node)
		collector.Start()
		defer collector.Stop()

		svc, closeFn = server.NewRaft(node), node.Shutdown
	default:
		return fmt.Errorf("unknown server mode %q, expected basic or raft", mode)
	}
	defer closeFn()

	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	grpcServer := grpc.NewServer(grpc.UnaryInterceptor(rpc.MetricsInterceptor()))
	rpc.RegisterService(grpcServer, svc)

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", addr).Str("mode", mode).Str("engine", engineName).Msg("percokv server listening")
		if err := grpcServer.Serve(lis); err != nil {
			errCh <- fmt.Errorf("grpc server error: %w", err)
		}
	}()

	metrics.SetVersion(Version)
	metrics.RegisterComponent("rpc", true, "ready")
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		mux.Handle("/health", metrics.HealthHandler())
		mux.Handle("/ready", metrics.ReadyHandler())
		mux.Handle("/live", metrics.LivenessHandler())
		if err := http.ListenAndServe(metricsAddr, mux); err != nil {
			logger.Warn().Err(err).Msg("metrics server stopped")
		}
	}()
	logger.Info().Str("addr", metricsAddr).Msg("metrics endpoint listening")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		logger.Info().Msg("shutting down")
	case err := <-errCh:
		logger.Error().Err(err).Msg("server error")
	}

	grpcServer.GracefulStop()
	return nil
}
