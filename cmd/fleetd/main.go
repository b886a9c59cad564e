// Command fleetd runs one node of a fleet: the cluster coordinator, the
// client-facing HTTP/SOCKS5 proxy listeners, the cluster RPC server peers
// dial to reach it, and the admin HTTP surface (metrics, health). Modeled
// on cuemby-warren/cmd/warren/main.go's cobra root command plus
// clusterInitCmd's construct-start-wait-shutdown shape, generalized from a
// single "cluster init" command to one long-running "run" command since
// this system has no separate manager/worker role split.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/meridianvpn/fleet/pkg/adminhttp"
	"github.com/meridianvpn/fleet/pkg/auth"
	"github.com/meridianvpn/fleet/pkg/cluster"
	"github.com/meridianvpn/fleet/pkg/clusterrpc"
	"github.com/meridianvpn/fleet/pkg/log"
	"github.com/meridianvpn/fleet/pkg/metrics"
	"github.com/meridianvpn/fleet/pkg/pool"
	"github.com/meridianvpn/fleet/pkg/proxy"
	"github.com/meridianvpn/fleet/pkg/ratelimit"
	"github.com/meridianvpn/fleet/pkg/user"
)

var (
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "fleetd",
	Short:   "fleetd runs a fleet node's proxy, cluster, and admin surfaces",
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("fleetd version %s\nCommit: %s\n", Version, Commit))
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	cobra.OnInitialize(initLogging)
	rootCmd.AddCommand(runCmd)
}

func initLogging() {
	level, _ := rootCmd.PersistentFlags().GetString("log-level")
	jsonOut, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(level), JSONOutput: jsonOut})
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a fleet node until terminated",
	RunE:  runNode,
}

func init() {
	flags := runCmd.Flags()
	flags.String("node-name", "", "This node's name (defaults to hostname)")
	flags.String("cluster-name", "default", "Cluster name this node participates in")
	flags.String("data-dir", "/var/lib/fleetd", "Directory for user store and persistent state")
	flags.String("cluster-bind-addr", "0.0.0.0:7946", "Address the cluster RPC server listens on")
	flags.Bool("initial-node", false, "Bootstrap a new cluster with this node as the first member")
	flags.StringSlice("bootstrap-peer", nil, "Cluster RPC address of an existing peer to join through (repeatable)")
	flags.String("consensus", string(cluster.AlgorithmSimple), "Consensus algorithm: simple or raft")

	flags.String("http-addr", "", "Address the HTTP forward proxy listens on (empty disables it)")
	flags.String("socks-addr", "", "Address the SOCKS5 proxy listens on (empty disables it)")
	flags.String("admin-addr", "127.0.0.1:9090", "Address the admin HTTP surface (metrics, health) listens on")

	flags.Bool("auth-enabled", true, "Require authenticated credentials on the proxy listeners")
	flags.StringSlice("ip-whitelist", nil, "Client IP allowed to bypass proxy authentication, matched exactly; CIDR ranges are not expanded (repeatable)")

	flags.Duration("pool-idle-timeout", 90*time.Second, "Upstream connection idle timeout")
	flags.Duration("pool-max-lifetime", time.Hour, "Upstream connection max lifetime")
	flags.Duration("pool-connect-timeout", 10*time.Second, "Upstream dial timeout")
	flags.Int("pool-max-total", 4096, "Maximum total pooled upstream connections")
	flags.Int("pool-max-per-host", 64, "Maximum pooled upstream connections per destination")

	flags.Float64("rate-rps", 50, "Per-principal sustained requests per second")
	flags.Float64("rate-burst", 100, "Per-principal burst size")
}

func runNode(cmd *cobra.Command, _ []string) error {
	flags := cmd.Flags()
	nodeName, _ := flags.GetString("node-name")
	if nodeName == "" {
		if h, err := os.Hostname(); err == nil {
			nodeName = h
		} else {
			nodeName = "fleet-node"
		}
	}
	clusterName, _ := flags.GetString("cluster-name")
	dataDir, _ := flags.GetString("data-dir")
	clusterBindAddr, _ := flags.GetString("cluster-bind-addr")
	initialNode, _ := flags.GetBool("initial-node")
	bootstrapPeers, _ := flags.GetStringSlice("bootstrap-peer")
	consensus, _ := flags.GetString("consensus")

	httpAddr, _ := flags.GetString("http-addr")
	socksAddr, _ := flags.GetString("socks-addr")
	adminAddr, _ := flags.GetString("admin-addr")

	authEnabled, _ := flags.GetBool("auth-enabled")
	ipWhitelist, _ := flags.GetStringSlice("ip-whitelist")

	poolIdle, _ := flags.GetDuration("pool-idle-timeout")
	poolLifetime, _ := flags.GetDuration("pool-max-lifetime")
	poolConnect, _ := flags.GetDuration("pool-connect-timeout")
	poolMaxTotal, _ := flags.GetInt("pool-max-total")
	poolMaxPerHost, _ := flags.GetInt("pool-max-per-host")

	rateRPS, _ := flags.GetFloat64("rate-rps")
	rateBurst, _ := flags.GetFloat64("rate-burst")

	logger := log.WithComponent("fleetd")
	metrics.SetVersion(Version)
	metrics.SetCriticalComponents("userstore", "cluster", "proxy")

	userStore, err := user.NewStore(dataDir, user.ServerTemplate{Host: nodeName})
	if err != nil {
		return fmt.Errorf("open user store: %w", err)
	}
	if userStore.IsReadOnly() {
		logger.Warn().Msg("user store opened read-only; user management commands will fail")
	}
	metrics.RegisterComponent("userstore", !userStore.IsReadOnly(), "")

	var authBackend auth.Backend = auth.NewStoreBackend(storeLookup{userStore})

	clusterCfg := cluster.Config{
		NodeName:           nodeName,
		ClusterName:        clusterName,
		BindAddress:        clusterBindAddr,
		DataDir:            dataDir,
		StorageBackend:     cluster.StorageMemory,
		ConsensusAlgorithm: cluster.Algorithm(consensus),
		IsInitialNode:      initialNode,
		BootstrapNodes:     bootstrapPeers,
	}
	coord, err := cluster.NewCoordinator(clusterCfg, clusterrpc.DialPeer)
	if err != nil {
		return fmt.Errorf("build cluster coordinator: %w", err)
	}

	rpcServer := clusterrpc.NewServer(coord, log.WithComponent("clusterrpc"))

	proxyMgr := proxy.NewManager(proxy.Config{
		HTTPAddr:     httpAddr,
		SOCKSAddr:    socksAddr,
		AuthBackend:  authBackend,
		AuthEnabled:  authEnabled,
		IPWhitelist:  ipWhitelist,
		PoolCleanup:  time.Minute,
		CacheJanitor: time.Minute,
		UserStore:    userStore,
		TrafficFlush: time.Minute,
		RateLimit:    ratelimit.PrincipalConfig{RequestsPerSecond: rateRPS, BurstSize: rateBurst},
		Pool: pool.Config{
			MaxTotalConnections:   int64(poolMaxTotal),
			MaxConnectionsPerHost: int64(poolMaxPerHost),
			IdleTimeout:           poolIdle,
			MaxLifetime:           poolLifetime,
			ConnectTimeout:        poolConnect,
		},
	})
	metrics.RegisterComponent("proxy", true, "")

	collector := metrics.NewCollector(proxyMgr.Pool(), 15*time.Second)
	collector.Start()
	defer collector.Stop()

	adminServer := &http.Server{Addr: adminAddr, Handler: adminhttp.NewRouter(log.WithComponent("adminhttp"))}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := coord.Run(gctx)
		metrics.RegisterComponent("cluster", false, "stopped")
		return err
	})
	metrics.RegisterComponent("cluster", true, "")

	g.Go(func() error { return rpcServer.Serve(clusterBindAddr) })
	g.Go(func() error { return proxyMgr.ServeHTTP(gctx) })
	g.Go(func() error { return proxyMgr.ServeSOCKS5(gctx) })
	proxyMgr.RunBackgroundJobs(gctx)

	g.Go(func() error {
		logger.Info().Str("addr", adminAddr).Msg("admin http listening")
		if err := adminServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("admin http: %w", err)
		}
		return nil
	})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		logger.Info().Msg("shutdown signal received")
	case <-gctx.Done():
		logger.Warn().Msg("a background service exited unexpectedly")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), proxy.DrainGrace+5*time.Second)
	defer shutdownCancel()
	_ = adminServer.Shutdown(shutdownCtx)
	rpcServer.Stop()
	coord.Stop()
	cancel()

	if err := g.Wait(); err != nil && err != context.Canceled {
		logger.Error().Err(err).Msg("node shutdown completed with error")
		return err
	}
	logger.Info().Msg("shutdown complete")
	return nil
}

// storeLookup adapts *user.Store to auth.UserLookup without pkg/auth
// depending on pkg/user's concrete User type.
type storeLookup struct{ store *user.Store }

func (l storeLookup) GetUserByName(name string) (auth.UserRecord, error) {
	u, err := l.store.GetUserByName(name)
	if err != nil {
		return auth.UserRecord{}, err
	}
	return auth.UserRecord{ID: u.ID, PrivateKey: u.Config.PrivateKey, Active: u.Status == user.StatusActive}, nil
}
