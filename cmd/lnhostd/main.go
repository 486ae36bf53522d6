// lnhostd hosts many tenants' Lightning nodes behind one process: one
// shared ChainBackend, one ChainListenerHub, one Postgres-backed
// database.DB, and an AdminService registry that starts and stops each
// tenant's Node on top of them. Structured the way lnd.go's own
// lndMain/main split is: a fallible lndMain that defers cleanup, and a
// bare main that just prints an error and exits.
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/coreos/go-systemd/daemon"
	grpc_prometheus "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/jrick/logrotate/rotator"
	"google.golang.org/grpc"

	"github.com/lnhostd/lnhost/config"
	"github.com/lnhostd/lnhost/internal/admin"
	"github.com/lnhostd/lnhost/internal/buildlog"
	"github.com/lnhostd/lnhost/internal/chainbackend"
	"github.com/lnhostd/lnhost/internal/chainlistener"
	"github.com/lnhostd/lnhost/internal/database"
	"github.com/lnhostd/lnhost/internal/events"
	"github.com/lnhostd/lnhost/internal/tenant"
)

var log = buildlog.NewSubLogger("LNHD")

func lndMain() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(cfg.LogDir, 0700); err != nil {
		return fmt.Errorf("create log dir: %w", err)
	}
	logRotator, err := rotator.New(filepath.Join(cfg.LogDir, "lnhostd.log"), 3)
	if err != nil {
		return fmt.Errorf("open log rotator: %w", err)
	}
	defer logRotator.Close()
	buildlog.SetBackend(os.Stdout, logRotator)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := database.Open(ctx, cfg.Database())
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	// Every tenant is forced to Stopped on startup: whatever the last
	// process left Running did not survive the restart, per the
	// invariant that a tenant's Running status always reflects a live
	// in-process Node.
	if err := db.MarkAllStopped(ctx); err != nil {
		return fmt.Errorf("mark tenants stopped: %w", err)
	}

	backend, err := chainbackend.New(cfg.ChainBackend(), chainbackend.DialRPCClient)
	if err != nil {
		return fmt.Errorf("connect chain backend: %w", err)
	}
	backend.Start()
	defer backend.Stop()

	hub := chainlistener.New()
	hub.Start()
	defer hub.Stop()

	bus := events.New()

	adminCfg := cfg.Admin()
	adminCfg.Factories = protocolFactories()

	registry, err := admin.New(ctx, adminCfg, db, backend, hub, bus)
	if err != nil {
		return fmt.Errorf("build admin registry: %w", err)
	}

	if _, err := registry.CreateAdmin(ctx, rootPassphrase(), true); err != nil {
		return fmt.Errorf("bootstrap root tenant: %w", err)
	}

	lis, err := net.Listen("tcp", cfg.GRPCListen)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.GRPCListen, err)
	}

	grpcServer := grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			grpc_prometheus.UnaryServerInterceptor,
			registry.ChainInterceptors(),
		),
	)
	grpc_prometheus.Register(grpcServer)

	go func() {
		log.Infof("gRPC server listening on %s", cfg.GRPCListen)
		if err := grpcServer.Serve(lis); err != nil {
			log.Errorf("gRPC server exited: %v", err)
		}
	}()
	defer grpcServer.GracefulStop()

	httpServer := &http.Server{Addr: cfg.HTTPListen, Handler: registry.HTTPHandler()}
	go func() {
		log.Infof("admin HTTP surface listening on %s", cfg.HTTPListen)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorf("admin HTTP server exited: %v", err)
		}
	}()
	defer httpServer.Close()

	if _, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		log.Debugf("systemd notify failed (not running under systemd?): %v", err)
	}

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)
	sig := <-interrupt
	log.Infof("received %v, shutting down", sig)

	return nil
}

// protocolFactories wires in the Lightning protocol engine this binary
// links against. TenantNode never implements channel management, chain
// monitoring, peer transport, or gossip itself; those constructors are
// this seam, supplied by whichever protocol-library build of lnhostd is
// deployed. This build does not link one in, so every factory is nil
// until that integration is added; StartNode's constructed managers will
// be nil accordingly.
func protocolFactories() tenant.Factories {
	return tenant.Factories{}
}

// rootPassphrase pulls the host's wallet encryption passphrase from the
// environment rather than a flag, so it never ends up in a process
// listing or shell history.
func rootPassphrase() string {
	return os.Getenv("LNHOSTD_PASSPHRASE")
}

func main() {
	if err := lndMain(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
