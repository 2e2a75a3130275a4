// Command relayd is the process entry point: it loads configuration,
// wires the History Store, Bus Client, Queue Client, and Authenticator
// collaborators into an internal/server.Supervisor, and runs it until a
// termination signal arrives.
//
// Grounded on server/shutdown.go's signalHandler/listenAndServe pair
// (tinode/chat) for the accept-loop-plus-graceful-shutdown shape.
package main

import (
	"context"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/automaxprocs/maxprocs"
	"go.uber.org/zap"

	"github.com/chathub/relay/internal/admin"
	"github.com/chathub/relay/internal/auth/jwtauth"
	"github.com/chathub/relay/internal/bus/natsbus"
	"github.com/chathub/relay/internal/config"
	"github.com/chathub/relay/internal/dispatcher"
	"github.com/chathub/relay/internal/logging"
	"github.com/chathub/relay/internal/metrics"
	"github.com/chathub/relay/internal/queue/kafkaqueue"
	"github.com/chathub/relay/internal/registry"
	"github.com/chathub/relay/internal/server"
	"github.com/chathub/relay/internal/session"
	"github.com/chathub/relay/internal/store/memadapter"
	"github.com/chathub/relay/internal/workerpool"
)

func main() {
	configPath := flag.String("config", "", "path to relayd YAML config")
	dev := flag.Bool("dev", false, "use human-readable development logging instead of JSON")
	flag.Parse()

	log, err := logging.New(*dev)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	if _, err := maxprocs.Set(maxprocs.Logger(log.Sugar().Infof)); err != nil {
		log.Warn("failed to set GOMAXPROCS from cgroup", zap.Error(err))
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal("config load failed", zap.Error(err))
	}

	if err := run(cfg, log); err != nil {
		log.Fatal("relayd exited with error", zap.Error(err))
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	authn, err := jwtauth.New([]byte(cfg.Auth.SigningKey), cfg.Auth.Serial, cfg.Auth.TokenTTL)
	if err != nil {
		return err
	}

	busClient, err := natsbus.New(cfg.Bus.URL)
	if err != nil {
		return err
	}
	defer busClient.Close()

	queueLog := logging.For(log, logging.ComponentQueue)
	queueClient, err := kafkaqueue.New(cfg.Queue.Brokers, func(queueName string, err error) {
		queueLog.Warn("queue producer error", zap.String("queue", queueName), zap.Error(err))
	})
	if err != nil {
		return err
	}
	defer queueClient.Close()

	// The in-memory adapter is the reference History Store this module
	// ships; a production deployment swaps this line for a SQL/KV-backed
	// adapter satisfying store.Adapter (see DESIGN.md).
	histStore := memadapter.New()

	reg := registry.New()
	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0) * 4
	}
	pool := workerpool.New(workers)
	defer pool.Close()

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	metricsReg := metrics.New(promReg)

	disp := dispatcher.New(busClient, reg, logging.For(log, logging.ComponentDispatcher), metricsReg)

	deps := session.Deps{
		Store:             histStore,
		Bus:               busClient,
		Queue:             queueClient,
		Auth:              authn,
		Registry:          reg,
		Pool:              pool,
		Log:               logging.For(log, logging.ComponentSession),
		Metrics:           metricsReg,
		NotificationQueue: cfg.Queue.NotificationTopic,
		AuditQueue:        cfg.Queue.AuditTopic,
	}

	sv := server.New(deps, disp, logging.For(log, logging.ComponentServer))
	go sv.Run(ctx)

	adminLog := logging.For(log, logging.ComponentAdmin)
	adminSrv := admin.NewServer(cfg.AdminAddr, promReg)
	go func() {
		if err := adminSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			adminLog.Error("admin server stopped", zap.Error(err))
		}
	}()

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return err
	}
	log.Info("relayd listening", zap.String("addr", cfg.ListenAddr), zap.String("admin_addr", cfg.AdminAddr))

	serveErr := make(chan error, 1)
	go func() { serveErr <- sv.Serve(ctx, ln, cfg.IdleTimeout) }()

	waitForSignal(log)

	cancel()
	_ = ln.Close()
	<-serveErr

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = adminSrv.Shutdown(shutdownCtx)

	return nil
}

// waitForSignal blocks until SIGINT, SIGTERM, or SIGHUP is received,
// mirroring server/shutdown.go's signalHandler (tinode/chat): "don't
// care which signal it is."
func waitForSignal(log *zap.Logger) {
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	sig := <-sigc
	log.Info("signal received, shutting down", zap.String("signal", sig.String()))
}
