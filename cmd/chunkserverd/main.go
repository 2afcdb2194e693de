// Command chunkserverd runs the chunk-server data plane's master
// connection and read-session manager against a set of in-memory
// collaborator fakes, standing in for the real HDD/Replicator/FS/CSDB and
// chunk-server data-path listener. It exists to exercise the wiring end to
// end: registration, command dispatch, telemetry push, and structure-log
// rotation.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"runtime"
	"runtime/pprof"
	"syscall"
	"time"

	chunkdataplane "github.com/yynetease/moosefs/chunkdataplane"
	"github.com/yynetease/moosefs/chunkdataplane/config"
	"github.com/yynetease/moosefs/chunkdataplane/internal/collab"
	"github.com/yynetease/moosefs/chunkdataplane/internal/collab/collabtest"
	"github.com/yynetease/moosefs/chunkdataplane/internal/logging"
)

func main() {
	var (
		masterHost = flag.String("master-host", "", "metadata master hostname (overrides MASTER_HOST)")
		masterPort = flag.Int("master-port", 0, "metadata master port (overrides MASTER_PORT)")
		verbose    = flag.Bool("v", false, "verbose (debug-level) logging")
	)
	flag.Parse()

	logConfig := logging.DefaultConfig()
	if *verbose {
		logConfig.Level = logging.LevelDebug
	}
	logger := logging.NewLogger(logConfig)
	logging.SetDefault(logger)

	cfg := config.FromEnv()
	if *masterHost != "" {
		cfg.MasterHost = *masterHost
	}
	if *masterPort != 0 {
		cfg.MasterPort = *masterPort
	}

	hdd := collabtest.NewFakeHDD()
	fs := collabtest.NewFakeFS()
	csdb := collabtest.NewFakeCSDB()

	daemon := chunkdataplane.NewDaemon(cfg, chunkdataplane.Collaborators{
		HDD:        hdd,
		Replicator: collabtest.FakeReplicator{},
		FS:         fs,
		CSDB:       csdb,
		Dial:       chunkdataplane.DialChunkServer,
		ReadBlock:  demoReadBlock,
	})

	logger.Info("starting chunk-server data plane", "master", fmt.Sprintf("%s:%d", cfg.MasterHost, cfg.MasterPort))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	daemon.Start(ctx)

	stackDumpCh := make(chan os.Signal, 1)
	signal.Notify(stackDumpCh, syscall.SIGUSR1)
	go func() {
		for range stackDumpCh {
			buf := make([]byte, 1<<20)
			n := runtime.Stack(buf, true)
			fmt.Fprintf(os.Stderr, "\n=== GOROUTINE STACK DUMP ===\n%s\n", buf[:n])
			pprof.Lookup("goroutine").WriteTo(os.Stderr, 2)
			snap := daemon.Metrics().Snapshot()
			fmt.Fprintf(os.Stderr, "=== METRICS SNAPSHOT ===\n%+v\n", snap)
		}
	}()

	// SIGHUP invalidates the cached master address, so an operator can point
	// the daemon at a new master without a restart; the next reconnect
	// attempt re-resolves MASTER_HOST/MASTER_PORT.
	reloadCh := make(chan os.Signal, 1)
	signal.Notify(reloadCh, syscall.SIGHUP)
	go func() {
		for range reloadCh {
			logger.Info("received SIGHUP, invalidating cached master address")
			daemon.MasterConn().Reload()
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("received shutdown signal")
	cancel()

	stopped := make(chan struct{})
	go func() {
		daemon.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		logger.Warn("shutdown timed out, exiting anyway")
	}
}

// demoReadBlock stands in for the chunk-server's client-facing block-read
// call. It returns a
// zero-filled block the size of the request rather than speaking a real
// read protocol over conn, since that protocol has no production
// implementation in this module.
func demoReadBlock(conn net.Conn, chunkID uint64, version uint32, offset, size uint32) ([]byte, error) {
	return make([]byte, size), nil
}

var _ collab.HDD = (*collabtest.FakeHDD)(nil)
