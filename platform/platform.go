// Package platform ties a topology to the lifecycle of a commandline process.
package platform

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gokit/actorcore"
)

// AwaitInterrupt will setup signalling for use in a commandline application
// waiting for ctrl-c or a SIGTERM, SIGINT or SIGQUIT signal, or for the
// topology to turn fatal, then shuts the topology down within timeout.
// It is a blocking call and will block till shutdown finished.
func AwaitInterrupt(topo *actorcore.Topology, timeout time.Duration) error {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT)
	defer signal.Stop(signals)

	return await(topo, signals, timeout)
}

func await(topo *actorcore.Topology, signals <-chan os.Signal, timeout time.Duration) error {
	select {
	case sig := <-signals:
		actorcore.LogMsg("received signal").
			String("signal", sig.String()).
			Write(actorcore.INFO, topo.Logs())
	case <-topo.Fatal():
	}

	ctx := context.Background()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	if err := topo.Shutdown(ctx); err != nil {
		return err
	}
	return topo.Err()
}
