// Command sessiond wires the session/transaction coordination core into
// a runnable process. It is a minimal wiring example, not a CLI — no
// flag parsing or subcommand surface is specified for this core (spec
// §1), so there is no `spf13/cobra` dependency here (see DESIGN.md).
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/lealone-go/sessioncore/pkg/kv"
	"github.com/lealone-go/sessioncore/pkg/server"
	"github.com/lealone-go/sessioncore/pkg/sql"
	"github.com/lealone-go/sessioncore/pkg/util/log"
	"github.com/lealone-go/sessioncore/pkg/util/stop"
)

func main() {
	ctx := context.Background()
	stopper := stop.NewStopper()

	db := server.New(stopper, kv.NewMemLog(),
		server.WithQueryCacheSize(256),
		server.WithMaxQueryTimeoutMS(30_000),
		server.WithHandlerCount(4),
		server.WithMetricsRegisterer(prometheus.DefaultRegisterer),
	)

	conn, err := sql.ParseConnectionInfo("lealone:mem:/sessiond")
	if err != nil {
		log.Fatalf(ctx, "invalid connection URL: %v", err)
	}
	session := db.Connect(conn, "root")
	log.Infof(ctx, "sessiond: started session %d against %s", session.SessionID(), conn.URL)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	log.Infof(ctx, "sessiond: shutting down")
	db.Close(ctx)
}
