// Command ivmd is a thin development harness: it wires one Source, one
// query.Delegate-compiled pipeline, and one materialized View together,
// drives a poke.Merger off a TimerScheduler, and prints the live view to
// stdout on every commit. It exists to exercise the engine end-to-end,
// not to serve production traffic.
//
// Grounded on controller/cmd/destination/main.go's shape: a flag.FlagSet,
// pkg/flags.ConfigureAndParse, and a signal-driven graceful shutdown,
// generalized from "one gRPC server" to "one cooperative scheduler loop."
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	log "github.com/sirupsen/logrus"

	"github.com/linkerd/ivmsync/metrics"
	"github.com/linkerd/ivmsync/pkg/flags"
	"github.com/linkerd/ivmsync/poke"
	"github.com/linkerd/ivmsync/query"
	"github.com/linkerd/ivmsync/row"
	"github.com/linkerd/ivmsync/source"
	"github.com/linkerd/ivmsync/view"
)

func main() {
	tableName := flag.String("table", "widgets", "name of the demo table to serve")
	cookie := flag.String("initial-cookie", "", "cookie the first poke's baseCookie must match")

	flags.ConfigureAndParse()

	log.Infof("starting ivmd, serving table %q", *tableName)

	tables := query.NewTableRegistry()
	src := source.New(*tableName, row.PrimaryKey{"id"}, source.WithMetrics(metrics.NewSourceMetrics(*tableName)))
	tables.Register(*tableName, src)

	rows := query.NewRowsAdapter(tables)
	cache := query.NewASTCache(0, 0)
	queries := query.NewQueriesAdapter(cache)
	delegate := query.NewDelegate(tables, rows, log.WithField("component", "query"))

	v, err := delegate.Materialize(&query.AST{
		Table:   *tableName,
		OrderBy: row.Sort{{Column: "id"}},
	})
	if err != nil {
		log.Fatalf("failed to materialize the default view: %s", err)
	}
	v.Subscribe(viewPrinter{})
	printView(v)

	scheduler := poke.NewTimerScheduler()
	merger := poke.NewMerger(scheduler, rows, *cookie, func(err error) {
		log.Errorf("poke protocol error: %s", err)
	}, poke.WithQueriesTarget(queries), poke.WithLogger(log.WithField("component", "poke")))

	// Seed the table through the poke protocol itself, rather than a
	// direct Source.Push, so running this binary exercises the full
	// intake path: merger -> RowsAdapter -> Source -> operator chain ->
	// View -> subscriber.
	merger.Start("seed", *cookie)
	merger.Part("seed", nil, []poke.RowOp{
		{Kind: poke.RowPut, TableName: *tableName, Value: row.Row{"id": row.NumberFromInt(1), "name": row.String("hello")}},
		{Kind: poke.RowPut, TableName: *tableName, Value: row.Row{"id": row.NumberFromInt(2), "name": row.String("world")}},
	}, nil, nil)
	merger.End("seed", "seed-cookie", false)

	ctx, cancel := context.WithCancel(context.Background())
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		scheduler.Run(ctx)
		close(done)
	}()

	log.Info("ivmd ready")
	<-stop
	log.Info("shutting down ivmd")
	cancel()
	<-done
}

type viewPrinter struct{}

func (viewPrinter) OnCommit(v *view.View) {
	rows := v.Rows()
	rendered := make([]string, len(rows))
	for i, r := range rows {
		rendered[i] = renderRow(r)
	}
	fmt.Printf("[%s]\n", strings.Join(rendered, ", "))
}

func renderRow(r row.Row) string {
	cols := make([]string, 0, len(r))
	for col := range r {
		cols = append(cols, col)
	}
	sort.Strings(cols)
	parts := make([]string, len(cols))
	for i, col := range cols {
		parts[i] = fmt.Sprintf("%s=%s", col, r.Get(col).String())
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

func printView(v *view.View) { viewPrinter{}.OnCommit(v) }
