package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/SVG-campus/KRAKEN-VOLUME/internal/storage"
)

// Show prints recent audited alerts or digests.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot show audit history")
	}
	if closeStore != nil {
		defer closeStore()
	}

	if opts.Digests {
		return a.showDigests(ctx, store, opts.Limit)
	}
	return a.showAlerts(ctx, store, opts.Limit)
}

func (a *App) showAlerts(ctx context.Context, store storage.AlertAuditStore, limit int) error {
	alerts, err := store.ListRecentAlerts(ctx, limit)
	if err != nil {
		return err
	}
	if len(alerts) == 0 {
		fmt.Fprintln(os.Stdout, "no alerts found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tPair\tKind\tDir\tLevel%\tDivergence%\tVelocity%/h\tTrend%/min")
	for _, alert := range alerts {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			alert.At.UTC().Format(time.RFC3339),
			alert.Pair,
			alert.Kind,
			alert.Direction,
			alert.LevelPct.StringFixed(2),
			alert.DivergencePct.StringFixed(2),
			alert.VelocityPct.StringFixed(2),
			alert.TrendPerMinPct.StringFixed(2),
		)
	}
	return writer.Flush()
}

func (a *App) showDigests(ctx context.Context, store storage.DigestAuditStore, limit int) error {
	digests, err := store.ListRecentDigests(ctx, limit)
	if err != nil {
		return err
	}
	if len(digests) == 0 {
		fmt.Fprintln(os.Stdout, "no digests found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tLeader\tLeaderAvg%\tMembers")
	for _, d := range digests {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\n",
			d.At.UTC().Format(time.RFC3339),
			d.Leader,
			d.LeaderAvgPct.StringFixed(2),
			strings.Join(d.Members, ","),
		)
	}
	return writer.Flush()
}
