package app

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/SVG-campus/KRAKEN-VOLUME/internal/alerting"
	"github.com/SVG-campus/KRAKEN-VOLUME/internal/market"
	"github.com/SVG-campus/KRAKEN-VOLUME/internal/service"
)

// Replay drives a CSV of observations through the full pipeline offline,
// printing every alert and digest to stdout. The alert cooldown clock follows
// the CSV timestamps, not the wall clock. Expected columns:
// pair,timestamp,price,baseline,volume (header optional).
func (a *App) Replay(ctx context.Context, opts ReplayOptions) error {
	file, err := os.Open(opts.CSVPath)
	if err != nil {
		return fmt.Errorf("open replay csv: %w", err)
	}
	defer file.Close()

	machine := a.newMachine()
	var current int64
	machine.SetClock(func() time.Time { return time.Unix(current, 0).UTC() })

	svc := service.New(a.Config, service.Options{
		Engine:     a.newEngine(),
		Machine:    machine,
		Aggregator: a.newAggregator(),
		Notifier:   stdoutNotifier{},
	}, a.Logger)

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = 5

	count := 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("read replay csv: %w", err)
		}

		obs, ok := parseReplayRow(record)
		if !ok {
			// header or malformed row; same silent-discard rule as the feed boundary
			continue
		}
		current = obs.Timestamp
		svc.HandleObservation(ctx, obs)
		count++
	}

	a.Logger.Info().Int("observations", count).Msg("replay complete")
	return printRanked(svc)
}

func parseReplayRow(record []string) (market.Observation, bool) {
	ts, err := strconv.ParseInt(record[1], 10, 64)
	if err != nil {
		return market.Observation{}, false
	}
	price, err := strconv.ParseFloat(record[2], 64)
	if err != nil || price <= 0 {
		return market.Observation{}, false
	}
	baseline, err := strconv.ParseFloat(record[3], 64)
	if err != nil || baseline < 0 {
		return market.Observation{}, false
	}
	volume, err := strconv.ParseFloat(record[4], 64)
	if err != nil || volume < 0 {
		return market.Observation{}, false
	}
	return market.Observation{
		Pair:             record[0],
		Timestamp:        ts,
		Price:            price,
		Baseline:         baseline,
		CumulativeVolume: volume,
	}, true
}

func printRanked(svc *service.Service) error {
	ranked := svc.Ranked()
	if len(ranked) == 0 {
		fmt.Fprintln(os.Stdout, "no ranked pairs")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Rank\tPair\tScore\tVelocity%/h\tPrice%\tDivergence%")
	for i, r := range ranked {
		fmt.Fprintf(writer, "%d\t%s\t%.2f\t%.2f\t%.2f\t%.2f\n",
			i+1, r.Pair, market.Round2(r.Score), market.Round2(r.VelocityPct),
			market.Round2(r.PriceChangePct), market.Round2(r.DivergencePct))
	}
	return writer.Flush()
}

type stdoutNotifier struct{}

func (stdoutNotifier) Notify(_ context.Context, note alerting.Notification) error {
	fmt.Fprintf(os.Stdout, "--- %s ---\n%s\n", note.Subject, note.Text)
	return nil
}

var _ alerting.Notifier = stdoutNotifier{}
