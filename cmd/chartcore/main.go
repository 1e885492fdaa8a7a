// cmd/chartcore loads a bar history, drives it through the chart
// coordinator and prints the rendered viewport summary.
//
// Usage:
//
//	go run ./cmd/chartcore -in bars.json -tf 5m -width 800
//	go run ./cmd/chartcore -sqlite -config chart.yaml
//	go run ./cmd/chartcore -sim 1500 -live 10s
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"chartcore/config"
	"chartcore/internal/chart"
	"chartcore/internal/logger"
	"chartcore/internal/marketdata/replay"
	"chartcore/internal/marketdata/sim"
	"chartcore/internal/metrics"
	"chartcore/internal/model"
	"chartcore/internal/ringbuf"
	sqlitestore "chartcore/internal/store/sqlite"
)

func main() {
	cfgPath := flag.String("config", "", "Path to YAML config (optional)")
	inPath := flag.String("in", "", "Bar file to load (.json or .msgpack)")
	useSQLite := flag.Bool("sqlite", false, "Load bars from the configured SQLite database")
	simBars := flag.Int("sim", 500, "Synthetic bars to generate when no other source is given")
	seed := flag.Int64("seed", 1, "Seed for synthetic data")
	stream := flag.Bool("stream", false, "Feed bars one by one through the replayer instead of loading them at once")
	asTicks := flag.Bool("ticks", false, "With -stream, expand each bar into ticks")
	speed := flag.Float64("speed", 0, "Replay speed multiplier (0=max, 1=realtime)")
	live := flag.Duration("live", 0, "Run synthetic live ticks for this long after loading")
	tfFlag := flag.String("tf", "", "Display timeframe (defaults to the base timeframe)")
	width := flag.Int("width", 0, "Plot width in pixels (overrides config)")
	zoom := flag.Float64("zoom", 1, "Zoom scale (0.1-10)")
	pan := flag.Int("pan", 0, "Bars to pan from the start of the history")
	asJSON := flag.Bool("json", false, "Print the rendered frame as JSON")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "chartcore: %v\n", err)
		os.Exit(1)
	}
	log := logger.Init("chartcore", logger.ParseLevel(cfg.LogLevel))

	if err := run(cfg, options{
		inPath:    *inPath,
		useSQLite: *useSQLite,
		simBars:   *simBars,
		seed:      *seed,
		stream:    *stream,
		asTicks:   *asTicks,
		speed:     *speed,
		live:      *live,
		tf:        *tfFlag,
		width:     *width,
		zoom:      *zoom,
		pan:       *pan,
		asJSON:    *asJSON,
	}); err != nil {
		log.Error("chartcore failed", slog.Any("err", err))
		os.Exit(1)
	}
}

type options struct {
	inPath    string
	useSQLite bool
	simBars   int
	seed      int64
	stream    bool
	asTicks   bool
	speed     float64
	live      time.Duration
	tf        string
	width     int
	zoom      float64
	pan       int
	asJSON    bool
}

func run(cfg *config.Config, opts options) error {
	base, err := cfg.Timeframe()
	if err != nil {
		return err
	}
	inds, err := cfg.IndicatorConfigs()
	if err != nil {
		return err
	}
	mode, err := cfg.Mode()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	coord, err := chart.New(chart.Options{
		Symbol:     cfg.Symbol,
		Base:       base,
		Indicators: inds,
		Mode:       mode,
		MaxBars:    cfg.MaxBars,
		Metrics:    m,
	})
	if err != nil {
		return err
	}
	ctx = logger.WithTraceID(ctx, coord.TraceID())

	bars, err := loadBars(cfg, base, opts)
	if err != nil {
		return err
	}
	if opts.stream {
		if err := streamBars(ctx, coord, bars, opts); err != nil {
			return err
		}
	} else if err := coord.SetData(bars); err != nil {
		return err
	}

	if opts.live > 0 {
		if err := runLive(ctx, coord, m, opts); err != nil {
			return err
		}
	}

	if opts.tf != "" {
		tf, err := model.ParseTimeframe(opts.tf)
		if err != nil {
			return err
		}
		if err := coord.SetTimeframe(tf); err != nil {
			return err
		}
	}
	if err := coord.SetZoom(opts.zoom); err != nil {
		return err
	}
	coord.Pan(opts.pan)

	pixelWidth := cfg.PixelWidth
	if opts.width > 0 {
		pixelWidth = opts.width
	}
	frame, err := coord.Render(pixelWidth)
	if err != nil {
		return err
	}

	if opts.asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(frame); err != nil {
			return err
		}
	}
	printFrame(frame, len(coord.Bars()))
	return printMetrics(reg)
}

// loadBars picks the first configured source: a bar file, SQLite, or
// synthetic data.
func loadBars(cfg *config.Config, base model.Timeframe, opts options) ([]model.Bar, error) {
	switch {
	case opts.inPath != "":
		return replay.LoadFile(opts.inPath)
	case opts.useSQLite:
		reader, err := sqlitestore.NewReader(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		var src model.BarSource = reader
		defer src.Close()
		return src.ReadBars(cfg.Symbol, base, 0)
	default:
		gen, err := sim.New(opts.seed, 250)
		if err != nil {
			return nil, err
		}
		start := float64(time.Now().Unix()) - float64(opts.simBars)*base.Seconds()
		return gen.Bars(opts.simBars, start, base)
	}
}

// streamBars replays bars through the coordinator as completed bars, or as
// ticks when asked to.
func streamBars(ctx context.Context, coord *chart.Coordinator, bars []model.Bar, opts options) error {
	r, err := replay.NewReplayer(opts.speed)
	if err != nil {
		return err
	}
	barCh := make(chan model.Bar, 1024)
	errCh := make(chan error, 1)
	go func() {
		errCh <- r.Run(ctx, bars, barCh)
		close(barCh)
	}()

	rejected := 0
	for bar := range barCh {
		if opts.asTicks {
			for _, tk := range replay.BarTicks(bar) {
				if _, err := coord.IngestTick(tk); err != nil {
					rejected++
				}
			}
			continue
		}
		if err := coord.Append(bar); err != nil {
			rejected++
		}
	}
	if rejected > 0 {
		slog.Warn("chartcore: rejected streamed input", slog.Int("rejected", rejected))
	}
	if err := <-errCh; err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

// runLive feeds synthetic ticks through a ring into the coordinator.
func runLive(ctx context.Context, coord *chart.Coordinator, m *metrics.Metrics, opts options) error {
	ring := ringbuf.New(4096)
	if err := m.BindRing(ring); err != nil {
		return err
	}

	startPrice := 250.0
	if bars := coord.Bars(); len(bars) > 0 {
		startPrice = bars[len(bars)-1].Close
	}
	gen, err := sim.New(opts.seed+1, startPrice)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, opts.live)
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- gen.Run(ctx, ring, 100*time.Millisecond) }()
	if err := coord.Run(ctx, ring, 50*time.Millisecond); err != nil {
		return err
	}
	return <-errCh
}

func printFrame(f chart.Frame, total int) {
	s := f.Summary
	fmt.Println()
	fmt.Println("╔══════════════════════════════════════╗")
	fmt.Println("║          CHART VIEWPORT              ║")
	fmt.Println("╠══════════════════════════════════════╣")
	fmt.Printf("║  Symbol:            %-16s ║\n", s.Symbol)
	fmt.Printf("║  Timeframe:         %-16s ║\n", s.Timeframe)
	fmt.Printf("║  Bars (total):      %-16d ║\n", total)
	fmt.Printf("║  Window:            %-16s ║\n", fmt.Sprintf("[%d, %d)", f.Start, f.End))
	fmt.Printf("║  Price:             %-16s ║\n", s.Price.StringFixed(2))
	fmt.Printf("║  Change:            %-16s ║\n", s.ChangePct.StringFixed(2)+"%")
	fmt.Printf("║  Render:            %-16s ║\n", fmt.Sprintf("%s %d->%d", f.Plan.Algorithm, f.Plan.Input, f.Plan.Output))
	fmt.Printf("║  Candle width:      %-16.1f ║\n", f.Plan.CandleWidth)
	for _, r := range f.Live {
		v := "-"
		if x, ok := r.Value.Get(); ok {
			v = fmt.Sprintf("%.4f", x)
		}
		fmt.Printf("║  %-18s %-16s ║\n", r.Name+":", v)
	}
	fmt.Println("╚══════════════════════════════════════╝")
}

func printMetrics(g prometheus.Gatherer) error {
	flat, err := metrics.Flatten(g)
	if err != nil {
		return err
	}
	keys := make([]string, 0, len(flat))
	for k := range flat {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	fmt.Println()
	for _, k := range keys {
		fmt.Printf("%-64s %g\n", k, flat[k])
	}
	return nil
}
