// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package stdout

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"

	"github.com/sustainable-computing-io/powercap/internal/device"
	"github.com/sustainable-computing-io/powercap/internal/limit"
	"github.com/sustainable-computing-io/powercap/internal/monitor"
	"github.com/sustainable-computing-io/powercap/internal/service"
)

type (
	Initializer = service.Initializer
	Runner      = service.Runner
	Shutdowner  = service.Shutdowner
	Monitor     = monitor.Service
)

// Exporter periodically prints the core and domain tables of the latest
// snapshot
type Exporter struct {
	logger   *slog.Logger
	monitor  Monitor
	out      io.WriteCloser
	ticker   *time.Ticker
	interval time.Duration
}

var (
	_ Initializer = (*Exporter)(nil)
	_ Runner      = (*Exporter)(nil)
	_ Shutdowner  = (*Exporter)(nil)
)

type Opts struct {
	logger   *slog.Logger
	out      io.WriteCloser
	interval time.Duration
}

// DefaultOpts() returns a new Opts with defaults set
func DefaultOpts() Opts {
	return Opts{
		logger:   slog.Default(),
		out:      os.Stdout,
		interval: 2 * time.Second,
	}
}

// OptionFn is a function sets one more more options in Opts struct
type OptionFn func(*Opts)

// WithLogger sets the logger for the exporter
func WithLogger(logger *slog.Logger) OptionFn {
	return func(o *Opts) {
		o.logger = logger
	}
}

func WithOutput(out io.WriteCloser) OptionFn {
	return func(o *Opts) {
		o.out = out
	}
}

func WithInterval(interval time.Duration) OptionFn {
	return func(o *Opts) {
		o.interval = interval
	}
}

func NewExporter(pm Monitor, applyOpts ...OptionFn) *Exporter {
	opts := DefaultOpts()
	for _, apply := range applyOpts {
		apply(&opts)
	}

	return &Exporter{
		logger:   opts.logger.With("service", "stdout"),
		monitor:  pm,
		out:      opts.out,
		interval: opts.interval,
	}
}

func (e *Exporter) Init() error {
	if e.interval <= 0 {
		return fmt.Errorf("invalid stdout interval %s", e.interval)
	}
	e.ticker = time.NewTicker(e.interval)
	return nil
}

func (e *Exporter) Run(ctx context.Context) error {
	defer e.ticker.Stop()

	for {
		select {
		case now := <-e.ticker.C:
			snapshot, err := e.monitor.Snapshot()
			if err != nil {
				e.logger.Warn("Failed to collect power data", "error", err)
				continue
			}
			write(e.out, now, snapshot)
		case <-ctx.Done():
			e.logger.Info("Exiting ticker")
			return nil
		}
	}
}

func write(out io.Writer, now time.Time, snapshot *monitor.Snapshot) {
	_, _ = fmt.Fprintf(out, "%s  total %s  window %s\n",
		now.UTC().Format(time.RFC3339), snapshot.TotalPower, snapshot.TotalEnergy)
	writeCPUs(out, snapshot)
	if len(snapshot.Domains) > 0 {
		writeDomains(out, snapshot.Domains)
	}
}

func limitString(l int64) string {
	if limit.IsUnlimited(l) {
		return "unlimited"
	}
	return device.Power(l).String()
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func writeCPUs(out io.Writer, snapshot *monitor.Snapshot) {
	rows := [][]string{}
	for _, cpu := range snapshot.SortedCPUs() {
		rows = append(rows, []string{
			strconv.Itoa(cpu.ID),
			cpu.Type.String(),
			cpu.State.String(),
			cpu.Power.String(),
			cpu.Energy.String(),
			limitString(cpu.Limit),
			yesNo(cpu.HasEnergyLeft),
		})
	}
	renderTable(out, []string{"CPU", "Type", "State", "Power", "Window", "Limit", "Budget"}, rows)
}

func writeDomains(out io.Writer, domains monitor.Domains) {
	rows := [][]string{}
	for _, d := range domains {
		target, lim, usage := "-", "-", "-"
		if d.Decided {
			target = d.Target.String()
			lim = limitString(d.Limit)
			usage = d.Usage.String()
		}
		state := "inactive"
		switch {
		case d.FailedOpen:
			state = "failed-open"
		case d.Active:
			state = "active"
		}
		rows = append(rows, []string{
			strconv.Itoa(d.ID),
			fmt.Sprint(d.CPUs),
			state,
			target,
			lim,
			usage,
			strconv.FormatUint(d.Iterations, 10),
		})
	}
	renderTable(out, []string{"Domain", "CPUs", "State", "Target", "Limit", "Usage", "Decisions"}, rows)
}

func renderTable(out io.Writer, header []string, rows [][]string) {
	table := tablewriter.NewWriter(out)
	table.Configure(func(cfg *tablewriter.Config) {
		cfg.Row.Formatting.Alignment = tw.AlignRight
	})
	table.Header(header)
	_ = table.Bulk(rows)
	_ = table.Render()
}

func (e *Exporter) Shutdown() error {
	return e.out.Close()
}

// Name implements service.Name
func (e *Exporter) Name() string {
	return "stdout"
}
