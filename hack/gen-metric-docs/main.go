// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/alecthomas/kingpin/v2"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/sustainable-computing-io/powercap/config"
	"github.com/sustainable-computing-io/powercap/internal/exporter/prometheus/collector"
	"github.com/sustainable-computing-io/powercap/internal/monitor"
)

// MetricInfo holds information about a Prometheus metric
type MetricInfo struct {
	Name        string
	Type        string
	Description string
	Labels      []string
	ConstLabels map[string]string
}

// nullMonitor satisfies the collectors without ever producing data
type nullMonitor struct {
	dataCh chan struct{}
}

func (m *nullMonitor) DataChannel() <-chan struct{} { return m.dataCh }

func (m *nullMonitor) Snapshot() (*monitor.Snapshot, error) { return monitor.NewSnapshot(), nil }

func (m *nullMonitor) CPUs() []int { return nil }

var (
	fqNameRegex         = regexp.MustCompile(`fqName: "([^"]+)"`)
	helpRegex           = regexp.MustCompile(`help: "([^"]+)"`)
	variableLabelsRegex = regexp.MustCompile(`variableLabels: \{([^}]*)\}`)
	constLabelsRegex    = regexp.MustCompile(`constLabels: \{([^}]*)\}`)
	labelPairRegex      = regexp.MustCompile(`(\w+)="([^"]*)"`)
)

// extractMetricsInfo parses the descriptions a collector announces
func extractMetricsInfo(c prometheus.Collector) ([]MetricInfo, error) {
	ch := make(chan *prometheus.Desc, 100)
	c.Describe(ch)
	close(ch)

	var metrics []MetricInfo
	for desc := range ch {
		descStr := desc.String()

		fqName := fqNameRegex.FindStringSubmatch(descStr)
		if len(fqName) < 2 {
			return nil, fmt.Errorf("could not parse fqName from %s", descStr)
		}
		help := helpRegex.FindStringSubmatch(descStr)
		if len(help) < 2 {
			return nil, fmt.Errorf("could not parse help from %s", descStr)
		}

		var labels []string
		if m := variableLabelsRegex.FindStringSubmatch(descStr); len(m) >= 2 && m[1] != "" {
			for _, l := range strings.Split(m[1], ",") {
				labels = append(labels, strings.TrimSpace(l))
			}
		}

		constLabels := map[string]string{}
		if m := constLabelsRegex.FindStringSubmatch(descStr); len(m) >= 2 && m[1] != "" {
			for _, pair := range labelPairRegex.FindAllStringSubmatch(m[1], -1) {
				constLabels[pair[1]] = pair[2]
			}
		}

		metricType := "GAUGE"
		if strings.HasSuffix(fqName[1], "_total") {
			metricType = "COUNTER"
		}

		metrics = append(metrics, MetricInfo{
			Name:        fqName[1],
			Type:        metricType,
			Description: help[1],
			Labels:      labels,
			ConstLabels: constLabels,
		})
	}
	return metrics, nil
}

type section struct {
	prefix  string
	title   string
	summary string
}

var sections = []section{
	{"powercap_node_", "Node Metrics", "Totals over all online cores."},
	{"powercap_cpu_", "Core Metrics", "Per-core energy estimates, budgets and estimator state."},
	{"powercap_domain_", "Frequency Domain Metrics", "State and last decision of the power capping controller of each frequency domain."},
	{"", "Other Metrics", "Build and platform information."},
}

// generateMarkdown renders metrics grouped by subsystem
func generateMarkdown(metrics []MetricInfo) string {
	var md strings.Builder
	sort.Slice(metrics, func(i, j int) bool {
		return metrics[i].Name < metrics[j].Name
	})

	md.WriteString("# powercap Metrics\n\n")
	md.WriteString("This document describes the metrics exported by powercap for per-core energy estimation and power capping.\n\n")
	md.WriteString("## Overview\n\n")
	md.WriteString("Metrics are served in Prometheus format on the /metrics endpoint of the API server.\n\n")
	md.WriteString("### Metric Types\n\n")
	md.WriteString("- **COUNTER**: A cumulative metric that only increases over time\n")
	md.WriteString("- **GAUGE**: A metric that can increase and decrease\n\n")
	md.WriteString("## Metrics Reference\n\n")

	grouped := make([][]MetricInfo, len(sections))
	for _, m := range metrics {
		for i, s := range sections {
			if strings.HasPrefix(m.Name, s.prefix) {
				grouped[i] = append(grouped[i], m)
				break
			}
		}
	}

	for i, s := range sections {
		if len(grouped[i]) == 0 {
			continue
		}
		fmt.Fprintf(&md, "### %s\n\n%s\n\n", s.title, s.summary)
		writeMetricsSection(&md, grouped[i])
	}

	md.WriteString("---\n\n")
	md.WriteString("This documentation was automatically generated by the gen-metric-docs tool.\n")
	return md.String()
}

// writeMetricsSection writes a section of metrics to the markdown builder
func writeMetricsSection(md *strings.Builder, metrics []MetricInfo) {
	for _, metric := range metrics {
		fmt.Fprintf(md, "#### %s\n\n", metric.Name)
		fmt.Fprintf(md, "- **Type**: %s\n", metric.Type)
		fmt.Fprintf(md, "- **Description**: %s\n", metric.Description)
		if len(metric.Labels) > 0 {
			md.WriteString("- **Labels**:\n")
			for _, label := range metric.Labels {
				fmt.Fprintf(md, "  - `%s`\n", label)
			}
		}
		if len(metric.ConstLabels) > 0 {
			md.WriteString("- **Constant Labels**:\n")
			keys := make([]string, 0, len(metric.ConstLabels))
			for key := range metric.ConstLabels {
				keys = append(keys, key)
			}
			sort.Strings(keys)
			for _, key := range keys {
				fmt.Fprintf(md, "  - `%s`\n", key)
			}
		}
		md.WriteString("\n")
	}
}

// collectors returns every collector the exporter can register
func collectors(logger *slog.Logger, procfs string) ([]prometheus.Collector, error) {
	pm := &nullMonitor{dataCh: make(chan struct{})}

	cpuInfo, err := collector.NewCPUInfoCollector(procfs, nil)
	if err != nil {
		return nil, err
	}
	return []prometheus.Collector{
		collector.NewPowerCollector(pm, logger, config.MetricsLevelAll),
		collector.NewBuildInfoCollector(),
		cpuInfo,
	}, nil
}

func run(logger *slog.Logger, procfs, outputPath string) error {
	cs, err := collectors(logger, procfs)
	if err != nil {
		return fmt.Errorf("failed to create collectors: %w", err)
	}

	var all []MetricInfo
	for _, c := range cs {
		metrics, err := extractMetricsInfo(c)
		if err != nil {
			return err
		}
		all = append(all, metrics...)
	}
	logger.Info("Extracted metrics", "count", len(all))

	if dir := filepath.Dir(outputPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}
	if err := os.WriteFile(outputPath, []byte(generateMarkdown(all)), 0o644); err != nil {
		return fmt.Errorf("failed to write markdown file: %w", err)
	}
	logger.Info("Metrics documentation generated", "path", outputPath)
	return nil
}

func newLogger(w io.Writer) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, nil))
}

func main() {
	app := kingpin.New("gen-metric-docs", "Generate Markdown documentation of the powercap metrics.")
	output := app.Flag("output", "Path to output Markdown file").Default("metrics.md").String()
	procfs := app.Flag("procfs", "procfs used to build the cpu info collector").Default("/proc").ExistingDir()
	kingpin.MustParse(app.Parse(os.Args[1:]))

	if err := run(newLogger(os.Stderr), *procfs, *output); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
