// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package collector

import (
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sustainable-computing-io/powercap/internal/version"
)

func TestBuildInfo_Describe(t *testing.T) {
	c := NewBuildInfoCollector()
	ch := make(chan *prometheus.Desc, 1)
	c.Describe(ch)
	require.Len(t, ch, 1)

	desc := (<-ch).String()
	assert.Contains(t, desc, `fqName: "powercap_build_info"`)
	assert.Contains(t, desc, "variableLabels: {arch,branch,revision,version,goversion}")
}

func TestBuildInfo_Collect(t *testing.T) {
	c := NewBuildInfoCollector()
	assert.Equal(t, 1, testutil.CollectAndCount(c, "powercap_build_info"))

	ch := make(chan prometheus.Metric, 1)
	c.Collect(ch)

	pb := &dto.Metric{}
	require.NoError(t, (<-ch).Write(pb))
	assert.Equal(t, 1.0, pb.GetGauge().GetValue())

	info := version.Info()
	assert.Equal(t, map[string]string{
		"arch":      info.GoArch,
		"branch":    info.GitBranch,
		"revision":  info.GitCommit,
		"version":   info.Version,
		"goversion": info.GoVersion,
	}, labelsOf(pb))
}

func TestBuildInfo_ParallelCollect(t *testing.T) {
	c := NewBuildInfoCollector()
	const parallelCalls = 10

	ch := make(chan prometheus.Metric, parallelCalls)
	var wg sync.WaitGroup
	wg.Add(parallelCalls)
	for i := 0; i < parallelCalls; i++ {
		go func() {
			defer wg.Done()
			c.Collect(ch)
		}()
	}
	wg.Wait()
	close(ch)

	assert.Len(t, ch, parallelCalls)
}
