// Copyright Project Flowplane Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package metrics provides Prometheus metrics for Flowplane. They are
// informational; the control plane functions identically without them.
package metrics

import (
	"net/http"
	"time"

	resource_v3 "github.com/envoyproxy/go-control-plane/pkg/resource/v3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rajeevramani/flowplane/internal/build"
)

// Metrics provide Prometheus metrics for the app.
type Metrics struct {
	buildInfoGauge *prometheus.GaugeVec

	snapshotResourcesGauge *prometheus.GaugeVec
	snapshotInstallGauge   *prometheus.GaugeVec
	streamsGauge           *prometheus.GaugeVec
	nackCounter            *prometheus.CounterVec
}

const (
	BuildInfoGauge = "flowplane_build_info"

	SnapshotResourcesGauge = "flowplane_snapshot_resources"
	SnapshotInstallGauge   = "flowplane_snapshot_install_timestamp_seconds"
	StreamsGauge           = "flowplane_xds_streams"
	NackTotal              = "flowplane_xds_nack_total"
)

// typeLabel shortens a type URL to its label value.
func typeLabel(typeURL string) string {
	switch typeURL {
	case resource_v3.ClusterType:
		return "cluster"
	case resource_v3.EndpointType:
		return "endpoint"
	case resource_v3.RouteType:
		return "route"
	case resource_v3.ListenerType:
		return "listener"
	default:
		return typeURL
	}
}

// NewMetrics creates a new set of metrics and registers them with
// the supplied registry.
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := Metrics{
		buildInfoGauge: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: BuildInfoGauge,
				Help: "Build information for Flowplane. Labels include the branch and git SHA that Flowplane was built from, and the Flowplane version.",
			},
			[]string{"branch", "revision", "version"},
		),
		snapshotResourcesGauge: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: SnapshotResourcesGauge,
				Help: "Number of resources in a team's current snapshot, by type.",
			},
			[]string{"team", "type"},
		),
		snapshotInstallGauge: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: SnapshotInstallGauge,
				Help: "Unix timestamp of a team's last snapshot install.",
			},
			[]string{"team"},
		),
		streamsGauge: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: StreamsGauge,
				Help: "Number of open xDS streams, by team.",
			},
			[]string{"team"},
		),
		nackCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: NackTotal,
				Help: "Total configuration rejections (NACKs) received from the data plane, by team and type.",
			},
			[]string{"team", "type"},
		),
	}

	m.buildInfoGauge.WithLabelValues(build.Branch, build.Sha, build.Version).Set(1)

	registry.MustRegister(
		m.buildInfoGauge,
		m.snapshotResourcesGauge,
		m.snapshotInstallGauge,
		m.streamsGauge,
		m.nackCounter,
	)

	return &m
}

// OnSnapshotInstall records a team's snapshot contents after install.
func (m *Metrics) OnSnapshotInstall(team string, counts map[string]int) {
	for typeURL, count := range counts {
		m.snapshotResourcesGauge.WithLabelValues(team, typeLabel(typeURL)).Set(float64(count))
	}
	m.snapshotInstallGauge.WithLabelValues(team).Set(float64(time.Now().Unix()))
}

// StreamOpened records a new xDS stream.
func (m *Metrics) StreamOpened(team string) {
	m.streamsGauge.WithLabelValues(team).Inc()
}

// StreamClosed records a closed xDS stream.
func (m *Metrics) StreamClosed(team string) {
	m.streamsGauge.WithLabelValues(team).Dec()
}

// NackRecorded counts a data plane rejection.
func (m *Metrics) NackRecorded(team, typeURL string) {
	m.nackCounter.WithLabelValues(team, typeLabel(typeURL)).Inc()
}

// Handler returns a http Handler for a metrics endpoint.
func Handler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
