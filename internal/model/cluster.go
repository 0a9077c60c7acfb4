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

package model

import "fmt"

// Load balancing policies accepted on a cluster.
const (
	LBRoundRobin   = "round_robin"
	LBLeastRequest = "least_request"
	LBRandom       = "random"
	LBRingHash     = "ring_hash"
)

// ClusterSpec is the user supplied configuration of a cluster.
type ClusterSpec struct {
	Endpoints             []Endpoint       `json:"endpoints"`
	LBPolicy              string           `json:"lb_policy,omitempty"`
	ConnectTimeoutSeconds float64          `json:"connect_timeout_seconds,omitempty"`
	TLS                   *ClusterTLS      `json:"tls,omitempty"`
	HealthCheck           *HealthCheck     `json:"health_check,omitempty"`
	CircuitBreakers       *CircuitBreakers `json:"circuit_breakers,omitempty"`
}

// Endpoint is a single upstream host.
type Endpoint struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// ClusterTLS enables TLS towards the upstream.
type ClusterTLS struct {
	SNI                string `json:"sni,omitempty"`
	CACertPath         string `json:"ca_cert_path,omitempty"`
	InsecureSkipVerify bool   `json:"insecure_skip_verify,omitempty"`
}

// HealthCheck is an active HTTP health check on a cluster.
type HealthCheck struct {
	Path               string  `json:"path"`
	Host               string  `json:"host,omitempty"`
	IntervalSeconds    float64 `json:"interval_seconds,omitempty"`
	TimeoutSeconds     float64 `json:"timeout_seconds,omitempty"`
	UnhealthyThreshold uint32  `json:"unhealthy_threshold,omitempty"`
	HealthyThreshold   uint32  `json:"healthy_threshold,omitempty"`
}

// CircuitBreakers bounds concurrent upstream usage.
type CircuitBreakers struct {
	MaxConnections     uint32 `json:"max_connections,omitempty"`
	MaxPendingRequests uint32 `json:"max_pending_requests,omitempty"`
	MaxRequests        uint32 `json:"max_requests,omitempty"`
	MaxRetries         uint32 `json:"max_retries,omitempty"`
}

// Validate checks the structural validity of the spec. Numeric details
// that only matter at materialization time (timeout signs and the like)
// are checked by the resource builder, which drops offending rows
// without failing the mutation that stored them.
func (s *ClusterSpec) Validate() error {
	if len(s.Endpoints) == 0 {
		return validationErrorf("endpoints", "at least one endpoint is required")
	}
	for i, ep := range s.Endpoints {
		if ep.Host == "" {
			return validationErrorf(fmt.Sprintf("endpoints[%d].host", i), "host must not be empty")
		}
		if ep.Port < 1 || ep.Port > 65535 {
			return validationErrorf(fmt.Sprintf("endpoints[%d].port", i), "port %d out of range", ep.Port)
		}
	}
	switch s.LBPolicy {
	case "", LBRoundRobin, LBLeastRequest, LBRandom, LBRingHash:
	default:
		return validationErrorf("lb_policy", "unknown policy %q", s.LBPolicy)
	}
	if hc := s.HealthCheck; hc != nil && hc.Path == "" {
		return validationErrorf("health_check.path", "path must not be empty")
	}
	return nil
}
