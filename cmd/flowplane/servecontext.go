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

package main

import (
	"time"

	kingpin "github.com/alecthomas/kingpin/v2"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/keepalive"
)

// serveContext collects the flags of the serve sub-command.
type serveContext struct {
	// xdsAddr is the address the ADS gRPC server binds.
	xdsAddr string
	xdsPort int

	// metricsAddr is the address of the metrics/health HTTP server.
	metricsAddr string
	metricsPort int

	// databasePath locates the configuration repository file.
	databasePath string

	// resendInterval is the watchdog for unacknowledged responses.
	// Empty means the default; "infinity" disables resends.
	resendInterval string

	// portRangeBase/portRangeCount are parsed from the isolated-port
	// flags; serve builds no port allocator, so nothing reads them.
	portRangeBase  int
	portRangeCount int

	// drainTimeout bounds graceful shutdown of open streams.
	drainTimeout time.Duration

	debug bool
}

func registerServe(app *kingpin.Application, _ *logrus.Logger) (*kingpin.CmdClause, *serveContext) {
	serve := app.Command("serve", "Serve the xDS control plane.")

	ctx := &serveContext{}
	serve.Flag("xds-address", "xDS gRPC API address.").Default("0.0.0.0").StringVar(&ctx.xdsAddr)
	serve.Flag("xds-port", "xDS gRPC API port.").Default("8001").IntVar(&ctx.xdsPort)
	serve.Flag("metrics-address", "Metrics/health HTTP address.").Default("0.0.0.0").StringVar(&ctx.metricsAddr)
	serve.Flag("metrics-port", "Metrics/health HTTP port.").Default("8000").IntVar(&ctx.metricsPort)
	serve.Flag("database", "Path to the configuration repository.").Default("flowplane.db").StringVar(&ctx.databasePath)
	serve.Flag("xds-resend-interval", "Resend watchdog for unacknowledged responses (duration, or \"infinity\" to disable).").Default("30s").StringVar(&ctx.resendInterval)
	serve.Flag("isolated-port-base", "First listener port assignable to isolated API definitions.").Default("10000").IntVar(&ctx.portRangeBase)
	serve.Flag("isolated-port-count", "Number of listener ports assignable to isolated API definitions.").Default("1000").IntVar(&ctx.portRangeCount)
	serve.Flag("drain-timeout", "Grace period for open streams on shutdown.").Default("30s").DurationVar(&ctx.drainTimeout)
	serve.Flag("debug", "Enable debug logging.").BoolVar(&ctx.debug)

	return serve, ctx
}

// grpcOptions returns a slice of grpc.ServerOptions.
func (ctx *serveContext) grpcOptions() []grpc.ServerOption {
	return []grpc.ServerOption{
		// Envoy can open a lot of streams against a single control
		// plane connection; raise the HTTP/2 default well above it.
		grpc.MaxConcurrentStreams(1 << 20),
		// Keep idle streams alive through intermediaries.
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			PermitWithoutStream: true,
		}),
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    60 * time.Second,
			Timeout: 20 * time.Second,
		}),
	}
}
