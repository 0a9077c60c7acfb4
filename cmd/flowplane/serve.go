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
	"context"
	"fmt"
	"net"
	"net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"

	"github.com/rajeevramani/flowplane/internal/health"
	"github.com/rajeevramani/flowplane/internal/httpsvc"
	"github.com/rajeevramani/flowplane/internal/metrics"
	"github.com/rajeevramani/flowplane/internal/orchestrator"
	"github.com/rajeevramani/flowplane/internal/store"
	"github.com/rajeevramani/flowplane/internal/timeout"
	"github.com/rajeevramani/flowplane/internal/workgroup"
	"github.com/rajeevramani/flowplane/internal/xds"
	xds_v3 "github.com/rajeevramani/flowplane/internal/xds/v3"
	"github.com/rajeevramani/flowplane/internal/xdscache"
)

// doServe runs the control plane until a signal or fatal error.
func doServe(log *logrus.Logger, ctx *serveContext) error {
	if ctx.debug {
		log.SetLevel(logrus.DebugLevel)
	}

	resend, err := timeout.Parse(ctx.resendInterval)
	if err != nil {
		return fmt.Errorf("invalid --xds-resend-interval: %w", err)
	}

	st, err := store.Open(ctx.databasePath, log.WithField("context", "store"))
	if err != nil {
		return fmt.Errorf("opening configuration repository: %w", err)
	}
	defer st.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	registry.MustRegister(collectors.NewGoCollector())
	metricsHandler := metrics.NewMetrics(registry)

	cache := xdscache.NewSnapshotCache(log.WithField("context", "snapshotcache"))
	orch := orchestrator.New(log.WithField("context", "orchestrator"), st, cache, metricsHandler)

	// Replay the repository into the cache before accepting streams so
	// the first response a node sees is complete.
	if err := orch.RebuildAll(context.Background()); err != nil {
		return fmt.Errorf("rebuilding snapshots: %w", err)
	}

	router := &xds.NodeRouter{Teams: st}
	adsServer := xds_v3.NewServer(
		log.WithField("context", "xds"),
		cache,
		router,
		xds_v3.WithResendInterval(resend),
		xds_v3.WithStreamMetrics(metricsHandler),
		xds_v3.WithNackSink(orch.RecordNack),
	)

	var g workgroup.Group

	// Register the xDS gRPC server.
	g.Add(func(stop <-chan struct{}) error {
		log := log.WithField("context", "grpc")

		addr := net.JoinHostPort(ctx.xdsAddr, fmt.Sprintf("%d", ctx.xdsPort))
		l, err := net.Listen("tcp", addr)
		if err != nil {
			return err
		}

		grpcServer := xds.RegisterServer(adsServer, registry, ctx.grpcOptions()...)

		go func() {
			<-stop

			// Stop accepting new streams and give in-flight responses
			// a bounded drain window.
			done := make(chan struct{})
			go func() {
				grpcServer.GracefulStop()
				close(done)
			}()
			select {
			case <-done:
			case <-time.After(ctx.drainTimeout):
				grpcServer.Stop()
			}
		}()

		log.WithField("address", addr).Info("started xDS server")
		defer log.Info("stopped xDS server")
		return grpcServer.Serve(l)
	})

	// Register the metrics/health/debug HTTP service.
	metricsvc := httpsvc.Service{
		Addr:        ctx.metricsAddr,
		Port:        ctx.metricsPort,
		FieldLogger: log.WithField("context", "metricsvc"),
	}
	metricsvc.ServeMux.Handle("/metrics", metrics.Handler(registry))

	h := health.Handler(health.CheckerFunc(func() error { return nil }))
	metricsvc.ServeMux.Handle("/health", h)
	metricsvc.ServeMux.Handle("/healthz", h)

	if ctx.debug {
		metricsvc.ServeMux.HandleFunc("/debug/pprof/", pprof.Index)
		metricsvc.ServeMux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		metricsvc.ServeMux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		metricsvc.ServeMux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}
	g.AddContext(metricsvc.Start)

	// Propagate SIGTERM/SIGINT into the group.
	g.Add(func(stop <-chan struct{}) error {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGTERM, syscall.SIGINT)
		defer signal.Stop(c)
		select {
		case sig := <-c:
			log.WithField("signal", sig).Info("shutting down")
		case <-stop:
		}
		return nil
	})

	return g.Run()
}
