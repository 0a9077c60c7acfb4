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

package v3

import (
	"context"
	"sort"
	"time"

	envoy_service_discovery_v3 "github.com/envoyproxy/go-control-plane/envoy/service/discovery/v3"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/anypb"

	"github.com/rajeevramani/flowplane/internal/xdscache"
)

// grpcStream is the part of the generated stream interface the loop
// needs; tests substitute an in-process fake.
type grpcStream interface {
	Context() context.Context
	Send(*envoy_service_discovery_v3.DiscoveryResponse) error
	Recv() (*envoy_service_discovery_v3.DiscoveryRequest, error)
}

// subscription is the per-type state machine of one stream. Exactly
// one response per type may be in flight: pending is set on send and
// cleared by the matching ACK or NACK. A watchdog resend keeps it set
// and replaces the in-flight nonce.
type subscription struct {
	active   bool
	wildcard bool
	names    map[string]bool

	lastSentVersion  string
	lastSentNonce    string
	lastAckedVersion string
	nackCount        int

	pending bool
	sentAt  time.Time
}

// sameNames reports whether the requested resource name set equals the
// subscription's current one.
func (sub *subscription) sameNames(names []string) bool {
	if sub.wildcard {
		return len(names) == 0
	}
	if len(names) != len(sub.names) {
		return false
	}
	for _, name := range names {
		if !sub.names[name] {
			return false
		}
	}
	return true
}

func (sub *subscription) setNames(names []string) {
	if len(names) == 0 {
		sub.wildcard = true
		sub.names = nil
		return
	}
	sub.wildcard = false
	sub.names = make(map[string]bool, len(names))
	for _, name := range names {
		sub.names[name] = true
	}
}

// stream processes a stream of DiscoveryRequests.
func (s *Server) stream(st grpcStream) error {
	// Bump connection counter and set it as a field on the logger.
	log := s.WithField("connection", s.connections.Next())

	// Notify whether the stream terminated on error.
	done := func(log logrus.FieldLogger, err error) error {
		if err != nil {
			log.WithError(err).Error("stream terminated")
		} else {
			log.Info("stream terminated")
		}
		return err
	}

	ctx := st.Context()

	// Receive on a separate goroutine so the loop can select between
	// client requests and cache notifications. The receiver owns Recv;
	// the loop owns Send and all stream state.
	reqs := make(chan *envoy_service_discovery_v3.DiscoveryRequest)
	errs := make(chan error, 1)
	go func() {
		for {
			req, err := st.Recv()
			if err != nil {
				errs <- err
				return
			}
			select {
			case reqs <- req:
			case <-ctx.Done():
				return
			}
		}
	}()

	var (
		key         xdscache.NodeKey
		resolved    bool
		current     *xdscache.Snapshot
		snapshots   <-chan *xdscache.Snapshot
		cancelWatch func()
		subs        = map[string]*subscription{}
	)
	defer func() {
		if cancelWatch != nil {
			cancelWatch()
		}
		if resolved {
			if s.metrics != nil {
				s.metrics.StreamClosed(key.Team)
			}
		}
	}()

	var watchdog <-chan time.Time
	if s.resend > 0 {
		ticker := time.NewTicker(s.resend / 2)
		defer ticker.Stop()
		watchdog = ticker.C
	}

	for {
		select {
		case err := <-errs:
			return done(log, err)

		case <-ctx.Done():
			return done(log, nil)

		case req := <-reqs:
			log := logDiscoveryRequestDetails(log, req)

			if !xdscache.KnownTypeURL(req.GetTypeUrl()) {
				return done(log, status.Errorf(codes.InvalidArgument, "no resource registered for typeURL %q", req.GetTypeUrl()))
			}

			// The node is only guaranteed on the first request of the
			// stream; resolve the cache key once.
			if !resolved {
				k, err := s.router.Resolve(ctx, req.Node)
				if err != nil {
					return done(log, err)
				}
				key = k
				resolved = true
				snapshots, cancelWatch = s.cache.Watch(key)
				current = s.cache.Get(key)
				if s.metrics != nil {
					s.metrics.StreamOpened(key.Team)
				}
				log.WithField("key", key.String()).Info("stream opened")
			}

			sub := subs[req.GetTypeUrl()]
			if sub == nil {
				sub = &subscription{}
				subs[req.GetTypeUrl()] = sub
			}

			if err := s.handleRequest(ctx, log, st, key, sub, req, current); err != nil {
				return done(log, err)
			}

		case snap := <-snapshots:
			current = snap
			// Push changed, subscribed types in dependency order:
			// clusters before endpoints, listeners before routes.
			for _, typeURL := range xdscache.TypeURLs {
				sub := subs[typeURL]
				if sub == nil || !sub.active || sub.pending {
					continue
				}
				if sub.lastSentVersion == snap.TypeVersion(typeURL) {
					continue
				}
				if err := s.send(st, sub, typeURL, snap); err != nil {
					return done(log, err)
				}
			}

		case <-watchdog:
			// A response with no ACK or NACK after the resend interval
			// is resent at the latest version with a fresh nonce. The
			// silence alone never concludes the stream is broken.
			for _, typeURL := range xdscache.TypeURLs {
				sub := subs[typeURL]
				if sub == nil || !sub.pending || current == nil {
					continue
				}
				if time.Since(sub.sentAt) < s.resend {
					continue
				}
				log.WithField("type_url", typeURL).Debug("resending unacknowledged response")
				if err := s.send(st, sub, typeURL, current); err != nil {
					return done(log, err)
				}
			}
		}
	}
}

// handleRequest applies one DiscoveryRequest to its subscription.
func (s *Server) handleRequest(ctx context.Context, log logrus.FieldLogger, st grpcStream, key xdscache.NodeKey, sub *subscription, req *envoy_service_discovery_v3.DiscoveryRequest, current *xdscache.Snapshot) error {
	typeURL := req.GetTypeUrl()

	switch {
	case req.ResponseNonce == "":
		// Initial subscription for this type (or a client that does
		// not echo nonces; treat identically).
		sub.active = true
		sub.setNames(req.ResourceNames)
		if current != nil {
			return s.send(st, sub, typeURL, current)
		}
		return nil

	case req.ResponseNonce != sub.lastSentNonce:
		// Stale: a response raced this request. Ignore; the client
		// will answer the in-flight nonce.
		log.Debug("ignoring stale nonce")
		return nil

	case req.ErrorDetail != nil:
		// NACK. The acked version stays put; the next install will
		// carry a newer version and trigger a retry.
		sub.pending = false
		sub.nackCount++
		log.WithField("code", req.ErrorDetail.Code).Error(req.ErrorDetail.Message)
		if s.metrics != nil {
			s.metrics.NackRecorded(key.Team, typeURL)
		}
		if s.nacks != nil {
			s.nacks(ctx, key.Team, typeURL, sub.lastSentVersion, req.ErrorDetail.Message)
		}

	default:
		// ACK.
		sub.pending = false
		sub.lastAckedVersion = sub.lastSentVersion
	}

	// Whether the request ACKed or NACKed, it may also change the
	// subscribed resource set; a changed set is answered immediately
	// with the full current set for this type.
	if !sub.sameNames(req.ResourceNames) {
		sub.setNames(req.ResourceNames)
		if current != nil {
			return s.send(st, sub, typeURL, current)
		}
		return nil
	}

	// An install may have arrived while the previous response was in
	// flight; catch the subscription up.
	if current != nil && sub.lastSentVersion != current.TypeVersion(typeURL) {
		return s.send(st, sub, typeURL, current)
	}
	return nil
}

// send builds and sends one DiscoveryResponse for a type, filtered by
// the subscription's resource name set.
func (s *Server) send(st grpcStream, sub *subscription, typeURL string, snap *xdscache.Snapshot) error {
	resources := snap.Resources(typeURL)

	names := make([]string, 0, len(resources))
	for name := range resources {
		if sub.wildcard || sub.names[name] {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	anys := make([]*anypb.Any, 0, len(names))
	for _, name := range names {
		a, err := anypb.New(resources[name])
		if err != nil {
			return err
		}
		anys = append(anys, a)
	}

	resp := &envoy_service_discovery_v3.DiscoveryResponse{
		VersionInfo: snap.TypeVersion(typeURL),
		Resources:   anys,
		TypeUrl:     typeURL,
		Nonce:       uuid.NewString(),
	}

	if err := st.Send(resp); err != nil {
		return err
	}

	sub.lastSentVersion = resp.VersionInfo
	sub.lastSentNonce = resp.Nonce
	sub.pending = true
	sub.sentAt = time.Now()
	return nil
}
