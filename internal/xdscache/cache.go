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

package xdscache

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// SnapshotCache maps NodeKeys to their current snapshot and notifies
// watchers when an install changes at least one type. It is safe for
// many concurrent readers; installs for one key are expected to be
// serialized by the caller (the per-team mutation queue).
type SnapshotCache struct {
	logrus.FieldLogger

	mu      sync.RWMutex
	entries map[NodeKey]*entry
}

type entry struct {
	snapshot *Snapshot
	counter  uint64
	watchers map[int]chan *Snapshot
	nextID   int
}

// NewSnapshotCache returns an empty cache.
func NewSnapshotCache(log logrus.FieldLogger) *SnapshotCache {
	return &SnapshotCache{
		FieldLogger: log,
		entries:     map[NodeKey]*entry{},
	}
}

// Install computes per-type content hashes for the supplied resources
// and, if anything changed, installs a new snapshot with an advanced
// version. Types whose contents are unchanged carry their previous
// version forward. Returns the changed type URLs; an empty slice means
// the install was a no-op and no notification was sent.
func (c *SnapshotCache) Install(key NodeKey, resources ResourceSet) ([]string, error) {
	hashes := make(map[string]uint64, len(TypeURLs))
	for _, typeURL := range TypeURLs {
		h, err := hashResources(resources[typeURL])
		if err != nil {
			return nil, fmt.Errorf("hashing %s: %w", typeURL, err)
		}
		hashes[typeURL] = h
	}

	c.mu.Lock()
	e := c.entries[key]
	if e == nil {
		e = &entry{watchers: map[int]chan *Snapshot{}}
		c.entries[key] = e
	}
	prev := e.snapshot

	var changed []string
	for _, typeURL := range TypeURLs {
		if prev == nil || prev.hashes[typeURL] != hashes[typeURL] {
			changed = append(changed, typeURL)
		}
	}
	if len(changed) == 0 {
		c.mu.Unlock()
		return nil, nil
	}

	e.counter++
	version := fmt.Sprintf("%020d", e.counter)

	versions := make(map[string]string, len(TypeURLs))
	for _, typeURL := range TypeURLs {
		if prev != nil && prev.hashes[typeURL] == hashes[typeURL] {
			versions[typeURL] = prev.versions[typeURL]
		} else {
			versions[typeURL] = version
		}
	}

	snap := &Snapshot{
		Key:       key,
		Version:   version,
		versions:  versions,
		hashes:    hashes,
		resources: resources,
	}
	e.snapshot = snap

	// Notify while holding the lock: sends are non-blocking
	// (single-slot, latest-wins), so a slow subscriber can not stall
	// the writer.
	for _, ch := range e.watchers {
		notify(ch, snap)
	}
	c.mu.Unlock()

	c.WithField("key", key.String()).
		WithField("version", version).
		WithField("changed", changed).
		Debug("installed snapshot")

	return changed, nil
}

// Get returns the current snapshot for a key, or nil if none has been
// installed yet.
func (c *SnapshotCache) Get(key NodeKey) *Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if e := c.entries[key]; e != nil {
		return e.snapshot
	}
	return nil
}

// Keys returns the keys that currently hold a snapshot.
func (c *SnapshotCache) Keys() []NodeKey {
	c.mu.RLock()
	defer c.mu.RUnlock()

	keys := make([]NodeKey, 0, len(c.entries))
	for key, e := range c.entries {
		if e.snapshot != nil {
			keys = append(keys, key)
		}
	}
	return keys
}

// Watch subscribes to installs for a key. The returned channel holds
// at most one snapshot: if the subscriber lags, intermediate versions
// are dropped and the channel always yields the latest. The cancel
// function removes the subscription.
func (c *SnapshotCache) Watch(key NodeKey) (<-chan *Snapshot, func()) {
	ch := make(chan *Snapshot, 1)

	c.mu.Lock()
	e := c.entries[key]
	if e == nil {
		e = &entry{watchers: map[int]chan *Snapshot{}}
		c.entries[key] = e
	}
	id := e.nextID
	e.nextID++
	e.watchers[id] = ch

	// Prime the channel so a subscriber that joins after the first
	// install still converges.
	if e.snapshot != nil {
		notify(ch, e.snapshot)
	}
	c.mu.Unlock()

	cancel := func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if e := c.entries[key]; e != nil {
			delete(e.watchers, id)
		}
	}
	return ch, cancel
}

// notify delivers snap on a single-slot channel, replacing any queued
// value. Never blocks.
func notify(ch chan *Snapshot, snap *Snapshot) {
	for {
		select {
		case ch <- snap:
			return
		default:
			select {
			case <-ch:
			default:
			}
		}
	}
}
