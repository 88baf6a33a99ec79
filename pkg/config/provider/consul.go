// Copyright 2025 Kadir Pekel
//
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

package provider

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hashicorp/consul/api"
)

// ConsulProvider reads config from a consul KV key and watches it with
// blocking queries.
type ConsulProvider struct {
	client   *api.Client
	key      string
	waitTime time.Duration
}

// NewConsulProvider creates a provider for key on the agent at address.
// ACL tokens and TLS settings come from the usual CONSUL_* variables.
func NewConsulProvider(address, key string) (*ConsulProvider, error) {
	key = strings.TrimPrefix(key, "/")
	if key == "" {
		return nil, fmt.Errorf("consul key is required")
	}

	cfg := api.DefaultConfig()
	if address != "" {
		cfg.Address = address
	}

	client, err := api.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create consul client: %w", err)
	}

	return &ConsulProvider{
		client:   client,
		key:      key,
		waitTime: 5 * time.Minute,
	}, nil
}

// Type returns TypeConsul.
func (p *ConsulProvider) Type() Type {
	return TypeConsul
}

// Load reads the key's value.
func (p *ConsulProvider) Load(ctx context.Context) ([]byte, error) {
	pair, _, err := p.client.KV().Get(p.key, (&api.QueryOptions{}).WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to read consul key %s: %w", p.key, err)
	}
	if pair == nil {
		return nil, fmt.Errorf("consul key %s not found", p.key)
	}
	return pair.Value, nil
}

// Watch issues blocking queries until ctx is cancelled, signalling whenever
// the key's ModifyIndex moves.
func (p *ConsulProvider) Watch(ctx context.Context) (<-chan struct{}, error) {
	ch := make(chan struct{}, 1)
	go p.watchLoop(ctx, ch)

	slog.Info("Watching consul key", "key", p.key)
	return ch, nil
}

func (p *ConsulProvider) watchLoop(ctx context.Context, ch chan<- struct{}) {
	defer close(ch)

	var (
		waitIndex  uint64
		lastModify uint64
		primed     bool
	)

	for {
		opts := (&api.QueryOptions{WaitIndex: waitIndex, WaitTime: p.waitTime}).WithContext(ctx)
		pair, meta, err := p.client.KV().Get(p.key, opts)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Warn("Consul watch query failed", "key", p.key, "error", err)
			if !sleepCtx(ctx, time.Second) {
				return
			}
			continue
		}

		var modify uint64
		if pair != nil {
			modify = pair.ModifyIndex
		}

		switch {
		case !primed:
			primed = true
		case pair == nil && lastModify != 0:
			slog.Warn("Consul config key was deleted", "key", p.key)
		case pair != nil && modify != lastModify:
			slog.Debug("Consul config key changed", "key", p.key, "modify_index", modify)
			notify(ch)
		}
		lastModify = modify

		// Indexes can go backwards after a snapshot restore; start over.
		switch {
		case meta.LastIndex < waitIndex:
			waitIndex = 0
		case meta.LastIndex == 0:
			waitIndex = 1
		default:
			waitIndex = meta.LastIndex
		}
	}
}

// Close is a no-op; the HTTP client holds no long-lived resources.
func (p *ConsulProvider) Close() error {
	return nil
}

var _ Provider = (*ConsulProvider)(nil)
