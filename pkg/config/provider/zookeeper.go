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
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-zookeeper/zk"
)

// ZookeeperProvider reads config from a znode and re-arms a data watch after
// every event.
type ZookeeperProvider struct {
	conn *zk.Conn
	path string
}

// zkLogger routes the client's internal logging to slog at DEBUG.
type zkLogger struct{}

func (zkLogger) Printf(format string, args ...any) {
	slog.Debug(fmt.Sprintf(format, args...), "component", "zookeeper")
}

// NewZookeeperProvider connects to the ensemble at endpoints. The session is
// established in the background.
func NewZookeeperProvider(endpoints []string, path string) (*ZookeeperProvider, error) {
	if len(endpoints) == 0 {
		return nil, fmt.Errorf("zookeeper endpoints are required")
	}
	if path == "" || path[0] != '/' {
		return nil, fmt.Errorf("zookeeper path must be absolute, got %q", path)
	}

	conn, _, err := zk.Connect(endpoints, DialTimeout, zk.WithLogger(zkLogger{}))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to zookeeper: %w", err)
	}

	return &ZookeeperProvider{conn: conn, path: path}, nil
}

// Type returns TypeZookeeper.
func (p *ZookeeperProvider) Type() Type {
	return TypeZookeeper
}

// Load reads the znode's data.
func (p *ZookeeperProvider) Load(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, _, err := p.conn.Get(p.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read zookeeper path %s: %w", p.path, err)
	}
	return data, nil
}

// Watch follows the znode until ctx is cancelled. A deleted node is watched
// for re-creation.
func (p *ZookeeperProvider) Watch(ctx context.Context) (<-chan struct{}, error) {
	ch := make(chan struct{}, 1)
	go p.watchLoop(ctx, ch)

	slog.Info("Watching zookeeper path", "path", p.path)
	return ch, nil
}

func (p *ZookeeperProvider) watchLoop(ctx context.Context, ch chan<- struct{}) {
	defer close(ch)

	for {
		events, err := p.arm()
		if err != nil {
			slog.Warn("Failed to set zookeeper watch", "path", p.path, "error", err)
			if !sleepCtx(ctx, time.Second) {
				return
			}
			continue
		}

		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			switch ev.Type {
			case zk.EventNodeDataChanged, zk.EventNodeCreated:
				slog.Debug("Zookeeper config node changed", "path", p.path)
				notify(ch)
			case zk.EventNodeDeleted:
				slog.Warn("Zookeeper config node was deleted", "path", p.path)
			case zk.EventNotWatching:
				slog.Warn("Zookeeper watch lost, re-arming", "path", p.path, "error", ev.Err)
				if !sleepCtx(ctx, time.Second) {
					return
				}
			}
		}
	}
}

// arm sets a data watch, or an existence watch when the node is missing.
func (p *ZookeeperProvider) arm() (<-chan zk.Event, error) {
	_, _, events, err := p.conn.GetW(p.path)
	if err == nil {
		return events, nil
	}
	if !errors.Is(err, zk.ErrNoNode) {
		return nil, err
	}
	_, _, events, err = p.conn.ExistsW(p.path)
	return events, err
}

// Close ends the zookeeper session.
func (p *ZookeeperProvider) Close() error {
	p.conn.Close()
	return nil
}

var _ Provider = (*ZookeeperProvider)(nil)
