// Copyright 2025 Tom Barlow
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

package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/tombee/runfactory/internal/config"
	"github.com/tombee/runfactory/internal/log"
	"github.com/tombee/runfactory/internal/registry"
	"github.com/tombee/runfactory/internal/rpc"
)

// registryHost serves the registry service over a store.
type registryHost struct {
	store  registry.Store
	client *registry.Local
	server *rpc.Server
}

// openStore opens the configured binding store.
func openStore(cfg config.RegistryConfig) (registry.Store, error) {
	switch cfg.Backend {
	case "sqlite":
		if err := os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o700); err != nil {
			return nil, fmt.Errorf("failed to create registry directory: %w", err)
		}
		return registry.NewSQLiteStore(registry.SQLiteConfig{Path: cfg.SQLitePath, WAL: true})
	default:
		return registry.NewMemoryStore(), nil
	}
}

// startRegistry opens the store and serves it on cfg.Address. It returns
// the bound address.
func startRegistry(ctx context.Context, cfg config.RegistryConfig, logger *slog.Logger) (*registryHost, string, error) {
	store, err := openStore(cfg)
	if err != nil {
		return nil, "", err
	}
	client := registry.NewLocal(store)

	server := rpc.NewServer(&rpc.ServerConfig{
		Address: cfg.Address,
		Logger:  log.WithComponent(logger, "registry"),
	})
	server.Register(&registry.ServiceDesc, registry.NewService(client))
	addr, err := server.Start(ctx)
	if err != nil {
		_ = store.Close()
		return nil, "", fmt.Errorf("failed to start registry: %w", err)
	}
	logger.Info("registry listening",
		slog.String("addr", addr),
		slog.String("backend", cfg.Backend))
	return &registryHost{store: store, client: client, server: server}, addr, nil
}

func (h *registryHost) shutdown(ctx context.Context) error {
	err := h.server.Shutdown(ctx)
	if cerr := h.store.Close(); err == nil {
		err = cerr
	}
	return err
}

// ServeRegistry runs a standalone registry until ctx is cancelled.
func ServeRegistry(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	host, _, err := startRegistry(ctx, cfg.Registry, logger)
	if err != nil {
		return err
	}
	<-ctx.Done()
	return host.shutdown(context.WithoutCancel(ctx))
}
