/*
 * Stronghold
 * Copyright (C) 2023  Stronghold Security, Inc.
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 */

// Command strongholdd runs the secret broker daemon: it loads the file
// configuration, wires the configured backend store, KMS provider,
// metadata database and identity client, and serves the diagnostic
// endpoints.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/gravitational/trace"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/stronghold-sec/stronghold"
	"github.com/stronghold-sec/stronghold/lib/config"
	"github.com/stronghold-sec/stronghold/lib/defaults"
	"github.com/stronghold-sec/stronghold/lib/identity"
	"github.com/stronghold-sec/stronghold/lib/kms"
	"github.com/stronghold-sec/stronghold/lib/metadata/mongometa"
	"github.com/stronghold-sec/stronghold/lib/observability/metrics"
	"github.com/stronghold-sec/stronghold/lib/payload"
	"github.com/stronghold-sec/stronghold/lib/secrets"
	"github.com/stronghold-sec/stronghold/lib/utils/logutils"

	// Register the payload store adapters.
	_ "github.com/stronghold-sec/stronghold/lib/payload/awssm"
	_ "github.com/stronghold-sec/stronghold/lib/payload/consulkv"
	_ "github.com/stronghold-sec/stronghold/lib/payload/etcdkv"
	_ "github.com/stronghold-sec/stronghold/lib/payload/memory"
	_ "github.com/stronghold-sec/stronghold/lib/payload/mongokv"
	_ "github.com/stronghold-sec/stronghold/lib/payload/vaultkv"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "ERROR:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	app := kingpin.New("strongholdd", "Multi-tenant secret broker daemon.")
	app.HelpFlag.Short('h')

	start := app.Command("start", "Start the daemon.")
	configPath := start.Flag("config", "Path to the configuration file.").
		Short('c').Default(defaults.ConfigFilePath).String()

	version := app.Command("version", "Print the version and exit.")

	command, err := app.Parse(args)
	if err != nil {
		return trace.Wrap(err)
	}
	switch command {
	case start.FullCommand():
		return trace.Wrap(onStart(*configPath))
	case version.FullCommand():
		fmt.Println(stronghold.Version)
		return nil
	}
	return nil
}

func onStart(configPath string) error {
	fc, err := config.ReadFromFile(configPath)
	if err != nil {
		return trace.Wrap(err)
	}

	logger := logutils.NewLogger(logutils.Config{
		Level:        fc.Log.Level,
		MaskedFields: fc.MaskedFields(),
	})
	slog.SetDefault(logger)
	logger = logger.With(stronghold.ComponentKey, stronghold.ComponentDaemon)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := fc.Database("default")
	if err != nil {
		return trace.Wrap(err)
	}
	meta, err := mongometa.New(ctx, mongometa.Config{URI: db.URI, Database: db.Database})
	if err != nil {
		return trace.Wrap(err)
	}
	defer meta.Close(context.Background())

	store, err := payload.New(ctx, fc.Backend, payload.Config{
		Params:       fc.Connector(fc.Backend),
		DatabaseURI:  db.URI,
		DatabaseName: db.Database,
	})
	if err != nil {
		return trace.Wrap(err)
	}
	defer store.Close()

	var keys kms.KeyManager
	if fc.Encrypt {
		keys, err = kms.New(ctx, fc.EncryptType, fc.Connector(fc.EncryptType))
		if err != nil {
			return trace.Wrap(err)
		}
		defer keys.Close()
	}

	idClient, err := identity.NewGRPCClient(identity.GRPCConfig{
		Endpoint:    fc.Identity.Endpoint,
		SystemToken: fc.Token,
	})
	if err != nil {
		return trace.Wrap(err)
	}
	defer idClient.Close()

	svcConfig := secrets.Config{
		Stores:      meta.Stores,
		Payload:     store,
		Identity:    idClient,
		Keys:        keys,
		Encrypt:     fc.Encrypt,
		EncryptType: fc.EncryptType,
	}
	// The RPC front end registers the services; constructing them here
	// makes misconfiguration fail at startup, not on the first request.
	if _, err := secrets.NewSecretService(svcConfig); err != nil {
		return trace.Wrap(err)
	}
	if _, err := secrets.NewTrustedSecretService(svcConfig); err != nil {
		return trace.Wrap(err)
	}
	if _, err := secrets.NewUserSecretService(svcConfig); err != nil {
		return trace.Wrap(err)
	}

	diag, err := startDiagnostics(fc.DiagAddr, logger)
	if err != nil {
		return trace.Wrap(err)
	}

	logger.InfoContext(ctx, "Stronghold is ready.",
		"version", stronghold.Version,
		"backend", fc.Backend,
		"encrypt", fc.Encrypt,
		"diag_addr", fc.DiagAddr)

	<-ctx.Done()
	logger.InfoContext(ctx, "Shutting down.")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return trace.Wrap(diag.Shutdown(shutdownCtx))
}

// startDiagnostics serves health and metrics endpoints on addr.
func startDiagnostics(addr string, logger *slog.Logger) (*http.Server, error) {
	registry := prometheus.NewRegistry()
	if err := metrics.RegisterAll(registry); err != nil {
		return nil, trace.Wrap(err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, "ok")
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, "ok")
	})

	server := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Diagnostic listener failed.", "error", err)
		}
	}()
	return server, nil
}
