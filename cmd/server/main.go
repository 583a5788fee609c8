// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/workcoordinator

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tomtom215/workcoordinator/internal/adminapi"
	"github.com/tomtom215/workcoordinator/internal/config"
	"github.com/tomtom215/workcoordinator/internal/coordinator"
	"github.com/tomtom215/workcoordinator/internal/dispatcher"
	"github.com/tomtom215/workcoordinator/internal/logging"
	"github.com/tomtom215/workcoordinator/internal/metrics"
	"github.com/tomtom215/workcoordinator/internal/store"
	"github.com/tomtom215/workcoordinator/internal/strategy"
	"github.com/tomtom215/workcoordinator/internal/supervisor"
	"github.com/tomtom215/workcoordinator/internal/supervisor/services"
	"github.com/tomtom215/workcoordinator/internal/transport"
	"github.com/tomtom215/workcoordinator/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to load configuration")
	}

	logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	logging.Info().Str("instance_service_name", cfg.InstanceServiceName).Msg("starting work coordinator")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		logging.Fatal().Err(err).Msg("work coordinator exited with error")
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	sink := metrics.NewPrometheusSink(prometheus.NewRegistry(), metrics.ComponentAll)

	st, err := store.Open(ctx, cfg.Store.Path, store.TuningFromConfig(&cfg.Store), sink)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	identity := strategy.Identity{
		InstanceId:  cfg.InstanceServiceName,
		ServiceName: cfg.InstanceServiceName,
		HostName:    hostname(),
		ProcessId:   int32(os.Getpid()),
	}

	var coord strategy.Coordinator = coordinator.New(st)
	var durable *strategy.DurableCoordinator
	if cfg.Strategy.DurableBufferEnabled {
		durable, err = strategy.NewDurableCoordinator(coord, cfg.Strategy.DurableBufferPath)
		if err != nil {
			return fmt.Errorf("open durable buffer: %w", err)
		}
		defer durable.Close()
		if err := durable.ReplayPending(ctx); err != nil {
			return fmt.Errorf("replay durable buffer: %w", err)
		}
		coord = durable
	}

	var strat strategy.Strategy
	switch cfg.Strategy.Variant {
	case "immediate":
		strat = strategy.NewImmediate(identity, coord, sink)
	case "scoped":
		strat = strategy.NewScoped(identity, coord, sink)
	default:
		strat = strategy.NewInterval(identity, coord, sink,
			time.Duration(cfg.Strategy.FlushIntervalMs)*time.Millisecond, cfg.Strategy.FlushBatchThreshold)
	}

	tree, err := supervisor.NewSupervisorTree(slog.Default(), supervisor.DefaultTreeConfig())
	if err != nil {
		return fmt.Errorf("build supervisor tree: %w", err)
	}

	// Command/event routes, receptors, and perspectives are registered by
	// the application embedding this coordinator; an empty Config still
	// yields a usable Dispatcher that invokes no receptors and fans
	// events out to no perspectives. The ConsumerWorker below holds the
	// only reference the running server needs: it calls
	// disp.PublishAsync for every durably-recorded inbox event.
	disp := dispatcher.New(strat, sink, dispatcher.Config{
		PartitionCount: cfg.Store.PartitionCount,
		EventSuffix:    cfg.Store.EventSuffix,
	})

	var tp transport.Transport
	if cfg.Transport.Enabled {
		transportCfg := transport.Config{
			URL:              cfg.Transport.URL,
			EmbeddedServer:   cfg.Transport.EmbeddedServer,
			StoreDir:         cfg.Transport.StoreDir,
			StreamName:       cfg.Transport.StreamName,
			DurableName:      cfg.Transport.DurableName,
			QueueGroup:       cfg.Transport.QueueGroup,
			SubscribeSubject: cfg.Transport.SubscribeSubject,
			ConnectTimeout:   10 * time.Second,
		}
		if transportCfg.EmbeddedServer {
			embedded, err := transport.NewEmbeddedServer(cfg.Transport.StoreDir)
			if err != nil {
				return fmt.Errorf("start embedded transport server: %w", err)
			}
			defer embedded.Shutdown(10 * time.Second)
			transportCfg.URL = embedded.ClientURL()
		}
		tp, err = transport.NewNATSTransport(transportCfg)
		if err != nil {
			return fmt.Errorf("connect transport: %w", err)
		}
		defer tp.Close()

		publisher := worker.NewPublisherWorker(cfg.InstanceServiceName+"-publisher", strat, tp, cfg.Store.LeaseSeconds, cfg.Worker, cfg.Stream.MaxStreamParallelism, sink)
		consumer := worker.NewConsumerWorker(cfg.InstanceServiceName+"-consumer", strat, tp, disp, cfg.Stream.MaxStreamParallelism, sink)
		tree.AddMessagingService(publisher)
		tree.AddMessagingService(consumer)
	}

	if cfg.AdminAPI.Enabled {
		operators := make(map[string]adminapi.OperatorCredential, len(cfg.AdminAPI.Operators))
		for name, op := range cfg.AdminAPI.Operators {
			operators[name] = adminapi.OperatorCredential{BcryptHash: op.APIKeyHash, Roles: op.Roles}
		}
		adminSrv, err := adminapi.New(cfg.AdminAPI, st, operators, sink)
		if err != nil {
			return fmt.Errorf("build admin API: %w", err)
		}
		tree.AddAPIService(services.NewHTTPServerService(adminSrv.HTTPServer(), 10*time.Second))
	}

	logging.Info().Msg("supervisor tree starting")
	err = tree.Serve(ctx)
	if err != nil && errors.Is(err, http.ErrServerClosed) {
		err = nil
	}
	logging.Info().Msg("supervisor tree stopped")
	return err
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return h
}
