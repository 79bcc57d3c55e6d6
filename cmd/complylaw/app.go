package main

import (
	"context"
	"fmt"
	"math/rand/v2"
	"os"

	"go.uber.org/zap"

	"complylaw/internal/adapters/external"
	"complylaw/internal/adapters/memory"
	"complylaw/internal/adapters/postgres"
	"complylaw/internal/checks"
	"complylaw/internal/config"
	"complylaw/internal/domain"
	"complylaw/internal/live"
	"complylaw/internal/orchestrator"
	"complylaw/internal/ports"
	"complylaw/internal/services/firms"
	"complylaw/internal/services/posture"
	"complylaw/internal/services/scanner"
	"complylaw/internal/tiers"
	"complylaw/internal/workers/scanrunner"
)

type store interface {
	ports.ScanRepository
	ports.JobRepository
	ports.FirmRepository
	ports.ScoreRepository
	ports.StaleReaper
}

// app is the wired service. db is nil when running on the in-memory store.
type app struct {
	db        *postgres.DB
	mem       *memory.Store
	store     store
	hub       *live.Hub
	mqtt      *live.MQTT
	publisher ports.Publisher
	orch      *orchestrator.Orchestrator
	runner    *scanrunner.Runner
	scans     *scanner.Service
	posture   *posture.Service
}

func buildApp(ctx context.Context, c config.Config, log *zap.Logger) (*app, error) {
	a := &app{hub: live.NewHub(c.Live.Buffer)}

	if c.DatabaseURL != "" {
		db, err := postgres.Connect(ctx, c.DatabaseURL, log)
		if err != nil {
			return nil, fmt.Errorf("db connect error: %w", err)
		}
		a.db, a.store = db, db
	} else {
		a.mem = memory.New(nil)
		a.store = a.mem
	}

	// With Postgres every process publishes through NOTIFY and serving processes feed
	// their hub from LISTEN, so events reach sockets held by any replica.
	var pubs live.Fanout
	if a.db != nil {
		pubs = append(pubs, live.PGNotify{Pool: a.db.Pool, Channel: c.Live.PGChannel})
	} else {
		pubs = append(pubs, a.hub)
	}
	if c.Live.MQTTBroker != "" {
		m, err := live.NewMQTT(live.MQTTOptions{
			Broker:   c.Live.MQTTBroker,
			ClientID: c.Live.MQTTClientID,
			Prefix:   c.Live.MQTTPrefix,
			Username: c.Live.MQTTUsername,
			Password: c.Live.MQTTPassword,
		})
		if err != nil {
			a.Close()
			return nil, err
		}
		a.mqtt = m
		pubs = append(pubs, m)
	}
	a.publisher = pubs

	reg, err := checks.BuiltinRegistry(checks.Deps{
		Fetcher: checks.NewFetcher(checks.FetcherOptions{
			UserAgent:         c.Probes.UserAgent,
			RequestsPerSecond: c.Probes.RequestsPerSecond,
		}),
		DNS:   checks.DNSResolver{Server: c.Probes.DNSServer},
		Nikto: checks.Nikto{Binary: c.Probes.NiktoBinary},
		Nmap:  checks.Nmap{TopPorts: c.Probes.NmapTopPorts},
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	sel, err := loadTiers(c.Scan.TiersFile, reg)
	if err != nil {
		a.Close()
		return nil, err
	}

	deps := orchestrator.Deps{
		Jobs:      a.store,
		Firms:     firms.New(a.store, log),
		Tiers:     sel,
		Publisher: a.publisher,
		Catalog:   reg.Recommendations(),
		Log:       log,
	}
	if ext := external.New(external.Options{URL: c.External.URL, APIKey: c.External.APIKey, Timeout: c.External.Timeout}); ext.Enabled() {
		deps.External = ext
	}
	opts := orchestrator.Options{
		UnitTimeout:     c.Scan.UnitTimeout,
		Parallelism:     c.Scan.Parallelism,
		VerboseFindings: c.Scan.VerboseFindings,
	}
	if c.Scan.RiskJitter {
		opts.RiskJitter = func() float64 { return rand.Float64() * domain.MaxJitter }
	}
	a.orch = orchestrator.New(deps, opts)
	a.posture = posture.New(a.store)
	a.orch.Register(a.posture)

	a.runner = scanrunner.New(a.store, a.store, a.orch, scanrunner.Options{
		Workers:      c.Scan.Workers,
		PollInterval: c.Scan.PollInterval,
		JobTimeout:   c.Scan.JobTimeout,
	}, nil, log)
	a.scans = scanner.New(a.store, a.publisher, a.orch, scanner.Options{
		PerHour: c.Intake.PerHour,
		Burst:   c.Intake.Burst,
	}, nil, log)
	return a, nil
}

func loadTiers(path string, reg *checks.Registry) (*tiers.Selector, error) {
	if path == "" {
		return tiers.Default(reg)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tiers file: %w", err)
	}
	return tiers.Load(data, reg)
}

func (a *app) Close() {
	if a.mqtt != nil {
		a.mqtt.Close()
	}
	if a.db != nil {
		a.db.Close()
	}
}
