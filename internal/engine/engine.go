// Package engine assembles the pipeline: the network tap feeds the event
// store, the store and the page text feed the signal sources, the sources
// drive the session machine, and the identity resolver watches the whole
// thing for the session being re-keyed under it.
package engine

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/jason-merrell/grok-auto-retry/internal/config"
	"github.com/jason-merrell/grok-auto-retry/internal/dom"
	"github.com/jason-merrell/grok-auto-retry/internal/eventstore"
	"github.com/jason-merrell/grok-auto-retry/internal/identity"
	"github.com/jason-merrell/grok-auto-retry/internal/intercept"
	"github.com/jason-merrell/grok-auto-retry/internal/logbuf"
	"github.com/jason-merrell/grok-auto-retry/internal/metrics"
	"github.com/jason-merrell/grok-auto-retry/internal/session"
	"github.com/jason-merrell/grok-auto-retry/internal/signal"
	"github.com/jason-merrell/grok-auto-retry/internal/storage"
	"github.com/jason-merrell/grok-auto-retry/pkg/models"
)

// Engine owns every long-lived component of one automation instance
type Engine struct {
	cfg       *config.Config
	logger    *slog.Logger
	collector *metrics.Collector
	ring      *logbuf.Ring

	store     *storage.Store
	events    *eventstore.Store
	processor *intercept.Processor
	page      dom.Page
	registry  *session.Registry
	machine   *session.Machine
	textSrc   *signal.TextSource
	streamSrc *signal.StreamSource
	resolver  *identity.Resolver

	stops []func()
}

// New wires the components together. Nothing starts until Start.
func New(
	cfg *config.Config,
	page dom.Page,
	store *storage.Store,
	ring *logbuf.Ring,
	logger *slog.Logger,
) *Engine {
	collector := metrics.NewCollector()
	events := eventstore.New()
	registry := session.NewRegistry()
	machine := session.New(cfg, page, store, registry, ring, collector, logger)

	return &Engine{
		cfg:       cfg,
		logger:    logger,
		collector: collector,
		ring:      ring,
		store:     store,
		events:    events,
		processor: intercept.NewProcessor(events, logger),
		page:      page,
		registry:  registry,
		machine:   machine,
		textSrc:   signal.NewTextSource(cfg, page, machine, collector, logger),
		streamSrc: signal.NewStreamSource(cfg, events, machine, collector, logger),
		resolver:  identity.NewResolver(cfg, page, store, registry, machine, collector, logger),
	}
}

// Transport wraps base so every request through it feeds the interceptor
func (e *Engine) Transport(base http.RoundTripper) http.RoundTripper {
	return intercept.Wrap(base, e.processor,
		e.cfg.Endpoints.ConversationPattern,
		e.cfg.Endpoints.PollPattern,
		e.logger)
}

// EventStore exposes the network-observed state, read-only by convention
func (e *Engine) EventStore() *eventstore.Store { return e.events }

// Machine exposes the session state machine
func (e *Engine) Machine() *session.Machine { return e.machine }

// Registry exposes the shared session identity
func (e *Engine) Registry() *session.Registry { return e.registry }

// Start loads persisted state for mediaID, attaches both signal channels,
// and reconciles any session interrupted by a reload
func (e *Engine) Start(mediaID string) error {
	if err := e.machine.Load(mediaID); err != nil {
		return fmt.Errorf("failed to load session %q: %w", mediaID, err)
	}

	for _, src := range []signal.Source{e.textSrc, e.streamSrc} {
		stop, err := src.Start()
		if err != nil {
			for _, s := range e.stops {
				s()
			}
			e.stops = nil
			return fmt.Errorf("failed to start %s channel: %w", src.Name(), err)
		}
		e.stops = append(e.stops, stop)
	}

	e.stops = append(e.stops, e.events.Subscribe(e.onSnapshot))

	e.logger.Info("Engine started", "media_id", mediaID)
	e.machine.Resume()
	return nil
}

// StartSession begins a new retry session; attempts already judged in a
// previous session do not carry over
func (e *Engine) StartSession(prompt string) {
	e.streamSrc.ResetAttempts()
	e.machine.StartSession(prompt)
}

// onSnapshot runs on every event store version: publish the version,
// sample attempt progress into the session, and show the newest parent id
// to the identity resolver
func (e *Engine) onSnapshot(snap eventstore.Snapshot) {
	e.collector.SetStoreVersion(snap.Version)

	if attempt := newestAttempt(snap); attempt != nil {
		e.machine.RecordProgress(attempt.Progress)
		if attempt.ParentID != "" {
			e.resolver.ObserveMediaID(attempt.ParentID)
		}
	}
}

// newestAttempt returns the most recently updated attempt in the snapshot
func newestAttempt(snap eventstore.Snapshot) *models.VideoAttempt {
	var newest *models.VideoAttempt
	for _, v := range snap.Videos {
		if newest == nil || v.LastUpdate.After(newest.LastUpdate) {
			newest = v
		}
	}
	return newest
}

// Stop detaches every component in reverse order
func (e *Engine) Stop() {
	e.resolver.Stop()
	e.machine.StopScheduler()
	for i := len(e.stops) - 1; i >= 0; i-- {
		e.stops[i]()
	}
	e.stops = nil
	e.logger.Info("Engine stopped")
}
