// Package identity decides whether a freshly observed media id is the same
// logical session under a new name. The site re-keys a generation when it
// finishes or forks, and nothing on the wire says so outright, so the
// resolver ranks weak corroborating signals instead of trusting any single
// one.
package identity

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/jason-merrell/grok-auto-retry/internal/config"
	"github.com/jason-merrell/grok-auto-retry/internal/dom"
	"github.com/jason-merrell/grok-auto-retry/internal/metrics"
	"github.com/jason-merrell/grok-auto-retry/internal/session"
	"github.com/jason-merrell/grok-auto-retry/internal/storage"
	"github.com/jason-merrell/grok-auto-retry/pkg/models"
)

// Migration rules, strongest first. The rule name is recorded in metrics
// and logs so a surprising migration can be traced to the signal that
// decided it.
const (
	RuleNavFlag      = "nav_flag"      // explicit navigation noted moments ago
	RuleSidebar      = "sidebar"       // current media listed in the related sidebar
	RuleSecondaryID  = "secondary_id"  // secondary identifier carried over
	RuleStorageGroup = "storage_group" // new id already in the persisted video group
	RuleGraceExpired = "grace_expired" // nothing corroborated, migrated anyway
)

// Resolver watches for media id changes against the active session
type Resolver struct {
	cfg       config.EngineConfig
	selectors config.SelectorConfig
	page      dom.Page
	store     *storage.Store
	registry  *session.Registry
	machine   *session.Machine
	collector *metrics.Collector
	logger    *slog.Logger

	mu      sync.Mutex
	pending *time.Timer // deferred evaluation, single flight
	grace   *time.Timer
}

// NewResolver creates a resolver bound to one session machine
func NewResolver(
	cfg *config.Config,
	page dom.Page,
	store *storage.Store,
	registry *session.Registry,
	machine *session.Machine,
	collector *metrics.Collector,
	logger *slog.Logger,
) *Resolver {
	return &Resolver{
		cfg:       cfg.Engine,
		selectors: cfg.Selectors,
		page:      page,
		store:     store,
		registry:  registry,
		machine:   machine,
		collector: collector,
		logger:    logger,
	}
}

// ObserveMediaID reports a media id seen on the page. Nothing happens
// right away: the page is still settling and half its signals are stale,
// so evaluation is deferred briefly. A newer observation replaces a
// pending one.
func (r *Resolver) ObserveMediaID(mediaID string) {
	if mediaID == "" || mediaID == r.machine.MediaID() {
		return
	}
	if !r.machine.State().IsSessionActive {
		return
	}

	r.mu.Lock()
	if r.pending != nil {
		r.pending.Stop()
	}
	r.pending = time.AfterFunc(r.cfg.MigrationDefer(), func() {
		r.mu.Lock()
		r.pending = nil
		r.mu.Unlock()
		r.evaluate(mediaID, false)
	})
	r.mu.Unlock()

	r.logger.Debug("Media id changed, evaluation deferred",
		"observed", mediaID,
		"defer", r.cfg.MigrationDefer())
}

// Stop cancels any deferred or grace evaluation
func (r *Resolver) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pending != nil {
		r.pending.Stop()
		r.pending = nil
	}
	if r.grace != nil {
		r.grace.Stop()
		r.grace = nil
	}
}

// evaluate runs the ranked rules. On the first pass a miss arms the grace
// timer; after the grace window the session migrates regardless, with a
// warning, because an active session pinned to a dead media id is worse
// than a wrong merge.
func (r *Resolver) evaluate(mediaID string, final bool) {
	if !r.machine.State().IsSessionActive || mediaID == r.machine.MediaID() {
		return
	}

	rule, ok := r.matchRule(mediaID)
	if ok {
		r.migrate(mediaID, rule, false)
		return
	}

	if !final {
		r.logger.Info("No migration signal yet, holding",
			"observed", mediaID,
			"grace", r.cfg.MigrationGrace())
		r.mu.Lock()
		if r.grace != nil {
			r.grace.Stop()
		}
		r.grace = time.AfterFunc(r.cfg.MigrationGrace(), func() {
			r.mu.Lock()
			r.grace = nil
			r.mu.Unlock()
			r.evaluate(mediaID, true)
		})
		r.mu.Unlock()
		return
	}

	r.migrate(mediaID, RuleGraceExpired, true)
}

// matchRule tries the ranked signals in order of trust
func (r *Resolver) matchRule(mediaID string) (string, bool) {
	if r.registry.NavFlaggedWithin(r.cfg.NavFlagWindow()) {
		return RuleNavFlag, true
	}
	if r.sidebarLists(r.machine.MediaID()) {
		return RuleSidebar, true
	}
	if sec := r.registry.SecondaryID(); sec != "" && sec == mediaID {
		return RuleSecondaryID, true
	}
	if r.storedGroupContains(mediaID) {
		return RuleStorageGroup, true
	}
	return "", false
}

// sidebarLists reports whether the related-media sidebar mentions id
func (r *Resolver) sidebarLists(id string) bool {
	el, err := r.page.Find(r.selectors.SidebarItems)
	if err != nil {
		return false
	}
	return strings.Contains(el.Text(), id)
}

// storedGroupContains re-reads the durable record rather than trusting the
// in-memory copy: the write that added the new id may have come from
// another page of the same site
func (r *Resolver) storedGroupContains(mediaID string) bool {
	persistent := r.machine.Persistent()
	if persistent.InGroup(mediaID) {
		return true
	}
	var stored models.PersistentState
	found, err := storage.GetJSON(r.store.Durable, "session/"+r.machine.MediaID(), &stored)
	if err != nil || !found {
		return false
	}
	return stored.InGroup(mediaID)
}

func (r *Resolver) migrate(mediaID, rule string, warn bool) {
	old := r.machine.MediaID()
	r.machine.MigrateTo(mediaID)
	r.collector.RecordMigration(rule)

	if warn {
		r.logger.Warn("Migrating session without a corroborating signal",
			"from", old, "to", mediaID)
		// One re-check for late-arriving corroboration. Only signals that
		// are not self-fulfilling after the migration count.
		time.AfterFunc(r.cfg.MigrationDefer(), func() {
			switch {
			case r.registry.NavFlaggedWithin(r.cfg.NavFlagWindow()):
				r.logger.Info("Late corroboration for migration", "to", mediaID, "rule", RuleNavFlag)
			case r.registry.SecondaryID() == mediaID:
				r.logger.Info("Late corroboration for migration", "to", mediaID, "rule", RuleSecondaryID)
			default:
				r.logger.Warn("Migration still uncorroborated", "to", mediaID)
			}
		})
		return
	}
	r.logger.Info("Migrating session", "from", old, "to", mediaID, "rule", rule)
}
