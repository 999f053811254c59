package engine

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"hazardguard/internal/config"
	"hazardguard/internal/model"
)

// Deduplicator is the lineage table. Lookups go through the revision link
// first and the fingerprint second, so a report whose magnitude was revised
// across a bucket boundary stays on its lineage.
type Deduplicator struct {
	mu      sync.Mutex
	fp      fingerprinter
	ttl     time.Duration
	clock   clockwork.Clock
	byID    map[string]*model.Lineage
	byKey   map[string]string   // fingerprint or revision key -> lineage id
	keysOf  map[string][]string // lineage id -> keys pointing at it
	locks   stripedLocks
	expired []string
}

func NewDeduplicator(cfg config.DedupConfig, clock clockwork.Clock) *Deduplicator {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Deduplicator{
		fp:     newFingerprinter(cfg),
		ttl:    cfg.LineageTTL,
		clock:  clock,
		byID:   make(map[string]*model.Lineage),
		byKey:  make(map[string]string),
		keysOf: make(map[string][]string),
	}
}

func (d *Deduplicator) UpdateConfig(cfg config.DedupConfig) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fp = newFingerprinter(cfg)
	d.ttl = cfg.LineageTTL
}

func (d *Deduplicator) setClock(c clockwork.Clock) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.clock = c
}

func (d *Deduplicator) Fingerprint(ev model.Event) string {
	d.mu.Lock()
	fp := d.fp
	d.mu.Unlock()
	return fp.Fingerprint(ev)
}

// Lock serializes classify, decide and mark for one event. Reports sharing
// an upstream event id share a stripe even if their fingerprints differ.
// Callers must release it with the returned func.
func (d *Deduplicator) Lock(ev model.Event) func() {
	d.mu.Lock()
	fp := d.fp
	d.mu.Unlock()
	key := revisionKey(fp.scope(ev), ev)
	if key == "" {
		key = fp.Fingerprint(ev)
	}
	return d.locks.Lock(key)
}

// Classify matches ev to its lineage and folds it in. The returned lineage
// is a copy taken after the update. A non-nil error is an
// *model.InvariantViolation; the lineage has already been reset and the
// event classified as NEW.
func (d *Deduplicator) Classify(ev model.Event) (model.Lineage, model.Classification, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := d.clock.Now().UTC()
	scope := d.fp.scope(ev)
	fingerprint := d.fp.Fingerprint(ev)
	revKey := revisionKey(scope, ev)

	l := d.lookup(revKey, fingerprint, ev.EventID)
	if l != nil && d.ttl > 0 && now.Sub(l.LastSeenAt) > d.ttl {
		l.State = model.StateExpired
		d.expired = append(d.expired, l.ID)
		d.remove(l.ID)
		l = nil
	}

	var violation error
	if l != nil {
		if err := checkLineage(l); err != nil {
			violation = err
			d.expired = append(d.expired, l.ID)
			d.remove(l.ID)
			l = nil
		}
	}

	if l == nil {
		l = &model.Lineage{
			ID:                  uuid.NewString(),
			Fingerprint:         fingerprint,
			SourceScope:         scope,
			EventID:             ev.EventID,
			FirstSeenAt:         now,
			LastSeenAt:          now,
			MaxReportNumberSeen: ev.Report(),
			LastKnownFinal:      ev.IsFinal,
			ReportCount:         1,
			State:               model.StateNew,
			Determination:       ev.Determination,
		}
		switch {
		case ev.IsCancel:
			l.State = model.StateCancelled
		case ev.IsFinal:
			l.State = model.StateFinalized
		}
		d.byID[l.ID] = l
		d.link(l.ID, fingerprint)
		d.link(l.ID, revKey)
		return *l, model.ClassNew, violation
	}

	class := classify(l, ev)
	if ev.Report() > l.MaxReportNumberSeen {
		l.MaxReportNumberSeen = ev.Report()
	}
	if ev.IsFinal {
		l.LastKnownFinal = true
	}
	if ev.Determination > l.Determination {
		l.Determination = ev.Determination
	}
	if l.EventID == "" {
		l.EventID = ev.EventID
	}
	l.ReportCount++
	l.LastSeenAt = now
	switch {
	case ev.IsCancel:
		l.State = model.StateCancelled
	case l.State == model.StateCancelled:
	case l.LastKnownFinal:
		l.State = model.StateFinalized
	case class != model.ClassRepeat:
		l.State = model.StateUpdated
	}
	d.link(l.ID, fingerprint)
	d.link(l.ID, revKey)
	return *l, class, nil
}

func classify(l *model.Lineage, ev model.Event) model.Classification {
	switch {
	case ev.IsCancel && l.State != model.StateCancelled:
		return model.ClassUpgrade
	case ev.Determination > l.Determination:
		return model.ClassUpgrade
	case ev.Report() > l.MaxReportNumberSeen:
		return model.ClassUpdate
	case ev.IsFinal && !l.LastKnownFinal:
		return model.ClassUpdate
	}
	return model.ClassRepeat
}

func checkLineage(l *model.Lineage) error {
	violation := func(format string, args ...any) error {
		return &model.InvariantViolation{LineageID: l.ID, Reason: fmt.Sprintf(format, args...)}
	}
	switch {
	case l.MaxReportNumberSeen < 1:
		return violation("max report number %d below 1", l.MaxReportNumberSeen)
	case l.LastPushedReportNumber != nil && *l.LastPushedReportNumber > l.MaxReportNumberSeen:
		return violation("last pushed report %d beyond max seen %d", *l.LastPushedReportNumber, l.MaxReportNumberSeen)
	case l.ReportCount < 1:
		return violation("report count %d below 1", l.ReportCount)
	case l.State == model.StateFinalized && !l.LastKnownFinal:
		return violation("finalized without a final report")
	case l.LastSeenAt.Before(l.FirstSeenAt):
		return violation("last seen before first seen")
	}
	return nil
}

// MarkPushed records that report n of a lineage was pushed. The recorded
// number never moves backwards.
func (d *Deduplicator) MarkPushed(id string, n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	l, ok := d.byID[id]
	if !ok {
		return
	}
	if l.LastPushedReportNumber == nil || n > *l.LastPushedReportNumber {
		l.LastPushedReportNumber = model.Int(n)
	}
}

func (d *Deduplicator) Get(id string) (model.Lineage, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	l, ok := d.byID[id]
	if !ok {
		return model.Lineage{}, false
	}
	return copyLineage(l), true
}

func (d *Deduplicator) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.byID)
}

// Sweep evicts lineages idle for longer than the TTL and returns the ids
// removed since the previous sweep, including those expired during lookup.
func (d *Deduplicator) Sweep() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := d.clock.Now().UTC()
	removed := d.expired
	d.expired = nil
	if d.ttl <= 0 {
		return removed
	}
	for id, l := range d.byID {
		if now.Sub(l.LastSeenAt) > d.ttl {
			l.State = model.StateExpired
			d.remove(id)
			removed = append(removed, id)
		}
	}
	return removed
}

// Snapshot copies every live lineage for checkpointing.
func (d *Deduplicator) Snapshot() []model.Lineage {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]model.Lineage, 0, len(d.byID))
	for _, l := range d.byID {
		out = append(out, copyLineage(l))
	}
	return out
}

// Restore loads checkpointed lineages. Lineages that fail the invariant
// check or have already expired are skipped.
func (d *Deduplicator) Restore(lineages []model.Lineage) (restored int, skipped []error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := d.clock.Now().UTC()
	for i := range lineages {
		l := copyLineage(&lineages[i])
		if err := checkLineage(&l); err != nil {
			skipped = append(skipped, err)
			continue
		}
		if l.State == model.StateExpired || (d.ttl > 0 && now.Sub(l.LastSeenAt) > d.ttl) {
			continue
		}
		d.remove(l.ID)
		d.byID[l.ID] = &l
		d.link(l.ID, l.Fingerprint)
		if l.EventID != "" {
			d.link(l.ID, l.SourceScope+"|"+domainOf(l.Fingerprint)+"|"+l.EventID)
		}
		restored++
	}
	return restored, skipped
}

func (d *Deduplicator) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.byID = make(map[string]*model.Lineage)
	d.byKey = make(map[string]string)
	d.keysOf = make(map[string][]string)
	d.expired = nil
}

// lookup prefers the revision link. A fingerprint match is rejected when
// both sides carry different upstream ids from the same scope, since the
// source itself says they are different events. Global scope merges
// across sources whose ids never agree, so the check is skipped there.
func (d *Deduplicator) lookup(revKey, fingerprint, eventID string) *model.Lineage {
	if revKey != "" {
		if id, ok := d.byKey[revKey]; ok {
			return d.byID[id]
		}
	}
	id, ok := d.byKey[fingerprint]
	if !ok {
		return nil
	}
	l := d.byID[id]
	if l != nil && !d.fp.global && eventID != "" && l.EventID != "" && l.EventID != eventID {
		return nil
	}
	return l
}

func (d *Deduplicator) link(id, key string) {
	if key == "" {
		return
	}
	if cur, ok := d.byKey[key]; ok && cur == id {
		return
	}
	d.byKey[key] = id
	d.keysOf[id] = append(d.keysOf[id], key)
}

func (d *Deduplicator) remove(id string) {
	for _, key := range d.keysOf[id] {
		if d.byKey[key] == id {
			delete(d.byKey, key)
		}
	}
	delete(d.keysOf, id)
	delete(d.byID, id)
}

func copyLineage(l *model.Lineage) model.Lineage {
	out := *l
	if l.LastPushedReportNumber != nil {
		out.LastPushedReportNumber = model.Int(*l.LastPushedReportNumber)
	}
	return out
}

// domainOf reads the domain prefix of a fingerprint ("eq" is earthquake).
func domainOf(fingerprint string) string {
	for i := 0; i < len(fingerprint); i++ {
		if fingerprint[i] == '|' {
			prefix := fingerprint[:i]
			if prefix == "eq" {
				return string(model.DomainEarthquake)
			}
			return prefix
		}
	}
	return ""
}
