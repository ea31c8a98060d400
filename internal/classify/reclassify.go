package classify

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/NeoRed-domo/qualys2human/internal/db"
)

// Status is a point-in-time snapshot of the reclassification state machine.
// Dirty is nil when unknown (process just started), true when the rule set
// changed since the last successful full run, false when assignments are
// known to match the current rules.
type Status struct {
	Running      bool   `json:"running"`
	Progress     int    `json:"progress"`
	TotalRules   int    `json:"total_rules"`
	RulesApplied int    `json:"rules_applied"`
	Classified   int64  `json:"classified"`
	Error        string `json:"error,omitempty"`
	Dirty        *bool  `json:"dirty"`
}

// Reclassifier owns the singleton bulk-reclassification state. It is held by
// the application context and injected where needed, so tests run isolated
// instances. At most one run executes at a time; a second trigger is rejected,
// never queued.
type Reclassifier struct {
	db  *db.DB
	log *logrus.Entry

	mu    sync.Mutex
	state Status
}

// NewReclassifier builds a reclassifier over the given store.
func NewReclassifier(database *db.DB, log *logrus.Entry) *Reclassifier {
	return &Reclassifier{db: database, log: log}
}

// Status returns a copy of the current state.
func (r *Reclassifier) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.state
	if r.state.Dirty != nil {
		dirty := *r.state.Dirty
		out.Dirty = &dirty
	}
	return out
}

// MarkDirty records that the rule set changed since the last successful run.
// Called by whoever mutates layers or rules.
func (r *Reclassifier) MarkDirty() {
	r.mu.Lock()
	defer r.mu.Unlock()
	dirty := true
	r.state.Dirty = &dirty
}

// Trigger starts an asynchronous full reclassification. If a run is already
// in flight the trigger is refused.
func (r *Reclassifier) Trigger() (started bool, message string) {
	if !r.begin() {
		return false, "reclassification already in progress"
	}
	go r.run()
	return true, "reclassification started"
}

// begin is the check-and-set guard: it resets progress state and claims the
// running flag, or reports that another run holds it.
func (r *Reclassifier) begin() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state.Running {
		return false
	}
	dirty := r.state.Dirty
	r.state = Status{Running: true, Dirty: dirty}
	return true
}

// run clears every layer assignment, then applies each rule as one bulk
// conditional update over still-unclassified findings, which yields the
// same first-match-wins outcome as per-row classification.
// Partial classification committed by completed rules stands on failure; the
// job is idempotent to re-run.
func (r *Reclassifier) run() {
	defer func() {
		r.mu.Lock()
		r.state.Running = false
		r.mu.Unlock()
	}()

	rules, err := r.db.ListAllRulesOrdered()
	if err != nil {
		r.fail(err)
		return
	}

	r.mu.Lock()
	r.state.TotalRules = len(rules)
	r.mu.Unlock()

	if len(rules) == 0 {
		r.mu.Lock()
		r.state.Progress = 100
		r.mu.Unlock()
		r.log.Info("reclassification finished: no rules configured")
		return
	}

	if err := r.db.ClearFindingLayers(); err != nil {
		r.fail(err)
		return
	}
	r.mu.Lock()
	r.state.Progress = 5
	r.mu.Unlock()

	for i, rule := range rules {
		affected, err := r.db.ApplyLayerRule(rule)
		if err != nil {
			r.fail(err)
			return
		}
		r.mu.Lock()
		r.state.Classified += affected
		r.state.RulesApplied = i + 1
		r.state.Progress = 5 + 95*(i+1)/len(rules)
		r.mu.Unlock()
	}

	// Downstream readers see new assignments only once the aggregate is fresh.
	if err := r.db.RefreshLatestFindings(); err != nil {
		r.fail(err)
		return
	}

	r.mu.Lock()
	r.state.Progress = 100
	clean := false
	r.state.Dirty = &clean
	classified := r.state.Classified
	applied := r.state.RulesApplied
	r.mu.Unlock()

	r.log.WithFields(logrus.Fields{
		"rules_applied": applied,
		"classified":    classified,
	}).Info("reclassification finished")
}

func (r *Reclassifier) fail(err error) {
	r.log.WithError(err).Error("reclassification failed")
	r.mu.Lock()
	r.state.Error = err.Error()
	r.mu.Unlock()
}
