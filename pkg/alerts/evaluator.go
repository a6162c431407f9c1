package alerts

import (
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/burrow/pkg/events"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/metrics"
	"github.com/cuemby/burrow/pkg/storage"
	"github.com/cuemby/burrow/pkg/tsdb"
	"github.com/cuemby/burrow/pkg/types"
)

// Evaluator runs alert rules against the time-series store on a fixed
// interval, independent of scrape intervals, and drives the per-instance
// state machine inactive -> pending -> firing -> resolved -> inactive.
type Evaluator struct {
	store    storage.Store
	ts       *tsdb.Store
	broker   *events.Broker
	interval time.Duration
	window   time.Duration // Max sample age considered current

	mu        sync.Mutex
	instances map[string]map[string]*types.Alert // rule name -> labels key
	lastEval  map[string]time.Time               // rule name -> last evaluation
	ruleSeen  map[string]time.Time               // rule name -> UpdatedAt at last parse report
	stopCh    chan struct{}
}

// Config holds evaluator settings
type Config struct {
	Interval time.Duration // Default evaluation interval
	Window   time.Duration // Staleness bound for "latest" samples
}

// NewEvaluator creates a new alert evaluator
func NewEvaluator(store storage.Store, ts *tsdb.Store, broker *events.Broker, cfg Config) *Evaluator {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.Window <= 0 {
		cfg.Window = 5 * time.Minute
	}
	return &Evaluator{
		store:     store,
		ts:        ts,
		broker:    broker,
		interval:  cfg.Interval,
		window:    cfg.Window,
		instances: make(map[string]map[string]*types.Alert),
		lastEval:  make(map[string]time.Time),
		ruleSeen:  make(map[string]time.Time),
		stopCh:    make(chan struct{}),
	}
}

// Start begins the evaluation loop
func (e *Evaluator) Start() {
	go e.run()
}

// Stop stops the evaluator
func (e *Evaluator) Stop() {
	close(e.stopCh)
}

func (e *Evaluator) run() {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			e.EvaluateOnce(time.Now())
		case <-e.stopCh:
			return
		}
	}
}

// EvaluateOnce runs one evaluation tick at the given time. Exported so
// tests can drive ticks deterministically.
func (e *Evaluator) EvaluateOnce(now time.Time) {
	rules, err := e.store.ListAlertRules()
	if err != nil {
		log.WithComponent("alerts").Error().Err(err).Msg("failed to list alert rules")
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	live := make(map[string]bool, len(rules))
	for _, rule := range rules {
		live[rule.Name] = true
		e.evaluateRuleLocked(rule, now)
	}

	// Drop state for deleted rules
	for name := range e.instances {
		if !live[name] {
			delete(e.instances, name)
			delete(e.lastEval, name)
			delete(e.ruleSeen, name)
		}
	}

	firing := 0
	for _, byRule := range e.instances {
		for _, inst := range byRule {
			if inst.State == types.AlertStateFiring {
				firing++
			}
		}
	}
	metrics.AlertsFiring.Set(float64(firing))
}

func (e *Evaluator) evaluateRuleLocked(rule *types.AlertRule, now time.Time) {
	interval := rule.Interval
	if interval <= 0 {
		interval = e.interval
	}
	if last, ok := e.lastEval[rule.Name]; ok && now.Sub(last) < interval {
		return
	}
	e.lastEval[rule.Name] = now

	logger := log.WithComponent("alerts")

	expr, err := ParseExpr(rule.Expr)
	if err != nil {
		// Report a malformed query once per rule change; instances stay
		// inactive until the rule is fixed.
		if seen, ok := e.ruleSeen[rule.Name]; !ok || !seen.Equal(rule.UpdatedAt) {
			logger.Error().Err(err).Str("rule", rule.Name).Msg("alert rule evaluation error")
			e.ruleSeen[rule.Name] = rule.UpdatedAt
		}
		delete(e.instances, rule.Name)
		return
	}
	e.ruleSeen[rule.Name] = rule.UpdatedAt

	samples := e.ts.LatestPerSeries(expr.Metric, expr.Selector, now, e.window)

	byRule := e.instances[rule.Name]
	if byRule == nil {
		byRule = make(map[string]*types.Alert)
		e.instances[rule.Name] = byRule
	}

	holding := make(map[string]types.Sample, len(samples))
	for _, sample := range samples {
		if expr.Holds(sample.Value) {
			holding[types.LabelsKey(sample.Labels)] = sample
		}
	}

	// Advance instances whose condition holds
	for key, sample := range holding {
		inst, ok := byRule[key]
		if !ok {
			inst = &types.Alert{
				RuleName: rule.Name,
				Labels:   mergeLabels(sample.Labels, rule.Labels),
				State:    types.AlertStateInactive,
			}
			byRule[key] = inst
		}
		inst.Value = sample.Value

		switch inst.State {
		case types.AlertStateInactive, types.AlertStateResolved:
			inst.State = types.AlertStatePending
			inst.ActiveAt = now
		}
		// Fire at the tick that completes the for-duration, not before
		if inst.State == types.AlertStatePending && now.Sub(inst.ActiveAt) >= rule.For {
			inst.State = types.AlertStateFiring
			inst.FiredAt = now
			metrics.AlertTransitionsTotal.WithLabelValues("firing").Inc()
			logger.Warn().
				Str("rule", rule.Name).
				Str("labels", key).
				Float64("value", inst.Value).
				Msg("alert firing")
			e.notify(events.EventAlertFiring, rule, inst)
		}
	}

	// Advance instances whose condition no longer holds
	for key, inst := range byRule {
		if _, ok := holding[key]; ok {
			continue
		}
		switch inst.State {
		case types.AlertStatePending:
			inst.State = types.AlertStateInactive
			inst.ActiveAt = time.Time{}
		case types.AlertStateFiring:
			// One-tick transitional state so a resolution notification is
			// emitted before returning to inactive
			inst.State = types.AlertStateResolved
			metrics.AlertTransitionsTotal.WithLabelValues("resolved").Inc()
			logger.Info().
				Str("rule", rule.Name).
				Str("labels", key).
				Msg("alert resolved")
			e.notify(events.EventAlertResolved, rule, inst)
		case types.AlertStateResolved:
			inst.State = types.AlertStateInactive
			inst.ActiveAt = time.Time{}
		}
	}
}

func (e *Evaluator) notify(t events.EventType, rule *types.AlertRule, inst *types.Alert) {
	if e.broker == nil {
		return
	}
	e.broker.Publish(&events.Event{
		Type:    t,
		Message: fmt.Sprintf("rule %s: %s", rule.Name, rule.Expr),
		Metadata: map[string]string{
			"rule":  rule.Name,
			"state": string(inst.State),
			"value": fmt.Sprintf("%g", inst.Value),
		},
	})
}

// Alerts returns a snapshot of all non-inactive alert instances
func (e *Evaluator) Alerts() []*types.Alert {
	e.mu.Lock()
	defer e.mu.Unlock()

	var out []*types.Alert
	for _, byRule := range e.instances {
		for _, inst := range byRule {
			if inst.State == types.AlertStateInactive {
				continue
			}
			copied := *inst
			out = append(out, &copied)
		}
	}
	return out
}

// State returns the current state of one (rule, label-set) instance,
// defaulting to inactive when no instance exists.
func (e *Evaluator) State(ruleName string, labels map[string]string) types.AlertState {
	e.mu.Lock()
	defer e.mu.Unlock()

	if inst, ok := e.instances[ruleName][types.LabelsKey(labels)]; ok {
		return inst.State
	}
	return types.AlertStateInactive
}

func mergeLabels(sample, rule map[string]string) map[string]string {
	out := make(map[string]string, len(sample)+len(rule))
	for k, v := range sample {
		out[k] = v
	}
	for k, v := range rule {
		out[k] = v
	}
	return out
}
