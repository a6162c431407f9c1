package scrape

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cuemby/burrow/pkg/events"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/metrics"
	"github.com/cuemby/burrow/pkg/tsdb"
	"github.com/cuemby/burrow/pkg/types"
)

// TargetSource produces the current scrape target set. Discovery implements
// this by deriving targets from live service endpoints.
type TargetSource interface {
	Targets() ([]*types.Target, error)
}

// Config holds scrape engine configuration
type Config struct {
	Interval   time.Duration // Default per-target scrape interval
	Timeout    time.Duration // Per-scrape timeout
	Refresh    time.Duration // How often the target set is re-derived
	DownAfter  int           // Consecutive failures before a target is marked down
	MaxBackoff time.Duration // Backoff cap for down targets
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.Interval <= 0 {
		out.Interval = 15 * time.Second
	}
	if out.Timeout <= 0 {
		out.Timeout = 10 * time.Second
	}
	if out.Refresh <= 0 {
		out.Refresh = 15 * time.Second
	}
	if out.DownAfter <= 0 {
		out.DownAfter = 3
	}
	if out.MaxBackoff <= 0 {
		out.MaxBackoff = 5 * time.Minute
	}
	return out
}

// TargetStatus is the observable scrape state of one target
type TargetStatus struct {
	Target              *types.Target
	Up                  bool
	LastScrape          time.Time
	LastError           string
	ConsecutiveFailures int
}

// Engine polls scrape targets and appends the parsed samples to the
// time-series store. Every target gets its own goroutine so a slow or dead
// target never delays the others; a target that keeps failing is marked
// down and retried with capped exponential backoff, its history left
// intact.
type Engine struct {
	source TargetSource
	ts     *tsdb.Store
	broker *events.Broker
	client *http.Client
	cfg    Config

	mu     sync.Mutex
	loops  map[string]*loop
	static []*types.Target

	stopCh chan struct{}
	doneCh chan struct{}
	wg     sync.WaitGroup
}

// loop is the per-target scrape state, owned by its goroutine except for
// status reads
type loop struct {
	target *types.Target
	cancel context.CancelFunc

	mu       sync.Mutex
	up       bool
	down     bool // true once the failure threshold is crossed
	lastErr  string
	lastTime time.Time
	failures int
}

// NewEngine creates a scrape engine over the given target source and store
func NewEngine(source TargetSource, ts *tsdb.Store, broker *events.Broker, cfg Config) *Engine {
	return &Engine{
		source: source,
		ts:     ts,
		broker: broker,
		cfg:    cfg.withDefaults(),
		client: &http.Client{},
		loops:  make(map[string]*loop),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// AddStaticTarget registers a target that is scraped regardless of what the
// source derives, e.g. node exporters or the control plane itself.
func (e *Engine) AddStaticTarget(t *types.Target) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.static = append(e.static, t)
}

// Start begins target refresh and scraping
func (e *Engine) Start() {
	go e.run()
}

// Stop stops all scrape loops and waits for them to exit
func (e *Engine) Stop() {
	close(e.stopCh)
	<-e.doneCh
}

func (e *Engine) run() {
	defer close(e.doneCh)

	e.Refresh()

	ticker := time.NewTicker(e.cfg.Refresh)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			e.Refresh()
		case <-e.stopCh:
			e.mu.Lock()
			for _, l := range e.loops {
				l.cancel()
			}
			e.mu.Unlock()
			e.wg.Wait()
			return
		}
	}
}

// Refresh re-derives the target set, starting loops for new targets and
// stopping loops whose target disappeared
func (e *Engine) Refresh() {
	derived, err := e.source.Targets()
	if err != nil {
		log.WithComponent("scrape").Error().Err(err).Msg("Failed to derive scrape targets")
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	want := make(map[string]*types.Target, len(derived)+len(e.static))
	for _, t := range e.static {
		want[t.ID] = t
	}
	for _, t := range derived {
		want[t.ID] = t
	}

	for id, l := range e.loops {
		if _, ok := want[id]; !ok {
			l.cancel()
			if l.isDown() {
				metrics.TargetsDown.Dec()
			}
			delete(e.loops, id)
		}
	}

	for id, t := range want {
		if _, ok := e.loops[id]; ok {
			continue
		}
		ctx, cancel := context.WithCancel(context.Background())
		l := &loop{target: t, cancel: cancel}
		e.loops[id] = l
		e.wg.Add(1)
		go e.runLoop(ctx, l)
	}
}

func (e *Engine) runLoop(ctx context.Context, l *loop) {
	defer e.wg.Done()

	interval := l.target.Interval
	if interval <= 0 {
		interval = e.cfg.Interval
	}

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		err := e.ScrapeOnce(ctx, l.target)
		e.record(l, err)

		timer.Reset(e.nextInterval(l, interval))
	}
}

// nextInterval returns the wait before the next scrape: the normal interval
// while the target is up, exponential backoff from it once the target is
// down
func (e *Engine) nextInterval(l *loop, interval time.Duration) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.failures < e.cfg.DownAfter {
		return interval
	}
	backoff := interval << uint(l.failures-e.cfg.DownAfter)
	if backoff > e.cfg.MaxBackoff || backoff <= 0 {
		backoff = e.cfg.MaxBackoff
	}
	return backoff
}

// ScrapeOnce performs a single scrape of the target and stores its samples
func (e *Engine) ScrapeOnce(ctx context.Context, target *types.Target) error {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.ScrapeDuration)

	ctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	url := "http://" + target.Addr + target.Path
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		metrics.ScrapesTotal.WithLabelValues("error").Inc()
		return err
	}

	resp, err := e.client.Do(req)
	if err != nil {
		metrics.ScrapesTotal.WithLabelValues("error").Inc()
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		metrics.ScrapesTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("scrape %s: unexpected status %d", url, resp.StatusCode)
	}

	samples, err := ParseExposition(resp.Body, target.Labels, time.Now())
	if err != nil {
		metrics.ScrapesTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("scrape %s: %w", url, err)
	}

	e.ts.AppendAll(samples)
	metrics.ScrapesTotal.WithLabelValues("success").Inc()
	metrics.StoredSamples.Set(float64(e.ts.Len()))
	return nil
}

// record updates a loop's status after a scrape attempt, handling the
// up/down edge
func (e *Engine) record(l *loop, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.lastTime = time.Now()

	if err == nil {
		if l.down {
			metrics.TargetsDown.Dec()
			log.WithComponent("scrape").Info().
				Str("target", l.target.ID).
				Msg("Target back up")
		}
		l.up = true
		l.down = false
		l.failures = 0
		l.lastErr = ""
		return
	}

	l.failures++
	l.lastErr = err.Error()
	if l.failures == e.cfg.DownAfter {
		l.up = false
		l.down = true
		metrics.TargetsDown.Inc()
		log.WithComponent("scrape").Warn().
			Str("target", l.target.ID).
			Str("error", l.lastErr).
			Msg("Target marked down")
		if e.broker != nil {
			e.broker.Publish(&events.Event{
				Type:    events.EventScrapeDown,
				Message: fmt.Sprintf("scrape target %s down", l.target.ID),
				Metadata: map[string]string{
					"target": l.target.ID,
					"addr":   l.target.Addr,
					"error":  l.lastErr,
				},
			})
		}
	}
}

func (l *loop) isDown() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.down
}

// Status returns the current scrape state of every target
func (e *Engine) Status() []*TargetStatus {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]*TargetStatus, 0, len(e.loops))
	for _, l := range e.loops {
		l.mu.Lock()
		out = append(out, &TargetStatus{
			Target:              l.target,
			Up:                  l.up,
			LastScrape:          l.lastTime,
			LastError:           l.lastErr,
			ConsecutiveFailures: l.failures,
		})
		l.mu.Unlock()
	}
	return out
}
