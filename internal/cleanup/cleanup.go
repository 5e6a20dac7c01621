// Package cleanup runs periodic maintenance: purging chat transcripts
// older than the retention window.
package cleanup

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultRetention is how long chat transcripts are kept.
const DefaultRetention = 30 * 24 * time.Hour

// TranscriptStore is the subset of the metadata store the purger needs.
type TranscriptStore interface {
	PurgeChatBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Config holds purger configuration.
type Config struct {
	Store     TranscriptStore
	Logger    *slog.Logger
	Interval  time.Duration // How often to run (default: 24h)
	Retention time.Duration // Transcript age cutoff (default: 30 days)
}

// Purger periodically deletes old chat transcripts.
type Purger struct {
	store     TranscriptStore
	logger    *slog.Logger
	interval  time.Duration
	retention time.Duration

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// New creates a Purger.
func New(cfg Config) *Purger {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	interval := cfg.Interval
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	retention := cfg.Retention
	if retention <= 0 {
		retention = DefaultRetention
	}

	return &Purger{
		store:     cfg.Store,
		logger:    logger,
		interval:  interval,
		retention: retention,
	}
}

// Start launches the purge loop. Safe to call once; subsequent calls are
// no-ops until Stop.
func (p *Purger) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})

	go p.loop(p.stopCh, p.doneCh)
	p.logger.Info("Transcript cleanup started",
		"interval", p.interval, "retention", p.retention)
}

// Stop halts the loop and waits for it to finish.
func (p *Purger) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	close(p.stopCh)
	doneCh := p.doneCh
	p.mu.Unlock()

	<-doneCh
}

func (p *Purger) loop(stopCh, doneCh chan struct{}) {
	defer close(doneCh)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			p.RunOnce(context.Background())
		}
	}
}

// RunOnce performs a single purge pass.
func (p *Purger) RunOnce(ctx context.Context) {
	cutoff := time.Now().Add(-p.retention)
	n, err := p.store.PurgeChatBefore(ctx, cutoff)
	if err != nil {
		p.logger.Error("Transcript purge failed", "error", err)
		return
	}
	if n > 0 {
		p.logger.Info("Purged old chat transcripts", "count", n, "cutoff", cutoff)
	}
}
