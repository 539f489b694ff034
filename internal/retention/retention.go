// Package retention prunes poll history on a cron schedule so the SQLite
// databases stay bounded.
package retention

import (
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/depsdash/depsdash/internal/logging"
	"github.com/depsdash/depsdash/internal/store"
)

// Config holds retention settings.
type Config struct {
	Enabled  bool   `yaml:"enabled"`
	Schedule string `yaml:"schedule"` // cron expression
	MaxDays  int    `yaml:"max_days"`
}

// Pruner deletes history rows older than the retention window.
type Pruner struct {
	store   *store.Store
	config  *Config
	cron    *cron.Cron
	logger  *slog.Logger
	mu      sync.Mutex
	running bool
	entryID cron.EntryID
}

// NewPruner creates a pruner over the registry store.
func NewPruner(s *store.Store, config *Config) *Pruner {
	return &Pruner{
		store:  s,
		config: config,
		cron:   cron.New(),
		logger: logging.WithComponent("retention"),
	}
}

// Start schedules pruning. Disabled configs make Start a no-op.
func (p *Pruner) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}
	if !p.config.Enabled {
		p.logger.Info("History retention disabled")
		return nil
	}

	entryID, err := p.cron.AddFunc(p.config.Schedule, func() {
		if err := p.RunOnce(); err != nil {
			p.logger.Error("History pruning failed", slog.Any("error", err))
		}
	})
	if err != nil {
		return err
	}
	p.entryID = entryID

	p.cron.Start()
	p.running = true
	p.logger.Info("History retention scheduled",
		slog.String("schedule", p.config.Schedule),
		slog.Int("max_days", p.config.MaxDays),
	)
	return nil
}

// Stop halts the schedule. In-progress pruning completes.
func (p *Pruner) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		return
	}
	ctx := p.cron.Stop()
	<-ctx.Done()
	p.running = false
	p.logger.Info("History retention stopped")
}

// RunOnce prunes everything older than the retention window right now.
func (p *Pruner) RunOnce() error {
	cutoff := time.Now().AddDate(0, 0, -p.config.MaxDays)
	deleted, err := p.store.PruneHistoryBefore(cutoff)
	if err != nil {
		return err
	}
	if deleted > 0 {
		p.logger.Info("History pruned",
			slog.Int64("rows", deleted),
			slog.Time("cutoff", cutoff),
		)
	}
	return nil
}
