package cron

import (
	"context"
	"sync"

	cronv3 "github.com/robfig/cron/v3"

	"github.com/disqualifier/mailtime/config"
	"github.com/disqualifier/mailtime/interfaces"
	"github.com/disqualifier/mailtime/internal/enum"
	"github.com/disqualifier/mailtime/internal/logger"
	"github.com/disqualifier/mailtime/internal/repository"
	"github.com/disqualifier/mailtime/internal/tracing"
)

const (
	// GroupMailtime is the lock group for cache maintenance jobs
	GroupMailtime = "mailtime"
)

// LOCK MANAGEMENT
var jobLocks = struct {
	sync.Mutex
	locks map[string]*sync.Mutex
}{
	locks: map[string]*sync.Mutex{
		GroupMailtime: new(sync.Mutex),
	},
}

type CronManager struct {
	cfg          *config.Config
	log          logger.Logger
	cron         *cronv3.Cron
	repositories *repository.Repositories
	syncService  interfaces.SyncService
	stopCh       chan struct{}
	jobIDs       map[string]cronv3.EntryID
}

func NewCronManager(cfg *config.Config, log logger.Logger, repositories *repository.Repositories, syncService interfaces.SyncService) *CronManager {
	return &CronManager{
		cfg:          cfg,
		log:          log,
		repositories: repositories,
		syncService:  syncService,
		stopCh:       make(chan struct{}),
		jobIDs:       make(map[string]cronv3.EntryID),
	}
}

// StartCron initializes and starts the cron scheduler
func (cm *CronManager) StartCron() {
	cm.log.Info("Starting cron manager")
	// Create a new cron with seconds field enabled and panic recovery
	cronOptions := []cronv3.Option{
		cronv3.WithSeconds(),
		cronv3.WithChain(
			cronv3.SkipIfStillRunning(cronv3.DefaultLogger),
			cronv3.Recover(cronv3.DefaultLogger),
		),
	}
	c := cronv3.New(cronOptions...)
	cm.registerJobs(c)
	c.Start()
	cm.cron = c
}

// Stop gracefully stops the cron manager
func (cm *CronManager) Stop() {
	if cm.cron != nil {
		cm.log.Info("Stopping cron manager")
		ctx := cm.cron.Stop()
		// Wait for jobs to finish
		<-ctx.Done()
	}
	close(cm.stopCh)
}

// registerJobs adds all cron jobs to the scheduler
func (cm *CronManager) registerJobs(c *cronv3.Cron) {
	if schedule := cm.cfg.SyncConfig.HeartbeatSchedule; schedule != "" {
		id, err := c.AddFunc(schedule, func() {
			defer tracing.RecoverAndLogToJaeger(cm.log)
			cm.heartbeat()
		})
		if err != nil {
			cm.log.Fatalf("Could not add heartbeat cron job: %v", err)
		}
		cm.jobIDs["heartbeat"] = id
		cm.log.Infof("Registered heartbeat job with schedule: %s", schedule)
	}

	if schedule := cm.cfg.CacheConfig.CompactSchedule; schedule != "" {
		id, err := c.AddFunc(schedule, func() {
			defer tracing.RecoverAndLogToJaeger(cm.log)
			jobLocks.locks[GroupMailtime].Lock()
			defer jobLocks.locks[GroupMailtime].Unlock()
			cm.compactCaches()
		})
		if err != nil {
			cm.log.Fatalf("Could not add cache compaction cron job: %v", err)
		}
		cm.jobIDs["cache_compaction"] = id
		cm.log.Infof("Registered cache compaction job with schedule: %s", schedule)
	}
}

// heartbeat logs a one-line engine summary so a quiet log still shows the
// scheduler and every account are alive.
func (cm *CronManager) heartbeat() {
	statuses := cm.syncService.Status()

	counts := make(map[enum.ConnectionStatus]int, len(statuses))
	for _, status := range statuses {
		counts[status.State.Status]++
	}

	cm.log.Infof("Engine heartbeat: %d accounts %v", len(statuses), counts)
}

// compactCaches prunes every account cache down to the per-folder limit.
func (cm *CronManager) compactCaches() {
	cm.log.Info("Running cache compaction")

	ctx := context.Background()

	span, ctx := tracing.StartTracerSpan(ctx, "CronManager.compactCaches")
	defer span.Finish()
	tracing.TagComponentCronJob(span)

	maxPerFolder := cm.cfg.CacheConfig.MaxPerFolder
	if maxPerFolder <= 0 {
		cm.log.Info("Cache compaction disabled, no per-folder limit configured")
		return
	}

	accountIDs, err := cm.repositories.CacheRepository.ListAccountIDs(ctx)
	if err != nil {
		tracing.TraceErr(span, err)
		cm.log.Errorf("Failed to list accounts for compaction: %v", err)
		return
	}

	total := 0
	for _, accountID := range accountIDs {
		removed, err := cm.repositories.CacheRepository.Compact(ctx, accountID, maxPerFolder)
		if err != nil {
			tracing.TraceErr(span, err)
			cm.log.Errorf("Failed to compact cache for account %s: %v", accountID, err)
			continue
		}
		total += removed
	}

	cm.log.Infof("Cache compaction complete: %d messages pruned across %d accounts", total, len(accountIDs))
}
