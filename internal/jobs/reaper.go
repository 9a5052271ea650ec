package jobs

import (
	"errors"
	"os"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/viddl/viddl/pkg/icron"
	"github.com/viddl/viddl/pkg/log"
)

// DefaultCleanupCron runs the sweep hourly, matching the retention window's
// granularity.
const DefaultCleanupCron = "@hourly"

// Reaper periodically deletes expired job records and their output files.
// Jobs still processing are left for the next sweep so the scheduler never
// races a deleted record mid-run.
type Reaper struct {
	store    Store
	cronExpr string
	cron     *cron.Cron
}

func NewReaper(store Store, cronExpr string) *Reaper {
	if cronExpr == "" {
		cronExpr = DefaultCleanupCron
	}
	return &Reaper{
		store:    store,
		cronExpr: cronExpr,
		cron:     cron.New(),
	}
}

func (r *Reaper) Start() error {
	if _, err := r.cron.AddFunc(r.cronExpr, func() {
		r.RunOnce(time.Now())
	}); err != nil {
		return err
	}
	r.cron.Start()
	log.Info("Cleanup sweep scheduled: %s", r.cronExpr)
	return nil
}

func (r *Reaper) Stop() {
	ctx := r.cron.Stop()
	<-ctx.Done()
}

// NextSweep reports when the next sweep will fire.
func (r *Reaper) NextSweep(now time.Time) (time.Time, error) {
	info, err := icron.GetTriggerInfo(r.cronExpr, now)
	if err != nil {
		return time.Time{}, err
	}
	return info.Next, nil
}

// RunOnce sweeps every record expired as of now. File removal is best
// effort: a missing output file is logged and does not block record
// deletion.
func (r *Reaper) RunOnce(now time.Time) {
	expired, err := r.store.ListExpired(now)
	if err != nil {
		log.Error("Cleanup sweep failed to list expired jobs: %v", err)
		return
	}

	for _, job := range expired {
		if job.Status == StatusProcessing {
			log.Warn("Expired job %s is still processing, deferring cleanup", job.ID)
			continue
		}
		if job.OutputPath != "" {
			if err := os.Remove(job.OutputPath); err != nil && !os.IsNotExist(err) {
				log.Warn("Failed to remove output for expired job %s: %v", job.ID, err)
			}
		}
		if err := r.store.Delete(job.ID); err != nil && !errors.Is(err, ErrNotFound) {
			log.Error("Failed to delete expired job %s: %v", job.ID, err)
			continue
		}
		log.Info("Expired job %s cleaned up", job.ID)
	}
}
