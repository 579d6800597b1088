package service

import (
	"context"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/singleflight"

	"github.com/lumik/renloc/internal/config"
	"github.com/lumik/renloc/pkg/log"
)

// WatchService reruns the translation pipeline on a cron schedule, so a
// project picks up freshly added script lines without manual invocation.
type WatchService struct {
	cfg      config.Config
	cronExpr string
	cron     *cron.Cron
}

func NewWatchService(cfg config.Config, c *cron.Cron) WatchService {
	return WatchService{
		cfg:      cfg,
		cronExpr: cfg.Watch.CronExpr,
		cron:     c,
	}
}

var singleflightGroup singleflight.Group

// Schedule registers the periodic run. Overlapping triggers collapse into
// the run already in progress.
func (s WatchService) Schedule(ctx context.Context) error {
	log.Info("Watching project %s (%s)", s.cfg.Project.Dir, s.cronExpr)

	runFunc := func() {
		_, _, _ = singleflightGroup.Do("run", func() (any, error) {
			runner, err := NewRunner(s.cfg)
			if err != nil {
				log.Error("Failed to start run: %v", err)
				return nil, err
			}
			defer runner.Close()

			result, err := runner.Run(ctx)
			if err != nil {
				log.Error("Scheduled run failed: %v", err)
				return nil, err
			}
			log.Info("Scheduled run %s finished: %d merged, %d failed", result.RunID, result.Merged, result.Failed)
			return nil, nil
		})
	}
	_, err := s.cron.AddFunc(s.cronExpr, runFunc)
	return err
}
