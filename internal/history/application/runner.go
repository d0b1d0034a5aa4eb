package application

import (
	"context"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Plan selects the jobs of one run. Nil jobs are skipped.
type Plan struct {
	Production   *ProductionJob
	Irradiance   IrradianceSource
	DailyHistory *DailyHistoryJob
	FineHistory  *FineHistoryJob
	Patches      []Patch
}

// Run executes the planned jobs in a fixed order: production, irradiance,
// daily history, fine history, patches. The first job error stops the run
// and is returned unmodified together with the partial summary.
func (s *Service) Run(ctx context.Context, plan Plan) (RunSummary, error) {
	summary := RunSummary{RunID: uuid.NewString(), Started: s.clock.Now()}
	logger := s.logger.WithField("run_id", summary.RunID)
	logger.Info("backfill run started")

	steps := []struct {
		name string
		run  func() JobReport
	}{
		{JobProduction, func() JobReport { return s.Production(ctx, *plan.Production) }},
		{JobIrradiance, func() JobReport { return s.Irradiance(ctx, plan.Irradiance) }},
		{JobDailyHistory, func() JobReport { return s.DailyHistory(ctx, *plan.DailyHistory) }},
		{JobFineHistory, func() JobReport { return s.FineHistory(ctx, *plan.FineHistory) }},
		{JobPatches, func() JobReport { return s.Patches(ctx, plan.Patches) }},
	}
	for _, step := range steps {
		if !plan.enabled(step.name) {
			continue
		}
		job := step.run()
		summary.Jobs = append(summary.Jobs, job)
		entry := logger.WithFields(logrus.Fields{
			"job":        job.Name,
			"windows":    len(job.Windows),
			"incomplete": len(job.Incomplete()),
			"issues":     job.IssueCount(),
			"records":    job.Records,
			"duration":   job.Finished.Sub(job.Started).String(),
		})
		if job.Err != nil {
			entry.WithError(job.Err).Error("job failed")
			summary.Finished = s.clock.Now()
			return summary, job.Err
		}
		entry.Info("job finished")
	}
	summary.Finished = s.clock.Now()
	logger.WithField("records", summary.Records()).Info("backfill run finished")
	return summary, nil
}

func (p Plan) enabled(job string) bool {
	switch job {
	case JobProduction:
		return p.Production != nil
	case JobIrradiance:
		return p.Irradiance != nil
	case JobDailyHistory:
		return p.DailyHistory != nil
	case JobFineHistory:
		return p.FineHistory != nil
	case JobPatches:
		return len(p.Patches) > 0
	default:
		return false
	}
}
