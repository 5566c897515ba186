package main

import (
	"context"
	"log/slog"

	"github.com/robfig/cron/v3"

	"github.com/procdash-labs/procdash-go/internal/service/retention"
)

// startRetentionSweeper schedules the neutralization sweep on the given cron
// expression and runs it until ctx is cancelled. An empty schedule disables
// the sweeper; manual sweeps through the cleanup endpoint still work.
func startRetentionSweeper(ctx context.Context, logger *slog.Logger, svc *retention.Service, policy retention.Policy, schedule string) (func(), error) {
	if schedule == "" {
		logger.Info("retention sweeper disabled")
		return func() {}, nil
	}

	runner := cron.New()
	_, err := runner.AddFunc(schedule, func() {
		stats, err := svc.NeutralizeDueRuns(ctx, policy.BatchSize, false)
		if err != nil {
			logger.Error("retention sweep failed", "error", err.Error())
			return
		}
		if stats.TotalFound == 0 {
			return
		}
		logger.Info("retention sweep finished",
			"total_found", stats.TotalFound,
			"neutralized", stats.Neutralized,
			"failed", stats.Failed,
		)
	})
	if err != nil {
		return nil, err
	}
	runner.Start()
	logger.Info("retention sweeper started", "schedule", schedule)

	go func() {
		<-ctx.Done()
		<-runner.Stop().Done()
	}()
	return func() { <-runner.Stop().Done() }, nil
}
