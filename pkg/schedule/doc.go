// Package schedule re-runs a batch on a recurring schedule.
//
// This package includes:
//   - Schedule interface computing the next run instant
//   - Every() for fixed-interval schedules
//   - Cron() and ParseCron() for cron expression-based schedules
//   - Run() driving a function on a schedule until its context ends
//
// Most users should import the root package github.com/jdziat/simple-batch-runtime
// which re-exports these functions.
package schedule
