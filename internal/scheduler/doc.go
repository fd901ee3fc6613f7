// Package scheduler triggers recurring jobs from schedule strings.
//
// Schedules are cron expressions (robfig/cron, optional seconds field and
// descriptors such as "@hourly") or fixed intervals ("55m", "02:30").
// A job that is still running when its next tick fires is skipped.
package scheduler
