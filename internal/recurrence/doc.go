// Package recurrence turns human-entered standup schedules ("Monday",
// "9:00 AM", "America/New_York") into robfig/cron schedules that are
// evaluated in the team's timezone, never in the process's local zone.
//
// Wall-clock times that do not exist on a given day (DST spring-forward gap)
// follow robfig/cron semantics and are skipped for that day.
package recurrence
