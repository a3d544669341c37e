// Package registry owns the live set of cron entries per team.
//
// Each Schedule call replaces a team's entries with a new generation under a
// per-team lock. Generation numbers come from one process-wide counter, so a
// callback captured before a reschedule or cancel can always tell it is stale.
// Firings never run on the cron goroutine: they are enqueued into the task
// engine and re-check their generation before doing anything.
package registry
