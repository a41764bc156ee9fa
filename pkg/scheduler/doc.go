// Package scheduler is the cron-expression-driven task runner for the
// Migration and Cleanup Engines (spec.md §4.9). Each registered task gets
// one runnable future; a firing whose predecessor is still running is
// skipped and logged rather than queued, and a scheduler that falls behind
// (e.g. after a restart) never bursts through missed firings — it simply
// resumes at the next future match.
package scheduler
