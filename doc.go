// Package ardent is the core of ardent-ms-call-retell, a recurring polling
// worker that drives outbound Retell voice calls from a shared Postgres
// backlog.
//
// A fleet of identical pods shares one backlog. Each pod independently
// derives its partition from the current fleet membership (fleet package),
// claims at most one owned task per cycle with a skip-locked read
// (backlog/postgres), hands it to the Retell gateway (gateway/retell), and
// records the outstanding call in a process-local correlation tracker
// (track) so the task is never dispatched twice while a call is in flight.
// Completion webhooks, which may be delayed or lost, resolve the tracker
// through the signal package; a periodic staleness sweep returns forgotten
// tasks to eligibility.
//
// There is no central scheduler and no distributed lock service: mutual
// exclusion across pods comes entirely from the store's locked claim, and
// delivery is at-least-once with best-effort dedup.
//
// This root package holds the shared configuration and sentinel errors;
// the poller package ties the components together on a fixed interval.
package ardent
