// Package scheduler buckets tasks by timing policy and advances them one tick
// at a time.
//
// A Scheduler owns three collections:
//   - an immediate FIFO queue
//   - delayed entries (promoted once, when due)
//   - periodic entries (re-stamped at fire time, never removed)
//
// RunNext is the single tick primitive. It executes at most one queued task
// and then promotes due timers; a task promoted on a tick runs on a later one.
// Execution happens outside the scheduler lock, so Schedule never waits for a
// running task.
package scheduler
