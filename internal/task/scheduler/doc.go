// Package scheduler provides a deterministic, virtual-time task executor.
//
// # Overview
//
// Executor implements the usual scheduled-executor contract (one-shot delayed
// work, fixed-rate and fixed-delay periodic work, cron recurrences,
// cancellation, orderly and forced shutdown, blocking result retrieval) but
// no goroutine or timer drives it. Time moves only when the test calls
// Advance or Tick, and every record that became due runs synchronously on the
// calling goroutine, in ascending scheduled order.
//
// # Recurrence
//
//   - Fixed rate re-arms at previous scheduled instant + period. A large
//     advance fires the record repeatedly to catch up.
//   - Fixed delay re-arms at the advance instant + delay, so it fires at most
//     once per Advance call.
//   - Cron re-arms at the next cron instant after the previous scheduled one
//     and catches up like fixed rate.
//
// A record is due when its scheduled instant is <= now.
//
// # Locking
//
// The due-queue lock is never held while work runs. Work may schedule new
// records, cancel handles (its own included) or call Execute. Work must not
// call Advance on the executor that runs it.
package scheduler
