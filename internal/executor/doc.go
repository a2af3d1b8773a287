// Package executor moves blocking work out of the caller into a dedicated
// worker. An Executor owns one worker, a bounded pair of channels (tasks in,
// results out) and a target function. Callers submit tasks with PutTask and
// pick up their own result among interleaved results from other callers with
// a Correlator.
//
// The worker is started by a Host. InProcessHost runs the dispatch loop on an
// isolated goroutine; SubprocessHost runs it in a child OS process and
// bridges the channel pair over the child's stdin and stdout as JSON lines.
package executor
