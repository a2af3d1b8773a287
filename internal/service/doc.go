// Package service contains the application-level media operations. It owns
// no workers itself: each operation submits tasks to the executor of a worker
// role, obtained from the shared executor registry, and correlates the
// results back to the caller.
//
// Key components:
//
// 1. Roles:
//   - A Role names a worker (downloader, transcriber, storage) and knows how
//     to build its executor target
//   - Executors are created, configured and started on first use, so a role
//     that is never called never spawns a worker
//
// 2. Operations:
//   - Download runs one download and routes results over the transfer limit
//     through storage
//   - Transcribe and Store submit batches and return the results in input
//     order
//
// 3. Error Handling:
//   - Expected conditions are sentinel errors (ErrEmptyBatch, ErrNilTask)
//   - Executor and submission failures are wrapped in MediaServiceError
//   - A task whose result does not arrive in time is returned as failed,
//     not as an error
package service
