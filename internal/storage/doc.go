// Package storage distributes finished files across several quota limited
// remote storage accounts.
//
// A Backend wraps one account: it keeps the account connected with a fresh
// credential, uploads files (chunked above a size threshold), remembers what
// it uploaded and when, and deletes files once their retention has passed.
// A Balancer owns a list of backends ordered by free space, routes every
// upload to the backend with the most room (or to the one already holding a
// file of the same name) and periodically sweeps expired files.
//
// The balancer is meant to run inside an executor: Target builds an async
// executor target that uploads every task carrying a local file and runs the
// expiry sweep on the dispatch loop's idle tick.
package storage
