// Package task defines the unit of work exchanged between a front end and a
// worker process. A Task is a plain serializable record: the caller fills the
// identity and input fields, the worker fills the outcome fields, and the
// record travels across the process boundary as JSON in both directions.
package task
