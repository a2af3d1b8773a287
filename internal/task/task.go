package task

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status represents the current state of a task
type Status string

// Possible task status values
const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Kind identifies which worker a task is meant for
type Kind string

// Task kinds
const (
	KindGeneric       Kind = "generic"
	KindDownload      Kind = "download"
	KindTranscription Kind = "transcription"
	KindUpload        Kind = "upload"
)

// Common errors
var (
	ErrEmptyPayload = errors.New("task has no payload")
	ErrEmptyID      = errors.New("task id cannot be empty")
)

// Task is the record passed to a worker and returned from it.
//
// ID is assigned by the caller and must be unique among the tasks in flight
// on one executor; it is used for correlation only. Every other field is
// written by the worker and read by the caller.
//
// LocalPath ownership: whoever holds a task with a non-empty LocalPath owns
// that file and is responsible for removing it.
type Task struct {
	ID          string          `json:"id"`
	Kind        Kind            `json:"kind"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	SourcePath  string          `json:"source_path,omitempty"`
	Status      Status          `json:"status"`
	Result      bool            `json:"result"`
	LocalPath   string          `json:"local_path,omitempty"`
	FileSize    int64           `json:"file_size,omitempty"`
	StorageLink string          `json:"storage_link,omitempty"`
	Output      json.RawMessage `json:"output,omitempty"`
	Message     Message         `json:"message,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Option customizes a task built by New
type Option func(*Task)

// WithID overrides the generated identifier
func WithID(id string) Option {
	return func(t *Task) {
		t.ID = id
	}
}

// WithSource sets the input file of the task
func WithSource(path string) Option {
	return func(t *Task) {
		t.SourcePath = path
	}
}

// WithLocalFile hands a local file to the task, recording its size
func WithLocalFile(path string, size int64) Option {
	return func(t *Task) {
		t.LocalPath = path
		t.FileSize = size
	}
}

// WithPayload marshals v into the task payload. Marshalling errors panic,
// payloads are expected to be plain data.
func WithPayload(v any) Option {
	return func(t *Task) {
		data, err := json.Marshal(v)
		if err != nil {
			panic(fmt.Sprintf("task payload is not serializable: %v", err))
		}
		t.Payload = data
	}
}

// New creates a pending task of the given kind with a random identifier
func New(kind Kind, opts ...Option) *Task {
	t := &Task{
		ID:        uuid.NewString(),
		Kind:      kind,
		Status:    StatusPending,
		CreatedAt: time.Now().UTC(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Validate checks the fields a worker relies on
func (t *Task) Validate() error {
	if t.ID == "" {
		return ErrEmptyID
	}
	return nil
}

// Succeed marks the task as completed successfully
func (t *Task) Succeed() {
	t.Result = true
	t.Status = StatusCompleted
}

// Fail marks the task as failed with a user facing message
func (t *Task) Fail(msg Message) {
	t.Result = false
	t.Status = StatusFailed
	t.Message = msg
}

// Done reports whether a worker has produced an outcome for the task
func (t *Task) Done() bool {
	return t.Status == StatusCompleted || t.Status == StatusFailed
}

// DecodePayload unmarshals the task payload into v
func (t *Task) DecodePayload(v any) error {
	if len(t.Payload) == 0 {
		return ErrEmptyPayload
	}
	if err := json.Unmarshal(t.Payload, v); err != nil {
		return fmt.Errorf("failed to decode payload of task %s: %w", t.ID, err)
	}
	return nil
}

// SetOutput marshals v into the task output
func (t *Task) SetOutput(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode output of task %s: %w", t.ID, err)
	}
	t.Output = data
	return nil
}

// DecodeOutput unmarshals the task output into v
func (t *Task) DecodeOutput(v any) error {
	if len(t.Output) == 0 {
		return fmt.Errorf("task %s has no output", t.ID)
	}
	return json.Unmarshal(t.Output, v)
}

// Clone returns a deep copy of the task
func (t *Task) Clone() *Task {
	c := *t
	if t.Payload != nil {
		c.Payload = append(json.RawMessage(nil), t.Payload...)
	}
	if t.Output != nil {
		c.Output = append(json.RawMessage(nil), t.Output...)
	}
	c.Message = t.Message.Clone()
	return &c
}

// String implements fmt.Stringer for logging
func (t *Task) String() string {
	return fmt.Sprintf("task(%s kind=%s status=%s)", t.ID, t.Kind, t.Status)
}
