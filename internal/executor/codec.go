package executor

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/phrazzld/offload/internal/task"
)

// maxFrameSize bounds a single encoded task
const maxFrameSize = 16 << 20

// Encoder writes tasks as newline delimited JSON. It is safe for concurrent use.
type Encoder struct {
	mu sync.Mutex
	w  *bufio.Writer
}

// NewEncoder returns an Encoder writing to w
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: bufio.NewWriter(w)}
}

// Encode writes one task and flushes it
func (e *Encoder) Encode(t *task.Task) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("failed to encode task %s: %w", t.ID, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, err := e.w.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write task %s: %w", t.ID, err)
	}
	return e.w.Flush()
}

// Decoder reads tasks written by an Encoder
type Decoder struct {
	s *bufio.Scanner
}

// NewDecoder returns a Decoder reading from r
func NewDecoder(r io.Reader) *Decoder {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64*1024), maxFrameSize)
	return &Decoder{s: s}
}

// Decode reads the next task. It returns io.EOF once the stream is exhausted.
func (d *Decoder) Decode() (*task.Task, error) {
	for d.s.Scan() {
		line := d.s.Bytes()
		if len(line) == 0 {
			continue
		}
		var t task.Task
		if err := json.Unmarshal(line, &t); err != nil {
			return nil, fmt.Errorf("failed to decode task frame: %w", err)
		}
		return &t, nil
	}
	if err := d.s.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}
