// Package compute defines the compute.request/compute.result payload
// schemas, a supplement beyond the distilled core: a minimal remote-task
// envelope the compute service (an external collaborator per §1) exchanges
// over the same typed-chunk transport as files and messages.
package compute

import (
	"github.com/google/uuid"

	"github.com/summit-p2p/summit/internal/cborcanon"
)

// TaskRecord is the compute.request payload: a task id, a named operation,
// and opaque argument bytes interpreted by the executor.
type TaskRecord struct {
	TaskID    uuid.UUID `cbor:"task_id"`
	Operation string    `cbor:"operation"`
	Args      []byte    `cbor:"args"`
}

// TaskResult is the compute.result payload.
type TaskResult struct {
	TaskID  uuid.UUID `cbor:"task_id"`
	OK      bool      `cbor:"ok"`
	Output  []byte    `cbor:"output,omitempty"`
	Problem string    `cbor:"problem,omitempty"`
}

// NewTaskRecord builds a task record with a fresh random task id.
func NewTaskRecord(operation string, args []byte) *TaskRecord {
	return &TaskRecord{TaskID: uuid.New(), Operation: operation, Args: args}
}

// Marshal encodes t to canonical CBOR.
func (t *TaskRecord) Marshal() ([]byte, error) { return cborcanon.Marshal(t) }

// Marshal encodes r to canonical CBOR.
func (r *TaskResult) Marshal() ([]byte, error) { return cborcanon.Marshal(r) }

// ParseTaskRecord decodes a compute.request payload.
func ParseTaskRecord(payload []byte) (*TaskRecord, error) {
	var t TaskRecord
	if err := cborcanon.Unmarshal(payload, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// ParseTaskResult decodes a compute.result payload.
func ParseTaskResult(payload []byte) (*TaskResult, error) {
	var r TaskResult
	if err := cborcanon.Unmarshal(payload, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// ValidateTaskRecord is the compute.request schema validator.
func ValidateTaskRecord(payload []byte) bool {
	t, err := ParseTaskRecord(payload)
	if err != nil {
		return false
	}
	return t.Operation != "" && t.TaskID != uuid.Nil
}

// ValidateTaskResult is the compute.result schema validator.
func ValidateTaskResult(payload []byte) bool {
	r, err := ParseTaskResult(payload)
	if err != nil {
		return false
	}
	return r.TaskID != uuid.Nil
}
