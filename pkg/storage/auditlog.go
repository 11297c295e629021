package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/taskforge/dispatchd/pkg/types"
)

const deadLetterAuditLogFile = "dead-letter-queue.log"

// DeadLetterAuditLog appends one human-readable line per dead-letter
// transition to dead-letter-queue.log. It lives outside both Store
// implementations so the audit trail is produced the same way regardless
// of which persistence backend is active: BoltStore and FileStore both
// write task state into their own format, but neither owns this log.
type DeadLetterAuditLog struct {
	path string
}

// NewDeadLetterAuditLog returns an audit log rooted at dataDir, creating
// the directory if needed.
func NewDeadLetterAuditLog(dataDir string) (*DeadLetterAuditLog, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return &DeadLetterAuditLog{path: filepath.Join(dataDir, deadLetterAuditLogFile)}, nil
}

// Path returns the audit log file's location on disk.
func (a *DeadLetterAuditLog) Path() string { return a.path }

// Append writes one line describing task's dead-letter transition. A
// failure to write is logged by the caller; it never blocks the
// transition itself.
func (a *DeadLetterAuditLog) Append(task *types.Task) error {
	f, err := os.OpenFile(a.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	lastRetry := "never"
	if task.LastRetryAt != nil {
		lastRetry = task.LastRetryAt.Format(time.RFC3339)
	}
	line := fmt.Sprintf(
		"%s task_id=%s kind=%s payload=%q retry_count=%d created_at=%s last_retry_at=%s client_id=%s error=%q\n",
		time.Now().Format(time.RFC3339),
		task.ID, task.Kind, task.Payload, task.RetryCount,
		task.CreatedAt.Format(time.RFC3339), lastRetry, task.ClientID, task.ErrorMessage,
	)
	_, err = f.WriteString(line)
	return err
}
