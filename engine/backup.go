package engine

import (
	"fmt"
	"os"
	"time"
)

// EnableBackup turns on the optional sidecar backup writer: every
// Remove tombstoning a live line first appends that line, prefixed
// with a timestamp and the user tag "system", to the `.nosql-backup`
// file.
func (e *DocumentEngine) EnableBackup() {
	e.backupEnabled = true
}

func (e *DocumentEngine) writeBackup(user string, line []byte) {
	if !e.backupEnabled {
		return
	}
	f, err := os.OpenFile(e.backupPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		e.logf("engine: backup write failed: %v", err)
		return
	}
	defer f.Close()

	if len(user) > 20 {
		user = user[:20]
	}
	stamp := time.Now().Format("2006-01-02 15:04")
	entry := fmt.Sprintf("%s | %-20s | %s\n", stamp, user, line)
	if _, err := f.WriteString(entry); err != nil {
		e.logf("engine: backup write failed: %v", err)
	}
}
