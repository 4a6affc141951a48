// Package audit keeps the append-only, durable trail of every
// state-changing event, one pipe-delimited record per line.
package audit

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
)

// EventType tags one audit record. The set is closed.
type EventType string

const (
	EventOrderNew       EventType = "ORDER_NEW"
	EventOrderAck       EventType = "ORDER_ACK"
	EventOrderFilled    EventType = "ORDER_FILLED"
	EventOrderPartial   EventType = "ORDER_PARTIAL"
	EventOrderRejected  EventType = "ORDER_REJECTED"
	EventOrderCanceled  EventType = "ORDER_CANCELED"
	EventCancelRejected EventType = "CANCEL_REJECTED"
	EventOrderReplaced  EventType = "ORDER_REPLACED"
	EventReplaceReject  EventType = "REPLACE_REJECTED"
	EventSysStart       EventType = "SYS_START"
	EventSysStop        EventType = "SYS_STOP"
	EventFixLogon       EventType = "FIX_LOGON"
	EventFixLogout      EventType = "FIX_LOGOUT"
)

// Log appends timestamped records to a single file, flushing after every
// write so a returned write survives process kill. All writes share one
// lock; record order is the store's mutation order.
type Log struct {
	mu   sync.Mutex
	file *os.File
	path string
}

// Open opens (or creates) the audit file in append mode.
func Open(path string) (*Log, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrap(err, "create audit dir")
		}
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, errors.Wrap(err, "open audit log")
	}
	return &Log{file: file, path: path}, nil
}

// Event writes one order-scoped record.
func (l *Log) Event(event EventType, clOrdID, details string) {
	l.write(fmt.Sprintf("%s|%s|%s|%s\n", timestamp(), event, clOrdID, details))
}

// System writes one system-scoped record.
func (l *Log) System(event, details string) {
	l.write(fmt.Sprintf("%s|SYSTEM|%s|%s\n", timestamp(), event, details))
}

func (l *Log) write(line string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return
	}
	if _, err := l.file.WriteString(line); err != nil {
		logs.Errorf("audit write failed: %v", err)
		return
	}
	if err := l.file.Sync(); err != nil {
		logs.Errorf("audit sync failed: %v", err)
	}
}

// Close releases the file. Further writes are dropped.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// Path returns the backing file path.
func (l *Log) Path() string {
	return l.path
}

func timestamp() string {
	return time.Now().UTC().Format("2006-01-02T15:04:05.000Z")
}
