package sensor

import (
	"fmt"
	"time"

	"github.com/hedzr/go-ringbuf/v2/mpmc"
	"github.com/sirupsen/logrus"
)

// LogRecord is one coordinator log line kept in the backlog
type LogRecord struct {
	Time    time.Time
	Level   logrus.Level
	Message string
}

func (r LogRecord) String() string {
	return fmt.Sprintf("%s [%s] %s", r.Time.Format("15:04:05"), r.Level, r.Message)
}

// logBacklog keeps the newest log records; older ones are overwritten
type logBacklog struct {
	buffer      mpmc.RichOverlappedRingBuffer[LogRecord]
	overwritten uint64
}

func newLogBacklog(size uint32) *logBacklog {
	return &logBacklog{buffer: mpmc.NewOverlappedRingBuffer[LogRecord](size)}
}

func (b *logBacklog) add(rec LogRecord) error {
	overwrites, err := b.buffer.EnqueueM(rec)
	if err != nil {
		return fmt.Errorf("log backlog enqueue: %w", err)
	}
	b.overwritten += uint64(overwrites)
	return nil
}

func (b *logBacklog) drain() []LogRecord {
	var records []LogRecord
	for !b.buffer.IsEmpty() {
		rec, err := b.buffer.Dequeue()
		if err != nil {
			break
		}
		records = append(records, rec)
	}
	return records
}
