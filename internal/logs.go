// Package internal holds helpers shared by the tests of actorcore packages.
package internal

import (
	"fmt"
	"sync"
	"time"

	"github.com/gokit/actorcore"
)

// TLog implements the actorcore.Logs interface, printing
// out basic type and value contents with log.
type TLog struct{}

// Emit prints type implement log event and type data, it implements
// actorcore.Logs Emit method.
func (TLog) Emit(l actorcore.Level, e actorcore.LogMessage) {
	fmt.Printf("[%s : %s : %T] %s\n", time.Now().Format(time.RFC3339), l, e, e.Message())
}

// Record is one emitted log line.
type Record struct {
	Level   actorcore.Level
	Message string
}

// RecordLog implements the actorcore.Logs interface, keeping every
// emitted message for later assertions.
type RecordLog struct {
	ml      sync.Mutex
	records []Record
}

// Emit implements actorcore.Logs Emit method.
func (r *RecordLog) Emit(l actorcore.Level, e actorcore.LogMessage) {
	r.ml.Lock()
	r.records = append(r.records, Record{Level: l, Message: e.Message()})
	r.ml.Unlock()
}

// Records returns a copy of all emitted records.
func (r *RecordLog) Records() []Record {
	r.ml.Lock()
	defer r.ml.Unlock()
	return append([]Record(nil), r.records...)
}

// Count returns the number of records emitted at giving level.
func (r *RecordLog) Count(l actorcore.Level) int {
	r.ml.Lock()
	defer r.ml.Unlock()

	var n int
	for _, rec := range r.records {
		if rec.Level == l {
			n++
		}
	}
	return n
}
