package events

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync/atomic"
)

// FileSink writes one JSON file per event into dir, named with a
// monotonically increasing sequence number so an outside observer can
// tail the directory in emission order, per spec.md §6's on-disk layout.
type FileSink struct {
	dir string
	seq uint64
}

// NewFileSink creates dir if needed and returns a FileSink writing into it.
func NewFileSink(dir string) (*FileSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("events: create observer dir %q: %w", dir, err)
	}
	return &FileSink{dir: dir}, nil
}

// Attach subscribes the sink to every event kind defined in this package.
func (s *FileSink) Attach(e *Emitter) {
	for _, typ := range []EventType{EventNewBlock, EventBlockReorg, EventUpgrade, EventNetworkError, EventSyncBlocks} {
		e.Subscribe(typ, s.write)
	}
}

func (s *FileSink) write(ev Event) {
	n := atomic.AddUint64(&s.seq, 1)
	name := fmt.Sprintf("%020d_%s.json", n, ev.Type)
	data, err := json.Marshal(ev)
	if err != nil {
		log.Printf("[events] marshal %s: %v", ev.Type, err)
		return
	}
	path := filepath.Join(s.dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		log.Printf("[events] write %s: %v", path, err)
	}
}
