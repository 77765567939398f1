package analytics

import (
	"context"
	"log"
	"time"
)

// Recorder adapts RedisSink to the dispatcher's fire-and-forget analytics
// interface. Errors are logged and swallowed.
type Recorder struct {
	sink  *RedisSink
	clock func() time.Time
}

func NewRecorder(sink *RedisSink) *Recorder {
	return &Recorder{sink: sink, clock: time.Now}
}

func (r *Recorder) Record(ctx context.Context, kind, outcome string) {
	if err := r.sink.Write(ctx, kind, outcome, r.clock().UTC()); err != nil {
		log.Printf("analytics: write failed: %v", err)
	}
}
