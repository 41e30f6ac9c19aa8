package main

import (
	"context"
	"sync"

	"github.com/sells-group/waste-pipeline/internal/model"
	"github.com/sells-group/waste-pipeline/internal/pipeline"
)

// fakeProcessor returns a fixed status and records the documents it saw.
type fakeProcessor struct {
	mu     sync.Mutex
	status model.Status
	seen   []string
}

func (f *fakeProcessor) Process(ctx context.Context, doc *model.Document, _ ...pipeline.ProcessOption) model.ProcessingResult {
	f.mu.Lock()
	f.seen = append(f.seen, doc.Filename)
	f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return model.ProcessingResult{
			Status:      model.StatusError,
			Reason:      "processing cancelled: " + err.Error(),
			FailureKind: model.FailureUnreadable,
		}
	}
	return model.ProcessingResult{
		Success:       f.status != model.StatusError,
		Status:        f.status,
		Confidence:    0.9,
		ModelPath:     "adaptive → verify",
		ProcessingLog: model.NewProcessingLog(nil).Append("processed %s", doc.Filename),
	}
}

func (f *fakeProcessor) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.seen...)
}
