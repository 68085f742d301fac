package worker

import (
	"bufio"
	"context"
	"encoding/json"
	"log"
	"os"
	"strings"
	"time"

	"github.com/yourorg/policy-scan-worker/internal/model"
)

// ProgressSink receives job progress; *db.Store satisfies it.
type ProgressSink interface {
	UpdateProgress(ctx context.Context, id string, pct int, msg string) error
}

// Job-level percentages. The scanner's own progress is squeezed into the
// band between pctDownloaded and pctScanned.
const (
	pctDownloaded = 10
	pctScanned    = 60
	pctNormalized = 65
	pctBuilt      = 80
	pctRendered   = 90
	pctUploaded   = 97
)

// scanPct maps a scanner stage name onto the job's scan band.
func scanPct(stage string) int {
	var p int
	switch {
	case strings.Contains(stage, "start"):
		p = 5
	case strings.Contains(stage, "unpack"), strings.Contains(stage, "extract"):
		p = 20
	case strings.Contains(stage, "index"):
		p = 40
	case strings.Contains(stage, "rule"), strings.Contains(stage, "check"):
		p = 70
	case strings.Contains(stage, "done"):
		p = 100
	default:
		p = 50
	}
	return pctDownloaded + p*(pctScanned-pctDownloaded)/100
}

// TailProgress follows the scanner's NDJSON progress file until stop is
// called. stop blocks until the tailer has exited.
func TailProgress(parent context.Context, sink ProgressSink, jobID, progressPath string) (stop func()) {
	ctx, cancel := context.WithCancel(parent)
	done := make(chan struct{})
	go func() {
		defer close(done)
		var f *os.File
		var err error
		for i := 0; i < 40 && ctx.Err() == nil; i++ { // ~4s
			f, err = os.Open(progressPath)
			if err == nil {
				break
			}
			time.Sleep(100 * time.Millisecond)
		}
		if f == nil {
			log.Printf("job %s: progress file not found, continuing without tail", jobID)
			return
		}
		defer f.Close()

		r := bufio.NewReader(f)
		var pending []byte
		for {
			line, err := r.ReadBytes('\n')
			pending = append(pending, line...)
			if err == nil {
				var evt model.ProgressEvent
				if json.Unmarshal(pending, &evt) == nil && evt.Stage != "" {
					_ = sink.UpdateProgress(parent, jobID, scanPct(evt.Stage), evt.Stage+": "+evt.Detail)
				}
				pending = pending[:0]
				continue
			}
			if ctx.Err() != nil {
				return
			}
			time.Sleep(300 * time.Millisecond)
		}
	}()
	return func() {
		cancel()
		<-done
	}
}
