package main

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/jedib0t/go-pretty/v6/progress"

	"github.com/helixir/research-trend-service/internal/task"
)

// progressBars renders one go-pretty tracker per task of a run.
type progressBars struct {
	pw progress.Writer

	mu       sync.Mutex
	trackers map[int]*progress.Tracker

	done chan task.Event
}

var _ task.ProgressReporter = (*progressBars)(nil)

func newProgressBars(out io.Writer) *progressBars {
	pw := progress.NewWriter()
	pw.SetOutputWriter(out)
	pw.SetAutoStop(false)
	pw.SetTrackerLength(30)
	pw.SetUpdateFrequency(100 * time.Millisecond)
	pw.SetStyle(progress.StyleDefault)
	pw.Style().Visibility.ETA = false
	pw.Style().Visibility.Value = false

	return &progressBars{
		pw:       pw,
		trackers: make(map[int]*progress.Tracker),
		done:     make(chan task.Event, 1),
	}
}

// Report implements task.ProgressReporter.
func (p *progressBars) Report(e task.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if e.Terminal() {
		for _, t := range p.trackers {
			if t.IsDone() {
				continue
			}
			if e.Label == task.LabelCancelled {
				t.MarkAsErrored()
			} else {
				t.MarkAsDone()
			}
		}
		select {
		case p.done <- e:
		default:
		}
		return
	}

	// A new task index means every earlier task has finished.
	for index, t := range p.trackers {
		if index < e.Index && !t.IsDone() {
			t.MarkAsDone()
		}
	}

	t, ok := p.trackers[e.Index]
	if !ok {
		t = &progress.Tracker{
			Message: fmt.Sprintf("[%d/%d] %s", e.Index, e.Count, e.Label),
			Total:   100,
			Units:   progress.UnitsDefault,
		}
		p.trackers[e.Index] = t
		p.pw.AppendTracker(t)
	}
	t.SetValue(int64(e.Percent))
}

// Done delivers the terminal event of the run.
func (p *progressBars) Done() <-chan task.Event {
	return p.done
}

// Render draws the trackers in the background until Stop is called.
func (p *progressBars) Render() {
	go p.pw.Render()
	for !p.pw.IsRenderInProgress() {
		time.Sleep(time.Millisecond)
	}
}

// Stop renders a final frame and returns once the renderer has exited.
func (p *progressBars) Stop() {
	if !p.pw.IsRenderInProgress() {
		return
	}
	time.Sleep(150 * time.Millisecond)
	p.pw.Stop()
	for p.pw.IsRenderInProgress() {
		time.Sleep(10 * time.Millisecond)
	}
}
