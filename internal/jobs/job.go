// File: internal/jobs/job.go
package jobs

import (
	"sync"
	"time"

	"github.com/veilkit/pane/api/schemas"
)

// Status is the lifecycle state of a job.
type Status string

const (
	StatusRunning  Status = "running"
	StatusComplete Status = "complete"
	StatusFailed   Status = "failed"
	StatusCanceled Status = "canceled"
)

// Event is one entry of a job's append-only log: the machine's progress
// event plus its position and wall time. Seq starts at 1 and is strictly
// increasing within a job.
type Event struct {
	Seq  int       `json:"seq"`
	Time time.Time `json:"time"`
	schemas.ProgressEvent
}

// subscriberBuffer is the live-event headroom per subscriber channel.
// A subscriber that falls further behind loses events instead of stalling
// the run goroutine.
const subscriberBuffer = 64

// Job is one enrollment run with its event log and subscriber set. The log
// is single-writer (the run goroutine) and multi-reader; replay and live
// delivery are linearized under one lock so a late subscriber sees the
// full history exactly once, in order, before any live event.
type Job struct {
	id          string
	targetURL   string
	contextName string
	startedAt   time.Time
	cancel      func()
	done        chan struct{}

	mu          sync.Mutex
	log         []Event
	subs        map[int]chan Event
	nextSub     int
	sealed      bool
	status      Status
	result      *schemas.EnrollmentResult
	finishedAt  time.Time
	percent     int
	cancelAsked bool
	dropped     int
}

func newJob(id, targetURL, contextName string, cancel func()) *Job {
	return &Job{
		id:          id,
		targetURL:   targetURL,
		contextName: contextName,
		startedAt:   time.Now().UTC(),
		cancel:      cancel,
		done:        make(chan struct{}),
		subs:        make(map[int]chan Event),
		status:      StatusRunning,
	}
}

// ID returns the job's collision-resistant identifier.
func (j *Job) ID() string { return j.id }

// TargetURL returns the enrollment target.
func (j *Job) TargetURL() string { return j.targetURL }

// ContextName returns the enrollment context label the job runs under.
func (j *Job) ContextName() string { return j.contextName }

// StartedAt returns when the job was created.
func (j *Job) StartedAt() time.Time { return j.startedAt }

// Done is closed once the job reached a terminal status.
func (j *Job) Done() <-chan struct{} { return j.done }

// Status returns the current lifecycle state.
func (j *Job) Status() Status {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.status
}

// Result returns the terminal result, or nil while the job is running.
// The result is immutable once set; callers must not modify it.
func (j *Job) Result() *schemas.EnrollmentResult {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.result
}

// Events returns a snapshot of the log so far.
func (j *Job) Events() []Event {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]Event(nil), j.log...)
}

// append records one progress event and fans it out to the current
// subscribers without blocking: a full subscriber buffer drops the event
// for that subscriber only. Events after the terminal one are discarded,
// preserving the exactly-one-terminal invariant. Reports whether the
// event was admitted.
func (j *Job) append(pe schemas.ProgressEvent) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.sealed {
		return false
	}
	j.appendLocked(pe)
	return true
}

// appendLocked stamps, logs and fans out one event, sealing the log when
// the event is terminal. Callers hold j.mu.
func (j *Job) appendLocked(pe schemas.ProgressEvent) {
	ev := Event{
		Seq:           len(j.log) + 1,
		Time:          time.Now().UTC(),
		ProgressEvent: pe,
	}
	j.log = append(j.log, ev)
	j.percent = ev.PercentComplete

	for _, ch := range j.subs {
		select {
		case ch <- ev:
		default:
			j.dropped++
		}
	}

	if pe.Step == schemas.StepComplete || pe.Step == schemas.StepError {
		j.sealLocked()
	}
}

// sealLocked closes the log and every subscriber channel. Callers hold j.mu.
func (j *Job) sealLocked() {
	if j.sealed {
		return
	}
	j.sealed = true
	for id, ch := range j.subs {
		close(ch)
		delete(j.subs, id)
	}
}

// subscribe registers a reader. The returned channel first yields the full
// history, then live events; it is closed after the terminal event (or by
// the cancel func). The replay fits the buffer by construction, so this
// never blocks.
func (j *Job) subscribe() (<-chan Event, func()) {
	j.mu.Lock()
	defer j.mu.Unlock()

	ch := make(chan Event, len(j.log)+subscriberBuffer)
	for _, ev := range j.log {
		ch <- ev
	}
	if j.sealed {
		close(ch)
		return ch, func() {}
	}

	id := j.nextSub
	j.nextSub++
	j.subs[id] = ch

	unsubscribe := func() {
		j.mu.Lock()
		defer j.mu.Unlock()
		if existing, ok := j.subs[id]; ok {
			delete(j.subs, id)
			close(existing)
		}
	}
	return ch, unsubscribe
}

// requestCancel flags the job as user-canceled and cancels its run context.
func (j *Job) requestCancel() {
	j.mu.Lock()
	already := j.sealed || j.cancelAsked
	if !already {
		j.cancelAsked = true
	}
	j.mu.Unlock()
	if !already && j.cancel != nil {
		j.cancel()
	}
}

func (j *Job) wasCancelRequested() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.cancelAsked
}

// finish records the terminal result and status and releases Done waiters.
// If the run never emitted a terminal event, one is synthesized from the
// result so every log ends with exactly one terminal entry.
func (j *Job) finish(result *schemas.EnrollmentResult, status Status) {
	j.mu.Lock()
	if !j.sealed {
		j.appendLocked(terminalEvent(result, status))
	}
	j.result = result
	j.status = status
	j.finishedAt = time.Now().UTC()
	j.mu.Unlock()
	close(j.done)
}

func terminalEvent(result *schemas.EnrollmentResult, status Status) schemas.ProgressEvent {
	pe := schemas.ProgressEvent{Step: schemas.StepComplete, Message: "run finished", PercentComplete: 100}
	if status == StatusComplete {
		return pe
	}
	pe.Step = schemas.StepError
	pe.Message = "run terminated"
	if status == StatusCanceled {
		pe.Message = "job canceled"
	}
	if result != nil && result.Error != "" {
		pe.Message = result.Error
	}
	return pe
}

// Snapshot is the serializable view of a job for status endpoints.
type Snapshot struct {
	ID              string                    `json:"id"`
	TargetURL       string                    `json:"targetUrl"`
	Context         string                    `json:"context"`
	Status          Status                    `json:"status"`
	StartedAt       time.Time                 `json:"startedAt"`
	FinishedAt      *time.Time                `json:"finishedAt,omitempty"`
	PercentComplete int                       `json:"percentComplete"`
	Events          int                       `json:"events"`
	Result          *schemas.EnrollmentResult `json:"result,omitempty"`
}

// Snapshot captures the job's externally visible state.
func (j *Job) Snapshot() Snapshot {
	j.mu.Lock()
	defer j.mu.Unlock()
	snap := Snapshot{
		ID:              j.id,
		TargetURL:       j.targetURL,
		Context:         j.contextName,
		Status:          j.status,
		StartedAt:       j.startedAt,
		PercentComplete: j.percent,
		Events:          len(j.log),
		Result:          j.result,
	}
	if !j.finishedAt.IsZero() {
		at := j.finishedAt
		snap.FinishedAt = &at
	}
	return snap
}
