package progress

import (
	"time"

	"github.com/JakeFAU/linkwarmer/internal/metrics"
	"github.com/JakeFAU/linkwarmer/internal/prefetch"
)

// Reporter turns scheduler and coordinator callbacks into Events for one
// session. It implements prefetch.Listener.
type Reporter struct {
	emitter Emitter
	session [16]byte
	now     func() time.Time
}

// NewReporter returns a Reporter tagging events with session. A nil emitter
// makes every call a no-op.
func NewReporter(emitter Emitter, session [16]byte) *Reporter {
	return &Reporter{
		emitter: emitter,
		session: session,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (r *Reporter) emit(evt Event) {
	if r == nil || r.emitter == nil {
		return
	}
	evt.Session = r.session
	evt.TS = r.now()
	r.emitter.Emit(evt)
}

// SessionStarted marks the beginning of a run.
func (r *Reporter) SessionStarted(note string) {
	r.emit(Event{Stage: StageSessionStart, Note: note})
}

// SessionDone marks the end of a run.
func (r *Reporter) SessionDone(dur time.Duration, note string) {
	r.emit(Event{Stage: StageSessionDone, Dur: dur, Note: note})
}

// Scanned records a discovery pass and how many links it enqueued.
func (r *Reporter) Scanned(trigger string, enqueued int, dur time.Duration) {
	r.emit(Event{Stage: StageScan, Trigger: trigger, Count: enqueued, Dur: dur})
}

// Enqueued implements prefetch.Listener.
func (r *Reporter) Enqueued(id string) {
	r.emit(Event{Stage: StageEnqueue, Site: metrics.SanitizeSite(id), URL: id})
}

// Completed implements prefetch.Listener.
func (r *Reporter) Completed(o prefetch.Outcome) {
	evt := Event{
		Stage:   StageFetchDone,
		Site:    metrics.SanitizeSite(o.URL),
		URL:     o.URL,
		Bytes:   o.Bytes,
		Outcome: string(o.Kind),
		Dur:     o.Duration,
	}
	if o.StatusCode != 0 {
		evt.StatusClass = ClassifyStatus(o.StatusCode)
	}
	if o.Err != nil {
		evt.Note = o.Err.Error()
	}
	r.emit(evt)
}
