package progress

import (
	"errors"
	"fmt"
	"time"
)

// Stage denotes the milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageSessionStart Stage = "SESSION_START"
	StageScan         Stage = "SCAN"
	StageEnqueue      Stage = "ENQUEUE"
	StageFetchDone    Stage = "FETCH_DONE"
	StageSessionDone  Stage = "SESSION_DONE"
)

// StatusClass is a coarse HTTP response grouping.
type StatusClass string

// Supported HTTP status classes tracked for fetch completions.
const (
	Status2xx   StatusClass = "2xx"
	Status3xx   StatusClass = "3xx"
	Status4xx   StatusClass = "4xx"
	Status5xx   StatusClass = "5xx"
	StatusOther StatusClass = "other"
)

// Event captures one step of a prefetch session.
type Event struct {
	// Session identifies the process run in 16-byte UUID form.
	Session [16]byte
	TS      time.Time
	Stage   Stage
	// Trigger names what caused a scan: initial, batch or final.
	Trigger string
	Site    string
	// URL is the warmed identifier for enqueue and fetch events.
	URL string
	// Count is the number of newly enqueued links for scan events.
	Count int
	Bytes int64
	// Outcome is the prefetch outcome kind for fetch events.
	Outcome     string
	StatusClass StatusClass
	Dur         time.Duration
	Note        string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.Session == [16]byte{} {
		return errors.New("session id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageSessionStart, StageSessionDone:
	case StageScan:
		if e.Trigger == "" {
			return errors.New("scan requires trigger")
		}
	case StageEnqueue:
		if e.URL == "" {
			return errors.New("enqueue requires url")
		}
	case StageFetchDone:
		if e.Site == "" {
			return errors.New("fetch done requires site")
		}
		if e.Outcome == "" {
			return errors.New("fetch done requires outcome")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// ClassifyStatus groups HTTP status codes for fetch events.
func ClassifyStatus(code int) StatusClass {
	switch {
	case code >= 200 && code < 300:
		return Status2xx
	case code >= 300 && code < 400:
		return Status3xx
	case code >= 400 && code < 500:
		return Status4xx
	case code >= 500 && code < 600:
		return Status5xx
	default:
		return StatusOther
	}
}
