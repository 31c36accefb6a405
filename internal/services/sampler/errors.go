package sampler

import (
	"errors"
	"fmt"

	"github.com/LeonardoBeccarini/clever_harvest/internal/config"
)

// Kind classifies a failure inside a cycle.
type Kind string

const (
	KindSensor  Kind = "sensor"
	KindUpload  Kind = "upload"
	KindPersist Kind = "persist"
)

// Action is what the cycle does after a failure of a given kind.
type Action int

const (
	// AbortCycle drops the whole cycle: no record, nothing persisted.
	AbortCycle Action = iota
	// ContinueWithoutField leaves the affected field absent.
	ContinueWithoutField
	// ContinueDropRecord loses the record for the failing sink only.
	ContinueDropRecord
)

func (a Action) String() string {
	switch a {
	case AbortCycle:
		return "abort-cycle"
	case ContinueWithoutField:
		return "continue-without-field"
	case ContinueDropRecord:
		return "continue-and-drop-record"
	}
	return fmt.Sprintf("action(%d)", int(a))
}

// SensorError is a failed DHT or moisture read.
type SensorError struct {
	Sensor string
	Err    error
}

func (e *SensorError) Error() string { return fmt.Sprintf("read %s: %v", e.Sensor, e.Err) }
func (e *SensorError) Unwrap() error { return e.Err }
func (e *SensorError) Kind() Kind    { return KindSensor }

// UploadError is a failed capture, upload or presign.
type UploadError struct {
	Stage string
	Err   error
}

func (e *UploadError) Error() string { return fmt.Sprintf("image %s: %v", e.Stage, e.Err) }
func (e *UploadError) Unwrap() error { return e.Err }
func (e *UploadError) Kind() Kind    { return KindUpload }

// PersistError is a failed write to one sink.
type PersistError struct {
	Sink string
	Err  error
}

func (e *PersistError) Error() string { return fmt.Sprintf("persist to %s: %v", e.Sink, e.Err) }
func (e *PersistError) Unwrap() error { return e.Err }
func (e *PersistError) Kind() Kind    { return KindPersist }

type kinded interface {
	error
	Kind() Kind
}

// KindOf returns the kind of the first classified error in err's chain.
func KindOf(err error) (Kind, bool) {
	var k kinded
	if errors.As(err, &k) {
		return k.Kind(), true
	}
	return "", false
}

// Policy maps each failure kind to an action.
type Policy map[Kind]Action

func DefaultPolicy() Policy {
	return Policy{
		KindSensor:  AbortCycle,
		KindUpload:  ContinueWithoutField,
		KindPersist: ContinueDropRecord,
	}
}

// PolicyFor builds the table for a sensor_failure_policy setting.
func PolicyFor(sensorFailure string) Policy {
	p := DefaultPolicy()
	if sensorFailure == config.PolicyDegrade {
		p[KindSensor] = ContinueWithoutField
	}
	return p
}

// ActionFor resolves err against the table. Unclassified errors abort.
func (p Policy) ActionFor(err error) Action {
	kind, ok := KindOf(err)
	if !ok {
		return AbortCycle
	}
	if a, ok := p[kind]; ok {
		return a
	}
	return AbortCycle
}
