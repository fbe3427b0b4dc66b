// Package printer owns the single active receipt-printer connection and its print queue
package printer

import (
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/thereceipt/pos-hardware/internal/device"
)

// Kind is the transport used to reach a printer
type Kind string

const (
	KindUSB     Kind = "usb"
	KindSerial  Kind = "serial"
	KindNetwork Kind = "network"
)

// ParseKind accepts the kind names case-insensitively
func ParseKind(s string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(s))) {
	case KindUSB:
		return KindUSB, nil
	case KindSerial:
		return KindSerial, nil
	case KindNetwork:
		return KindNetwork, nil
	}
	return "", errors.Errorf("unknown printer connection kind %q", s)
}

// Config selects the printer to connect to
type Config struct {
	Kind      Kind   `json:"kind"`
	DeviceID  string `json:"deviceId,omitempty"`
	VendorID  uint16 `json:"vendorId,omitempty"`
	ProductID uint16 `json:"productId,omitempty"`
	Port      string `json:"port,omitempty"`     // serial port path
	BaudRate  int    `json:"baudRate,omitempty"` // serial, defaults to 9600
	Host      string `json:"host,omitempty"`
	NetPort   int    `json:"netPort,omitempty"`
}

// DefaultBaudRate is used for serial printers when Config.BaudRate is zero
const DefaultBaudRate = 9600

// State is the connection state machine
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
)

// JobStatus is the lifecycle of a print job
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobPrinting  JobStatus = "printing"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// Job is a print job. Callers receive copies without the payload;
// only the queue mutates the original.
type Job struct {
	ID        string    `json:"id"`
	Payload   []byte    `json:"-"`
	Size      int       `json:"size"`
	Status    JobStatus `json:"status"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// detached drops the payload so callers cannot alias queued bytes
func (j *Job) detached() Job {
	c := *j
	c.Payload = nil
	return c
}

// Done reports whether the job reached a terminal status
func (j Job) Done() bool {
	return j.Status == JobCompleted || j.Status == JobFailed
}

// DisconnectPolicy decides what happens to a job that is being written when
// the printer is disconnected
type DisconnectPolicy string

const (
	// FinishInFlight lets the executing job complete before the handle is closed
	FinishInFlight DisconnectPolicy = "finish"
	// AbortInFlight cancels the executing job's write and closes immediately
	AbortInFlight DisconnectPolicy = "abort"
)

// ParseDisconnectPolicy maps "finish" and "abort"; empty means finish
func ParseDisconnectPolicy(s string) (DisconnectPolicy, error) {
	switch DisconnectPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", FinishInFlight:
		return FinishInFlight, nil
	case AbortInFlight:
		return AbortInFlight, nil
	}
	return "", errors.Errorf("unknown disconnect policy %q (finish or abort)", s)
}

// EventKind names a printer service event
type EventKind string

const (
	EventConnected    EventKind = "connected"
	EventDisconnected EventKind = "disconnected"
	EventError        EventKind = "error"
	EventJob          EventKind = "job"
)

// Event is published to subscribers of the service
type Event struct {
	Kind    EventKind
	Printer device.Descriptor
	Job     *Job
	Err     error
}

// Status summarises the service for status queries
type Status struct {
	State     State              `json:"state"`
	Printer   *device.Descriptor `json:"printer,omitempty"`
	Printing  bool               `json:"printing"`
	Pending   int                `json:"pending"`
	Completed int                `json:"completed"`
	Failed    int                `json:"failed"`
}

// JobRecorder receives every job status change
type JobRecorder interface {
	RecordJob(job Job) error
}
