package controller

import (
	"time"

	"github.com/hallgrove/iohub/internal/protocol"
)

// ThreadStatus represents the lifecycle state of a device thread.
type ThreadStatus string

const (
	StatusStarting ThreadStatus = "starting"
	StatusRunning  ThreadStatus = "running"
	StatusPaused   ThreadStatus = "paused"
	StatusError    ThreadStatus = "error"
	StatusStopped  ThreadStatus = "stopped"
)

// EventType classifies a state change event.
type EventType string

const (
	EventDigitalInput  EventType = "digital_input"
	EventDigitalOutput EventType = "digital_output"
	EventAnalogInput   EventType = "analog_input"
	EventAnalogOutput  EventType = "analog_output"
	EventEncoder       EventType = "encoder"
	EventPWMDuty       EventType = "pwm_duty"
	EventStatus        EventType = "status"
	EventError         EventType = "error"
	EventFullUpdate    EventType = "full_update"
)

// StateChangeEvent describes one observed change on one device. Which
// fields are meaningful depends on Type: Pin and Bool for digital events,
// Pin and Value for analog events, Index and Count for encoder events,
// Channel and Value for PWM events, Status for status events, Message for
// error events. Revision is the snapshot revision the change was published
// under.
type StateChangeEvent struct {
	Device   protocol.DeviceID `json:"device"`
	Type     EventType         `json:"type"`
	Pin      int               `json:"pin,omitempty"`
	Channel  int               `json:"channel,omitempty"`
	Index    int               `json:"index,omitempty"`
	Bool     bool              `json:"bool,omitempty"`
	Value    uint32            `json:"value,omitempty"`
	Count    int32             `json:"count,omitempty"`
	Status   ThreadStatus      `json:"status,omitempty"`
	Message  string            `json:"message,omitempty"`
	Revision uint64            `json:"revision"`
	At       time.Time         `json:"at"`
}
