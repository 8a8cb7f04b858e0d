package controller

import (
	"github.com/hallgrove/iohub/internal/protocol"
)

// diffStates compares two device states positionally and returns one event
// per changed field. Revision and timestamp are stamped by the caller once
// it knows which snapshot the changes were published under. Pins, encoders
// and PWM channels are compared index by index up to the shorter length; a
// device never changes shape mid-session, so length differences only occur
// against the zero state before the first read.
func diffStates(dev protocol.DeviceID, prev, next protocol.DeviceState) []StateChangeEvent {
	var events []StateChangeEvent

	base := StateChangeEvent{Device: dev}

	n := len(prev.Pins)
	if len(next.Pins) < n {
		n = len(next.Pins)
	}
	for i := 0; i < n; i++ {
		p, q := prev.Pins[i], next.Pins[i]
		pin := i + 1
		if p.DigitalIn != q.DigitalIn {
			ev := base
			ev.Type, ev.Pin, ev.Bool = EventDigitalInput, pin, q.DigitalIn
			events = append(events, ev)
		}
		if p.DigitalOut != q.DigitalOut {
			ev := base
			ev.Type, ev.Pin, ev.Bool = EventDigitalOutput, pin, q.DigitalOut
			events = append(events, ev)
		}
		if p.AnalogIn != q.AnalogIn {
			ev := base
			ev.Type, ev.Pin, ev.Value = EventAnalogInput, pin, q.AnalogIn
			events = append(events, ev)
		}
		if p.AnalogOut != q.AnalogOut {
			ev := base
			ev.Type, ev.Pin, ev.Value = EventAnalogOutput, pin, q.AnalogOut
			events = append(events, ev)
		}
	}

	n = len(prev.Encoders)
	if len(next.Encoders) < n {
		n = len(next.Encoders)
	}
	for i := 0; i < n; i++ {
		if prev.Encoders[i] != next.Encoders[i] {
			ev := base
			ev.Type, ev.Index, ev.Count = EventEncoder, i, next.Encoders[i]
			events = append(events, ev)
		}
	}

	n = len(prev.PWM.Duty)
	if len(next.PWM.Duty) < n {
		n = len(next.PWM.Duty)
	}
	for i := 0; i < n; i++ {
		if prev.PWM.Duty[i] != next.PWM.Duty[i] {
			ev := base
			ev.Type, ev.Channel, ev.Value = EventPWMDuty, i, next.PWM.Duty[i]
			events = append(events, ev)
		}
	}

	return events
}
