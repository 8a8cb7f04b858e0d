package protocol

import "errors"

var (
	// ErrClosed is returned by Conn methods after Close.
	ErrClosed = errors.New("protocol: connection closed")

	// ErrInvalidPin is returned for pin numbers outside 1..PinCount.
	ErrInvalidPin = errors.New("protocol: invalid pin")

	// ErrInvalidChannel is returned for PWM channel indexes out of range.
	ErrInvalidChannel = errors.New("protocol: invalid pwm channel")

	// ErrInvalidEncoder is returned for encoder slots out of range.
	ErrInvalidEncoder = errors.New("protocol: invalid encoder index")

	// ErrUnsupported is returned when the device model lacks the
	// capability an operation requires.
	ErrUnsupported = errors.New("protocol: operation not supported by device model")
)
