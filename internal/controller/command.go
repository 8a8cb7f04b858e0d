package controller

import "github.com/hallgrove/iohub/internal/protocol"

// commandKind selects which device operation a command performs.
type commandKind int

const (
	cmdWriteDigital commandKind = iota
	cmdWriteAnalog
	cmdSetPWM
	cmdConfigureEncoder
	cmdResetCounter
	cmdReadDigital
	cmdReadAnalog
	cmdReadEncoder
	cmdRaw
	cmdPause
	cmdResume
)

// opName maps a command kind to the operation name carried in errors and
// logs.
func (k commandKind) opName() string {
	switch k {
	case cmdWriteDigital:
		return "write digital output"
	case cmdWriteAnalog:
		return "write analog output"
	case cmdSetPWM:
		return "set pwm duty"
	case cmdConfigureEncoder:
		return "configure encoder"
	case cmdResetCounter:
		return "reset counter"
	case cmdReadDigital:
		return "read digital input"
	case cmdReadAnalog:
		return "read analog input"
	case cmdReadEncoder:
		return "read encoder"
	case cmdRaw:
		return "raw request"
	case cmdPause:
		return "pause"
	case cmdResume:
		return "resume"
	}
	return "unknown"
}

// commandResult is what the worker sends back through the reply slot.
// Exactly one of the value fields is meaningful for read commands.
type commandResult struct {
	boolVal bool
	uintVal uint32
	intVal  int32
	raw     []byte
	err     error
}

// command is one unit of work sent to a device worker. The reply channel
// is a slot: buffered with capacity one so the worker can answer without
// blocking even if the dispatcher has already given up.
type command struct {
	kind    commandKind
	pin     int
	channel int
	index   int
	on      bool
	value   uint32
	encCfg  protocol.EncoderConfig
	rawReq  protocol.RawRequest
	reply   chan commandResult
}

func newCommand(kind commandKind) *command {
	return &command{kind: kind, reply: make(chan commandResult, 1)}
}
