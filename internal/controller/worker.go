package controller

import (
	"context"
	"sync"
	"time"

	"github.com/hallgrove/iohub/internal/protocol"
)

// workerConfig holds the per-thread tunables resolved from Config.
type workerConfig struct {
	refreshInterval time.Duration
	ioTimeout       time.Duration
	retryBudget     int
	commandBurst    int
}

// worker is the goroutine that exclusively owns one device connection.
// All device IO happens here: commands arrive on the commands channel,
// periodic refreshes read the full device state, and every observable
// change is published through the state cell and emitted to observers.
//
// The state, status, failures and synced fields are only ever touched from
// the worker goroutine.
type worker struct {
	id     protocol.DeviceID
	conn   protocol.Conn
	cell   *stateCell
	emit   func(StateChangeEvent)
	cfg    workerConfig
	logger Logger

	commands chan *command
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	state    protocol.DeviceState
	status   ThreadStatus
	failures int
	synced   bool
}

func newWorker(conn protocol.Conn, cell *stateCell, cfg workerConfig, emit func(StateChangeEvent), logger Logger) *worker {
	return &worker{
		id:       conn.Info().ID,
		conn:     conn,
		cell:     cell,
		emit:     emit,
		cfg:      cfg,
		logger:   logger,
		commands: make(chan *command),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		status:   StatusStarting,
	}
}

// requestStop asks the worker to wind down. Safe to call more than once.
func (w *worker) requestStop() {
	w.stopOnce.Do(func() { close(w.stop) })
}

// run is the worker loop. It exits only on requestStop, and always closes
// the device connection and answers queued commands before returning.
func (w *worker) run() {
	defer close(w.done)

	ticker := time.NewTicker(w.cfg.refreshInterval)
	defer ticker.Stop()

	w.setStatus(StatusRunning)
	w.refresh()

	for {
		select {
		case <-w.stop:
			w.shutdown()
			return

		case cmd := <-w.commands:
			w.serve(cmd)
			// Serve queued commands up to the burst limit so a busy
			// dispatcher cannot starve the periodic refresh.
		drain:
			for n := 1; n < w.cfg.commandBurst; n++ {
				select {
				case <-w.stop:
					w.shutdown()
					return
				case cmd := <-w.commands:
					w.serve(cmd)
				default:
					break drain
				}
			}

		case <-ticker.C:
			if w.status == StatusRunning {
				w.refresh()
			}
		}
	}
}

// shutdown closes the connection, publishes the terminal status and
// answers any commands that raced the stop.
func (w *worker) shutdown() {
	if err := w.conn.Close(); err != nil {
		w.logger.Warn("closing device connection", "device", w.id, "error", err)
	}
	w.setStatus(StatusStopped)

	for {
		select {
		case cmd := <-w.commands:
			cmd.reply <- commandResult{err: ErrStopped}
		default:
			return
		}
	}
}

func (w *worker) setStatus(st ThreadStatus) {
	if w.status == st {
		return
	}
	w.status = st
	snap := w.cell.PublishStatus(st)
	w.emit(StateChangeEvent{
		Device:   w.id,
		Type:     EventStatus,
		Status:   st,
		Revision: snap.Revision,
		At:       snap.TakenAt,
	})
	w.logger.Info("device thread status changed", "device", w.id, "status", st)
}

func (w *worker) emitError(err error) {
	snap := w.cell.Load()
	w.emit(StateChangeEvent{
		Device:   w.id,
		Type:     EventError,
		Message:  err.Error(),
		Revision: snap.Revision,
		At:       time.Now(),
	})
}

// refresh reads the full device state and publishes whatever changed.
// Consecutive failures are counted against the retry budget; exhausting it
// moves the thread to the error status, which halts refreshing until a
// resume command re-arms it.
func (w *worker) refresh() {
	ctx, cancel := context.WithTimeout(context.Background(), w.cfg.ioTimeout)
	st, err := w.conn.ReadFullState(ctx)
	cancel()

	if err != nil {
		w.failures++
		w.logger.Warn("device state refresh failed",
			"device", w.id,
			"error", err,
			"consecutive_failures", w.failures,
		)
		if w.failures >= w.cfg.retryBudget {
			w.logger.Error("refresh retry budget exhausted",
				"device", w.id,
				"failures", w.failures,
			)
			w.setStatus(StatusError)
			w.emitError(err)
		}
		return
	}

	w.failures = 0

	if !w.synced {
		w.synced = true
		w.state = st
		snap := w.cell.Publish(st, w.status)
		w.emit(StateChangeEvent{
			Device:   w.id,
			Type:     EventFullUpdate,
			Revision: snap.Revision,
			At:       snap.TakenAt,
		})
		return
	}

	w.commit(st)
}

// commit diffs the new state against the last one and, if anything
// changed, publishes it under a fresh revision and emits one event per
// changed field. Unchanged states publish nothing.
func (w *worker) commit(next protocol.DeviceState) {
	events := diffStates(w.id, w.state, next)
	if len(events) == 0 {
		return
	}

	snap := w.cell.Publish(next, w.status)
	w.state = next

	for i := range events {
		events[i].Revision = snap.Revision
		events[i].At = snap.TakenAt
		w.emit(events[i])
	}
}

// serve executes one command against the device and answers through the
// reply slot. Command failures are reported to the dispatcher and never
// terminate the worker.
func (w *worker) serve(cmd *command) {
	switch cmd.kind {
	case cmdPause:
		if w.status == StatusRunning {
			w.setStatus(StatusPaused)
		}
		cmd.reply <- commandResult{}
		return

	case cmdResume:
		w.failures = 0
		if w.status == StatusPaused || w.status == StatusError {
			w.setStatus(StatusRunning)
			w.refresh()
		}
		cmd.reply <- commandResult{}
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), w.cfg.ioTimeout)
	defer cancel()

	var res commandResult
	switch cmd.kind {
	case cmdWriteDigital:
		res.err = w.conn.WriteDigital(ctx, cmd.pin, cmd.on)
		if res.err == nil && w.synced && cmd.pin >= 1 && cmd.pin <= len(w.state.Pins) {
			next := w.state.Clone()
			next.Pins[cmd.pin-1].DigitalOut = cmd.on
			w.commit(next)
		}

	case cmdWriteAnalog:
		res.err = w.conn.WriteAnalog(ctx, cmd.pin, cmd.value)
		if res.err == nil && w.synced && cmd.pin >= 1 && cmd.pin <= len(w.state.Pins) {
			next := w.state.Clone()
			next.Pins[cmd.pin-1].AnalogOut = cmd.value
			w.commit(next)
		}

	case cmdSetPWM:
		res.err = w.conn.SetPWM(ctx, cmd.channel, cmd.value)
		if res.err == nil && w.synced && cmd.channel >= 0 && cmd.channel < len(w.state.PWM.Duty) {
			next := w.state.Clone()
			next.PWM.Duty[cmd.channel] = cmd.value
			w.commit(next)
		}

	case cmdConfigureEncoder:
		res.err = w.conn.ConfigureEncoder(ctx, cmd.encCfg)

	case cmdResetCounter:
		res.err = w.conn.ResetCounter(ctx, cmd.pin)

	case cmdReadDigital:
		res.boolVal, res.err = w.conn.ReadDigital(ctx, cmd.pin)
		if res.err == nil && w.synced && cmd.pin >= 1 && cmd.pin <= len(w.state.Pins) {
			next := w.state.Clone()
			next.Pins[cmd.pin-1].DigitalIn = res.boolVal
			w.commit(next)
		}

	case cmdReadAnalog:
		res.uintVal, res.err = w.conn.ReadAnalog(ctx, cmd.pin)
		if res.err == nil && w.synced && cmd.pin >= 1 && cmd.pin <= len(w.state.Pins) {
			next := w.state.Clone()
			next.Pins[cmd.pin-1].AnalogIn = res.uintVal
			w.commit(next)
		}

	case cmdReadEncoder:
		res.intVal, res.err = w.conn.ReadEncoder(ctx, cmd.index)
		if res.err == nil && w.synced && cmd.index >= 0 && cmd.index < len(w.state.Encoders) {
			next := w.state.Clone()
			next.Encoders[cmd.index] = res.intVal
			w.commit(next)
		}

	case cmdRaw:
		res.raw, res.err = w.conn.Raw(ctx, cmd.rawReq)
	}

	if res.err != nil {
		w.logger.Warn("device command failed",
			"device", w.id,
			"op", cmd.kind.opName(),
			"error", res.err,
		)
	}

	cmd.reply <- res
}
