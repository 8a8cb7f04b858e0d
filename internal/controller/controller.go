package controller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hallgrove/iohub/internal/protocol"
)

// Config holds the controller tunables. Zero values are replaced with
// defaults by New.
type Config struct {
	// RefreshInterval is how often each worker reads the full device state.
	RefreshInterval time.Duration

	// IOTimeout bounds each individual device operation inside a worker.
	IOTimeout time.Duration

	// RetryBudget is how many consecutive refresh failures a thread
	// tolerates before entering the error status.
	RetryBudget int

	// CommandBurst is how many queued commands a worker serves before
	// yielding back to the refresh ticker.
	CommandBurst int

	// DispatchTimeout bounds how long a caller waits for a command to be
	// accepted and answered.
	DispatchTimeout time.Duration

	// StopTimeout bounds how long StopThread waits for a worker to wind
	// down before giving up on the wait.
	StopTimeout time.Duration

	// ObserverBuffer is the per-subscription event channel capacity.
	ObserverBuffer int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		RefreshInterval: 50 * time.Millisecond,
		IOTimeout:       time.Second,
		RetryBudget:     3,
		CommandBurst:    16,
		DispatchTimeout: 5 * time.Second,
		StopTimeout:     5 * time.Second,
		ObserverBuffer:  64,
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.RefreshInterval <= 0 {
		c.RefreshInterval = d.RefreshInterval
	}
	if c.IOTimeout <= 0 {
		c.IOTimeout = d.IOTimeout
	}
	if c.RetryBudget <= 0 {
		c.RetryBudget = d.RetryBudget
	}
	if c.CommandBurst <= 0 {
		c.CommandBurst = d.CommandBurst
	}
	if c.DispatchTimeout <= 0 {
		c.DispatchTimeout = d.DispatchTimeout
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = d.StopTimeout
	}
	if c.ObserverBuffer <= 0 {
		c.ObserverBuffer = d.ObserverBuffer
	}
}

// threadHandle is one directory entry. The cell exists from the moment the
// entry is created; worker and model are filled in once the connection is
// established, under the controller mutex.
type threadHandle struct {
	id     protocol.DeviceID
	cell   *stateCell
	worker *worker
	model  protocol.DeviceModel
}

// Controller owns the device thread directory. It starts and stops device
// workers, routes commands to them, answers state reads from published
// snapshots and manages state observers.
//
// All methods are safe for concurrent use. The directory mutex is only
// held for map mutation and lookup, never across a connect, a dispatch or
// a stop wait.
type Controller struct {
	cfg       Config
	connector protocol.Connector
	discover  protocol.Discoverer
	logger    Logger
	observers *observerRegistry

	mu      sync.Mutex
	threads map[protocol.DeviceID]*threadHandle
	closed  bool
}

// New creates a controller that connects devices through the given
// connector.
func New(connector protocol.Connector, cfg Config) *Controller {
	cfg.applyDefaults()
	logger := Logger(noopLogger{})
	return &Controller{
		cfg:       cfg,
		connector: connector,
		logger:    logger,
		observers: newObserverRegistry(cfg.ObserverBuffer, logger),
		threads:   make(map[protocol.DeviceID]*threadHandle),
	}
}

// SetLogger sets the logger for the controller. Call before starting
// threads.
func (c *Controller) SetLogger(logger Logger) {
	c.logger = logger
	c.observers.logger = logger
}

// SetDiscoverer sets the device discoverer used by DiscoverUSB and
// DiscoverNetwork.
func (c *Controller) SetDiscoverer(d protocol.Discoverer) {
	c.discover = d
}

// StartThread connects the device and starts its worker. It is
// synchronous: when it returns nil the thread is running and dispatchable.
// A second start for the same device fails with ErrAlreadyRunning, even
// while the first is still connecting.
func (c *Controller) StartThread(ctx context.Context, id protocol.DeviceID) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if _, exists := c.threads[id]; exists {
		c.mu.Unlock()
		return fmt.Errorf("device %s: %w", id, ErrAlreadyRunning)
	}
	h := &threadHandle{id: id, cell: newStateCell(StatusStarting)}
	c.threads[id] = h
	c.mu.Unlock()

	c.logger.Info("starting device thread", "device", id)

	conn, err := c.connector.Connect(ctx, id)
	if err != nil {
		c.mu.Lock()
		delete(c.threads, id)
		c.mu.Unlock()
		c.logger.Error("device connect failed", "device", id, "error", err)
		return fmt.Errorf("device %s: %w: %w", id, ErrConnectFailed, err)
	}

	w := newWorker(conn, h.cell, workerConfig{
		refreshInterval: c.cfg.RefreshInterval,
		ioTimeout:       c.cfg.IOTimeout,
		retryBudget:     c.cfg.RetryBudget,
		commandBurst:    c.cfg.CommandBurst,
	}, c.observers.publish, c.logger)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		return ErrClosed
	}
	h.worker = w
	h.model = conn.Model()
	c.mu.Unlock()

	go w.run()

	c.logger.Info("device thread started",
		"device", id,
		"model", h.model.Name,
		"transport", conn.Info().Transport,
	)
	return nil
}

// StopThread asks the device worker to wind down and waits up to the stop
// timeout for it. On ErrStopTimeout the worker keeps winding down in the
// background; the directory entry is removed either way.
func (c *Controller) StopThread(ctx context.Context, id protocol.DeviceID) error {
	c.mu.Lock()
	h, ok := c.threads[id]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("device %s: %w", id, ErrNotFound)
	}
	if h.worker == nil {
		c.mu.Unlock()
		return fmt.Errorf("device %s: %w", id, ErrStarting)
	}
	delete(c.threads, id)
	c.mu.Unlock()

	c.logger.Info("stopping device thread", "device", id)
	h.worker.requestStop()

	select {
	case <-h.worker.done:
		c.logger.Info("device thread stopped", "device", id)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(c.cfg.StopTimeout):
		c.logger.Warn("device thread stop timed out",
			"device", id,
			"timeout", c.cfg.StopTimeout,
		)
		return fmt.Errorf("device %s: %w", id, ErrStopTimeout)
	}
}

// StopAll stops every running thread and closes all observers. The
// controller accepts no further starts afterwards.
func (c *Controller) StopAll(ctx context.Context) error {
	c.mu.Lock()
	c.closed = true
	handles := make([]*threadHandle, 0, len(c.threads))
	for id, h := range c.threads {
		if h.worker != nil {
			handles = append(handles, h)
		}
		delete(c.threads, id)
	}
	c.mu.Unlock()

	for _, h := range handles {
		h.worker.requestStop()
	}

	var errs []error
	deadline := time.After(c.cfg.StopTimeout)
	for _, h := range handles {
		select {
		case <-h.worker.done:
		case <-ctx.Done():
			errs = append(errs, ctx.Err())
		case <-deadline:
			errs = append(errs, fmt.Errorf("device %s: %w", h.id, ErrStopTimeout))
		}
	}

	c.observers.closeAll()
	c.logger.Info("all device threads stopped", "count", len(handles))
	return errors.Join(errs...)
}

// handle returns the running handle for a device.
func (c *Controller) handle(id protocol.DeviceID) (*threadHandle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	h, ok := c.threads[id]
	if !ok {
		return nil, fmt.Errorf("device %s: %w", id, ErrNotFound)
	}
	if h.worker == nil {
		return nil, fmt.Errorf("device %s: %w", id, ErrStarting)
	}
	return h, nil
}

// dispatch sends a command to the device worker and waits for its reply.
// Both the send and the wait are bounded by the dispatch timeout and the
// caller context, and both notice a worker that exits mid-flight.
func (c *Controller) dispatch(ctx context.Context, h *threadHandle, cmd *command) (commandResult, error) {
	timer := time.NewTimer(c.cfg.DispatchTimeout)
	defer timer.Stop()

	select {
	case h.worker.commands <- cmd:
	case <-h.worker.done:
		return commandResult{}, fmt.Errorf("device %s: %w", h.id, ErrStopped)
	case <-ctx.Done():
		return commandResult{}, ctx.Err()
	case <-timer.C:
		return commandResult{}, fmt.Errorf("device %s: %s: %w", h.id, cmd.kind.opName(), ErrTimeout)
	}

	select {
	case res := <-cmd.reply:
		return res, replyError(h.id, cmd.kind.opName(), res)
	case <-h.worker.done:
		// The worker answers queued commands before closing done, so a
		// reply may still be sitting in the slot. A command that ran and
		// failed is an operation result, not a stopped thread.
		select {
		case res := <-cmd.reply:
			return res, replyError(h.id, cmd.kind.opName(), res)
		default:
			return commandResult{}, fmt.Errorf("device %s: %w", h.id, ErrStopped)
		}
	case <-ctx.Done():
		return commandResult{}, ctx.Err()
	case <-timer.C:
		return commandResult{}, fmt.Errorf("device %s: %s: %w", h.id, cmd.kind.opName(), ErrTimeout)
	}
}

// replyError classifies a worker reply into the error the caller sees.
// Device-level failures become OperationError; a reply the worker stamped
// with ErrStopped keeps that identity.
func replyError(id protocol.DeviceID, op string, res commandResult) error {
	if res.err == nil {
		return nil
	}
	if errors.Is(res.err, ErrStopped) {
		return fmt.Errorf("device %s: %w", id, ErrStopped)
	}
	return &OperationError{Device: id, Op: op, Err: res.err}
}

func unsupported(id protocol.DeviceID, detail string) error {
	return fmt.Errorf("device %s: %s: %w", id, detail, ErrUnsupportedOperation)
}

// SetDigitalOutput sets a digital output pin (1-based).
func (c *Controller) SetDigitalOutput(ctx context.Context, id protocol.DeviceID, pin int, on bool) error {
	h, err := c.handle(id)
	if err != nil {
		return err
	}
	if !h.model.Has(protocol.CapabilityDigitalIO) || !h.model.ValidPin(pin) {
		return unsupported(id, fmt.Sprintf("digital output pin %d", pin))
	}
	cmd := newCommand(cmdWriteDigital)
	cmd.pin, cmd.on = pin, on
	_, err = c.dispatch(ctx, h, cmd)
	return err
}

// SetAnalogOutput sets an analog output pin (1-based, 12-bit value).
func (c *Controller) SetAnalogOutput(ctx context.Context, id protocol.DeviceID, pin int, value uint32) error {
	h, err := c.handle(id)
	if err != nil {
		return err
	}
	if !h.model.Has(protocol.CapabilityAnalogOut) || !h.model.ValidPin(pin) {
		return unsupported(id, fmt.Sprintf("analog output pin %d", pin))
	}
	cmd := newCommand(cmdWriteAnalog)
	cmd.pin, cmd.value = pin, value
	_, err = c.dispatch(ctx, h, cmd)
	return err
}

// SetPWMDuty sets the duty cycle of a PWM channel (12-bit value).
func (c *Controller) SetPWMDuty(ctx context.Context, id protocol.DeviceID, channel int, duty uint32) error {
	h, err := c.handle(id)
	if err != nil {
		return err
	}
	if !h.model.Has(protocol.CapabilityPWM) || !h.model.ValidPWMChannel(channel) {
		return unsupported(id, fmt.Sprintf("pwm channel %d", channel))
	}
	cmd := newCommand(cmdSetPWM)
	cmd.channel, cmd.value = channel, duty
	_, err = c.dispatch(ctx, h, cmd)
	return err
}

// ConfigureEncoder applies an encoder configuration.
func (c *Controller) ConfigureEncoder(ctx context.Context, id protocol.DeviceID, cfg protocol.EncoderConfig) error {
	h, err := c.handle(id)
	if err != nil {
		return err
	}
	if !h.model.Has(protocol.CapabilityEncoders) || !h.model.ValidEncoder(cfg.Index) {
		return unsupported(id, fmt.Sprintf("encoder %d", cfg.Index))
	}
	if !h.model.ValidPin(cfg.PinA) || !h.model.ValidPin(cfg.PinB) {
		return unsupported(id, fmt.Sprintf("encoder pins %d/%d", cfg.PinA, cfg.PinB))
	}
	cmd := newCommand(cmdConfigureEncoder)
	cmd.encCfg = cfg
	_, err = c.dispatch(ctx, h, cmd)
	return err
}

// ResetDigitalCounter zeroes the digital counter on a pin (1-based).
func (c *Controller) ResetDigitalCounter(ctx context.Context, id protocol.DeviceID, pin int) error {
	h, err := c.handle(id)
	if err != nil {
		return err
	}
	if !h.model.Has(protocol.CapabilityCounters) || !h.model.ValidPin(pin) {
		return unsupported(id, fmt.Sprintf("counter pin %d", pin))
	}
	cmd := newCommand(cmdResetCounter)
	cmd.pin = pin
	_, err = c.dispatch(ctx, h, cmd)
	return err
}

// ReadDigitalInput reads a digital input pin through the device (1-based).
// For a lock-free read of the last known value use GetState instead.
func (c *Controller) ReadDigitalInput(ctx context.Context, id protocol.DeviceID, pin int) (bool, error) {
	h, err := c.handle(id)
	if err != nil {
		return false, err
	}
	if !h.model.Has(protocol.CapabilityDigitalIO) || !h.model.ValidPin(pin) {
		return false, unsupported(id, fmt.Sprintf("digital input pin %d", pin))
	}
	cmd := newCommand(cmdReadDigital)
	cmd.pin = pin
	res, err := c.dispatch(ctx, h, cmd)
	return res.boolVal, err
}

// ReadAnalogInput reads an analog input pin through the device (1-based).
func (c *Controller) ReadAnalogInput(ctx context.Context, id protocol.DeviceID, pin int) (uint32, error) {
	h, err := c.handle(id)
	if err != nil {
		return 0, err
	}
	if !h.model.Has(protocol.CapabilityAnalogInput) || !h.model.ValidPin(pin) {
		return 0, unsupported(id, fmt.Sprintf("analog input pin %d", pin))
	}
	cmd := newCommand(cmdReadAnalog)
	cmd.pin = pin
	res, err := c.dispatch(ctx, h, cmd)
	return res.uintVal, err
}

// ReadEncoder reads the current count of one encoder through the device.
func (c *Controller) ReadEncoder(ctx context.Context, id protocol.DeviceID, index int) (int32, error) {
	h, err := c.handle(id)
	if err != nil {
		return 0, err
	}
	if !h.model.Has(protocol.CapabilityEncoders) || !h.model.ValidEncoder(index) {
		return 0, unsupported(id, fmt.Sprintf("encoder %d", index))
	}
	cmd := newCommand(cmdReadEncoder)
	cmd.index = index
	res, err := c.dispatch(ctx, h, cmd)
	return res.intVal, err
}

// SendRawRequest sends a passthrough request to the device and returns the
// raw response.
func (c *Controller) SendRawRequest(ctx context.Context, id protocol.DeviceID, req protocol.RawRequest) ([]byte, error) {
	h, err := c.handle(id)
	if err != nil {
		return nil, err
	}
	if !h.model.Has(protocol.CapabilityRaw) {
		return nil, unsupported(id, "raw request")
	}
	cmd := newCommand(cmdRaw)
	cmd.rawReq = req
	res, err := c.dispatch(ctx, h, cmd)
	return res.raw, err
}

// PauseThread suspends periodic refresh for a device. Commands are still
// served while paused.
func (c *Controller) PauseThread(ctx context.Context, id protocol.DeviceID) error {
	h, err := c.handle(id)
	if err != nil {
		return err
	}
	_, err = c.dispatch(ctx, h, newCommand(cmdPause))
	return err
}

// ResumeThread re-enables periodic refresh for a paused or errored device
// and re-arms its retry budget.
func (c *Controller) ResumeThread(ctx context.Context, id protocol.DeviceID) error {
	h, err := c.handle(id)
	if err != nil {
		return err
	}
	_, err = c.dispatch(ctx, h, newCommand(cmdResume))
	return err
}

// GetState returns the latest published snapshot for a device. It never
// blocks and never touches the device.
func (c *Controller) GetState(id protocol.DeviceID) (Snapshot, error) {
	c.mu.Lock()
	h, ok := c.threads[id]
	c.mu.Unlock()
	if !ok {
		return Snapshot{}, fmt.Errorf("device %s: %w", id, ErrNotFound)
	}
	return h.cell.Load(), nil
}

// GetStatus returns the current thread status for a device.
func (c *Controller) GetStatus(id protocol.DeviceID) (ThreadStatus, error) {
	snap, err := c.GetState(id)
	if err != nil {
		return "", err
	}
	return snap.Status, nil
}

// IsThreadRunning reports whether a thread exists for the device.
func (c *Controller) IsThreadRunning(id protocol.DeviceID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.threads[id]
	return ok
}

// ListActiveThreads returns the devices with a directory entry, including
// ones still starting.
func (c *Controller) ListActiveThreads() []protocol.DeviceID {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]protocol.DeviceID, 0, len(c.threads))
	for id := range c.threads {
		ids = append(ids, id)
	}
	return ids
}

// CreateStateObserver registers a new observer. Events matching the filter
// are delivered on the subscription channel; a slow subscriber loses
// events rather than slowing any device down.
func (c *Controller) CreateStateObserver(filter ObserverFilter) (*Subscription, error) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}
	sub := c.observers.subscribe(filter)
	c.logger.Debug("state observer registered", "observer", sub.ID())
	return sub, nil
}

// RemoveStateObserver unregisters an observer and closes its channel.
func (c *Controller) RemoveStateObserver(id uuid.UUID) error {
	if !c.observers.unsubscribe(id) {
		return fmt.Errorf("observer %s: %w", id, ErrNotFound)
	}
	return nil
}

// DiscoverUSB enumerates reachable USB devices.
func (c *Controller) DiscoverUSB(ctx context.Context) ([]protocol.DeviceID, error) {
	if c.discover == nil {
		return nil, nil
	}
	return c.discover.EnumerateUSB(ctx)
}

// DiscoverNetwork enumerates network devices, returning whatever answered
// within the timeout.
func (c *Controller) DiscoverNetwork(ctx context.Context, timeout time.Duration) ([]protocol.DeviceID, error) {
	if c.discover == nil {
		return nil, nil
	}
	return c.discover.EnumerateNetwork(ctx, timeout)
}
