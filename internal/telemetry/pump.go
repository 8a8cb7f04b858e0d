package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/hallgrove/iohub/internal/controller"
	"github.com/hallgrove/iohub/internal/infrastructure/mqtt"
)

// Pump operation constants.
const (
	// defaultQoS is the MQTT QoS level for state publications.
	defaultQoS byte = 1

	// recordTimeout bounds each history insert so a slow disk cannot
	// stall the pump.
	recordTimeout = 2 * time.Second
)

// Publisher sends messages to the MQTT broker.
// This allows mocking in tests and flexibility in implementation.
type Publisher interface {
	// Publish sends a message to a topic.
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// SampleWriter records telemetry samples in the time-series database.
// Satisfied by *influxdb.Client. Writes are fire-and-forget.
type SampleWriter interface {
	WriteAnalogSample(deviceID, direction string, pin int, value uint32)
	WriteEncoderSample(deviceID string, index int, count int32)
	WritePWMSample(deviceID string, channel int, duty uint32)
	WriteThreadStatus(deviceID, status string)
}

// Recorder appends events to the local history log.
// Satisfied by *history.SQLiteRepository.
type Recorder interface {
	Record(ctx context.Context, event controller.StateChangeEvent) error
}

// Logger is the logging interface used by the pump.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// Config holds the sinks the pump fans events out to. Every sink is
// optional; a nil sink is skipped.
type Config struct {
	// MQTT publishes state changes onto the broker.
	MQTT Publisher

	// TSDB records numeric samples in the time-series database.
	TSDB SampleWriter

	// History appends events to the local audit log.
	History Recorder

	// Logger receives pump diagnostics. Defaults to a no-op logger.
	Logger Logger
}

// Pump consumes state change events from a controller observer and fans
// them out to MQTT, the time-series database and the history log.
//
// Sink failures are logged and never stop the pump; each event is
// delivered to every remaining sink independently.
type Pump struct {
	events  <-chan controller.StateChangeEvent
	mqtt    Publisher
	tsdb    SampleWriter
	history Recorder
	logger  Logger
	topics  mqtt.Topics

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewPump creates a pump reading from the given event channel.
//
// The channel is normally a Subscription's Events() channel. The pump
// exits when the channel is closed or Stop is called.
func NewPump(events <-chan controller.StateChangeEvent, cfg Config) *Pump {
	logger := cfg.Logger
	if logger == nil {
		logger = noopLogger{}
	}
	return &Pump{
		events:  events,
		mqtt:    cfg.MQTT,
		tsdb:    cfg.TSDB,
		history: cfg.History,
		logger:  logger,
		done:    make(chan struct{}),
	}
}

// Start launches the pump goroutine.
func (p *Pump) Start() {
	p.wg.Add(1)
	go p.run()
}

// Stop terminates the pump and waits for the in-flight event to finish.
// Safe to call more than once.
func (p *Pump) Stop() {
	p.stopOnce.Do(func() {
		close(p.done)
	})
	p.wg.Wait()
}

func (p *Pump) run() {
	defer p.wg.Done()
	for {
		select {
		case <-p.done:
			return
		case event, ok := <-p.events:
			if !ok {
				return
			}
			p.handle(event)
		}
	}
}

func (p *Pump) handle(event controller.StateChangeEvent) {
	p.publishMQTT(event)
	p.writeSample(event)
	p.record(event)
}

// publishMQTT publishes the event as JSON on its per-type topic.
// Status events are retained so late subscribers see the current status.
func (p *Pump) publishMQTT(event controller.StateChangeEvent) {
	if p.mqtt == nil {
		return
	}

	payload, err := json.Marshal(event)
	if err != nil {
		p.logger.Warn("failed to encode event", "device", event.Device, "type", event.Type, "error", err)
		return
	}

	var topic string
	retained := false

	switch event.Type {
	case controller.EventStatus:
		topic = p.topics.DeviceStatus(string(event.Device))
		retained = true
	case controller.EventError:
		topic = p.topics.DeviceError(string(event.Device))
	default:
		topic = p.topics.DeviceState(string(event.Device), stateField(event))
	}

	if err := p.mqtt.Publish(topic, payload, defaultQoS, retained); err != nil {
		p.logger.Warn("mqtt publish failed", "topic", topic, "error", err)
	}
}

// stateField builds the per-type topic suffix, e.g. "digital_input/5".
func stateField(event controller.StateChangeEvent) string {
	switch event.Type {
	case controller.EventDigitalInput, controller.EventDigitalOutput,
		controller.EventAnalogInput, controller.EventAnalogOutput:
		return fmt.Sprintf("%s/%d", event.Type, event.Pin)
	case controller.EventEncoder:
		return fmt.Sprintf("%s/%d", event.Type, event.Index)
	case controller.EventPWMDuty:
		return fmt.Sprintf("%s/%d", event.Type, event.Channel)
	default:
		return string(event.Type)
	}
}

// writeSample records numeric events in the time-series database.
// Digital and full-update events carry no numeric sample.
func (p *Pump) writeSample(event controller.StateChangeEvent) {
	if p.tsdb == nil {
		return
	}

	device := string(event.Device)

	switch event.Type {
	case controller.EventAnalogInput:
		p.tsdb.WriteAnalogSample(device, "input", event.Pin, event.Value)
	case controller.EventAnalogOutput:
		p.tsdb.WriteAnalogSample(device, "output", event.Pin, event.Value)
	case controller.EventEncoder:
		p.tsdb.WriteEncoderSample(device, event.Index, event.Count)
	case controller.EventPWMDuty:
		p.tsdb.WritePWMSample(device, event.Channel, event.Value)
	case controller.EventStatus:
		p.tsdb.WriteThreadStatus(device, string(event.Status))
	}
}

func (p *Pump) record(event controller.StateChangeEvent) {
	if p.history == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()

	if err := p.history.Record(ctx, event); err != nil {
		p.logger.Warn("history record failed",
			"device", event.Device,
			"type", event.Type,
			"revision", strconv.FormatUint(event.Revision, 10),
			"error", err)
	}
}
