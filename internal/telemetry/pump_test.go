package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hallgrove/iohub/internal/controller"
)

// mockPublisher records published messages.
type mockPublisher struct {
	mu       sync.Mutex
	messages []publishedMessage
	err      error
}

type publishedMessage struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

func (m *mockPublisher) Publish(topic string, payload []byte, qos byte, retained bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, publishedMessage{topic, payload, qos, retained})
	return m.err
}

func (m *mockPublisher) published() []publishedMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]publishedMessage, len(m.messages))
	copy(out, m.messages)
	return out
}

// mockWriter counts sample writes per method.
type mockWriter struct {
	mu      sync.Mutex
	analog  []string // direction values, in order
	encoder int
	pwm     int
	status  []string
}

func (m *mockWriter) WriteAnalogSample(deviceID, direction string, pin int, value uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.analog = append(m.analog, direction)
}

func (m *mockWriter) WriteEncoderSample(deviceID string, index int, count int32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.encoder++
}

func (m *mockWriter) WritePWMSample(deviceID string, channel int, duty uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pwm++
}

func (m *mockWriter) WriteThreadStatus(deviceID, status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status = append(m.status, status)
}

func (m *mockWriter) counts() (analog, encoder, pwm, status int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.analog), m.encoder, m.pwm, len(m.status)
}

// mockRecorder captures recorded events.
type mockRecorder struct {
	mu     sync.Mutex
	events []controller.StateChangeEvent
	err    error
}

func (m *mockRecorder) Record(_ context.Context, event controller.StateChangeEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return m.err
}

func (m *mockRecorder) recorded() []controller.StateChangeEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]controller.StateChangeEvent, len(m.events))
	copy(out, m.events)
	return out
}

// waitFor polls until cond returns true or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestPump_PublishesStateEvent(t *testing.T) {
	events := make(chan controller.StateChangeEvent, 4)
	pub := &mockPublisher{}

	pump := NewPump(events, Config{MQTT: pub})
	pump.Start()
	defer pump.Stop()

	event := controller.StateChangeEvent{
		Device:   "USB-24714",
		Type:     controller.EventDigitalInput,
		Pin:      5,
		Bool:     true,
		Revision: 7,
		At:       time.Now(),
	}
	events <- event

	waitFor(t, "publish", func() bool { return len(pub.published()) == 1 })

	msg := pub.published()[0]
	if msg.topic != "iohub/state/USB-24714/digital_input/5" {
		t.Errorf("topic = %q, want %q", msg.topic, "iohub/state/USB-24714/digital_input/5")
	}
	if msg.retained {
		t.Error("state events should not be retained")
	}

	var decoded controller.StateChangeEvent
	if err := json.Unmarshal(msg.payload, &decoded); err != nil {
		t.Fatalf("payload is not valid JSON: %v", err)
	}
	if decoded.Device != event.Device || decoded.Pin != 5 || !decoded.Bool {
		t.Errorf("decoded event = %+v, want %+v", decoded, event)
	}
	if decoded.Revision != 7 {
		t.Errorf("decoded revision = %d, want 7", decoded.Revision)
	}
}

func TestPump_StatusAndErrorTopics(t *testing.T) {
	events := make(chan controller.StateChangeEvent, 4)
	pub := &mockPublisher{}
	writer := &mockWriter{}

	pump := NewPump(events, Config{MQTT: pub, TSDB: writer})
	pump.Start()
	defer pump.Stop()

	events <- controller.StateChangeEvent{
		Device: "USB-1",
		Type:   controller.EventStatus,
		Status: controller.StatusRunning,
	}
	events <- controller.StateChangeEvent{
		Device:  "USB-1",
		Type:    controller.EventError,
		Message: "read failed",
	}

	waitFor(t, "two publishes", func() bool { return len(pub.published()) == 2 })

	msgs := pub.published()
	if msgs[0].topic != "iohub/status/USB-1" {
		t.Errorf("status topic = %q, want %q", msgs[0].topic, "iohub/status/USB-1")
	}
	if !msgs[0].retained {
		t.Error("status events should be retained")
	}
	if msgs[1].topic != "iohub/error/USB-1" {
		t.Errorf("error topic = %q, want %q", msgs[1].topic, "iohub/error/USB-1")
	}
	if msgs[1].retained {
		t.Error("error events should not be retained")
	}

	waitFor(t, "status sample", func() bool {
		_, _, _, status := writer.counts()
		return status == 1
	})
}

func TestPump_WritesSamples(t *testing.T) {
	events := make(chan controller.StateChangeEvent, 8)
	writer := &mockWriter{}

	pump := NewPump(events, Config{TSDB: writer})
	pump.Start()
	defer pump.Stop()

	events <- controller.StateChangeEvent{Device: "d", Type: controller.EventAnalogInput, Pin: 41, Value: 2048}
	events <- controller.StateChangeEvent{Device: "d", Type: controller.EventAnalogOutput, Pin: 43, Value: 100}
	events <- controller.StateChangeEvent{Device: "d", Type: controller.EventEncoder, Index: 1, Count: -5}
	events <- controller.StateChangeEvent{Device: "d", Type: controller.EventPWMDuty, Channel: 0, Value: 4095}
	// Digital events carry no numeric sample
	events <- controller.StateChangeEvent{Device: "d", Type: controller.EventDigitalInput, Pin: 1, Bool: true}

	waitFor(t, "samples", func() bool {
		analog, encoder, pwm, _ := writer.counts()
		return analog == 2 && encoder == 1 && pwm == 1
	})

	writer.mu.Lock()
	defer writer.mu.Unlock()
	if writer.analog[0] != "input" || writer.analog[1] != "output" {
		t.Errorf("analog directions = %v, want [input output]", writer.analog)
	}
}

func TestPump_RecordsHistory(t *testing.T) {
	events := make(chan controller.StateChangeEvent, 4)
	rec := &mockRecorder{}

	pump := NewPump(events, Config{History: rec})
	pump.Start()
	defer pump.Stop()

	events <- controller.StateChangeEvent{Device: "d", Type: controller.EventDigitalInput, Pin: 2, Bool: true}
	events <- controller.StateChangeEvent{Device: "d", Type: controller.EventStatus, Status: controller.StatusRunning}

	waitFor(t, "history records", func() bool { return len(rec.recorded()) == 2 })

	got := rec.recorded()
	if got[0].Type != controller.EventDigitalInput || got[1].Type != controller.EventStatus {
		t.Errorf("recorded types = %v, %v", got[0].Type, got[1].Type)
	}
}

func TestPump_SinkFailureDoesNotStop(t *testing.T) {
	events := make(chan controller.StateChangeEvent, 4)
	pub := &mockPublisher{err: errors.New("broker down")}
	rec := &mockRecorder{}

	pump := NewPump(events, Config{MQTT: pub, History: rec})
	pump.Start()
	defer pump.Stop()

	events <- controller.StateChangeEvent{Device: "d", Type: controller.EventDigitalInput, Pin: 1}
	events <- controller.StateChangeEvent{Device: "d", Type: controller.EventDigitalInput, Pin: 2}

	// Both events still reach the history sink despite publish errors.
	waitFor(t, "history records", func() bool { return len(rec.recorded()) == 2 })
}

func TestPump_NilSinks(t *testing.T) {
	events := make(chan controller.StateChangeEvent, 1)

	pump := NewPump(events, Config{})
	pump.Start()

	events <- controller.StateChangeEvent{Device: "d", Type: controller.EventDigitalInput}
	close(events)

	// Run loop exits on channel close; Stop then returns promptly.
	done := make(chan struct{})
	go func() {
		pump.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop() did not return after channel close")
	}
}

func TestPump_StopIdempotent(t *testing.T) {
	events := make(chan controller.StateChangeEvent)

	pump := NewPump(events, Config{})
	pump.Start()

	pump.Stop()
	pump.Stop()
}

func TestStateField(t *testing.T) {
	tests := []struct {
		name  string
		event controller.StateChangeEvent
		want  string
	}{
		{"digital input", controller.StateChangeEvent{Type: controller.EventDigitalInput, Pin: 5}, "digital_input/5"},
		{"digital output", controller.StateChangeEvent{Type: controller.EventDigitalOutput, Pin: 12}, "digital_output/12"},
		{"analog input", controller.StateChangeEvent{Type: controller.EventAnalogInput, Pin: 41}, "analog_input/41"},
		{"encoder", controller.StateChangeEvent{Type: controller.EventEncoder, Index: 2}, "encoder/2"},
		{"pwm", controller.StateChangeEvent{Type: controller.EventPWMDuty, Channel: 1}, "pwm_duty/1"},
		{"full update", controller.StateChangeEvent{Type: controller.EventFullUpdate}, "full_update"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := stateField(tt.event); got != tt.want {
				t.Errorf("stateField() = %q, want %q", got, tt.want)
			}
		})
	}
}
