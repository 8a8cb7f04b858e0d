package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/hallgrove/iohub/internal/infrastructure/mqtt"
	"github.com/hallgrove/iohub/internal/protocol"
)

// commandTimeout bounds each write dispatched from a command message.
const commandTimeout = 5 * time.Second

// Dispatcher is the slice of the controller the command listener drives.
// Satisfied by *controller.Controller.
type Dispatcher interface {
	SetDigitalOutput(ctx context.Context, id protocol.DeviceID, pin int, on bool) error
	SetAnalogOutput(ctx context.Context, id protocol.DeviceID, pin int, value uint32) error
	SetPWMDuty(ctx context.Context, id protocol.DeviceID, channel int, duty uint32) error
}

// Subscriber is the slice of the MQTT client the listener needs.
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
}

// CommandListener accepts output writes from other MQTT services and
// forwards them to the controller. Topic layout mirrors the state topics
// the pump publishes:
//
//	iohub/command/<device>/digital_output/<pin>   {"value": true}
//	iohub/command/<device>/analog_output/<pin>    {"value": 2048}
//	iohub/command/<device>/pwm_duty/<channel>     {"value": 1500}
//
// Dispatch errors (unknown device, unsupported pin, device fault) are
// returned to the MQTT client, which logs them; a bad command never
// affects other devices.
type CommandListener struct {
	dispatcher Dispatcher
	sub        Subscriber
	logger     Logger
	topic      string
}

// NewCommandListener builds a listener over the whole command topic tree.
func NewCommandListener(d Dispatcher, s Subscriber, logger Logger) *CommandListener {
	if logger == nil {
		logger = noopLogger{}
	}
	return &CommandListener{
		dispatcher: d,
		sub:        s,
		logger:     logger,
		topic:      mqtt.Topics{}.AllCommands(),
	}
}

// Start subscribes to the command topics.
func (l *CommandListener) Start() error {
	return l.sub.Subscribe(l.topic, defaultQoS, l.Handle)
}

// Stop drops the subscription. Messages already in flight may still be
// handled.
func (l *CommandListener) Stop() error {
	return l.sub.Unsubscribe(l.topic)
}

// Handle routes one inbound command message to the controller.
func (l *CommandListener) Handle(topic string, payload []byte) error {
	device, field, index, err := parseCommandTopic(topic)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	switch field {
	case "digital_output":
		var body struct {
			Value bool `json:"value"`
		}
		if err := json.Unmarshal(payload, &body); err != nil {
			return fmt.Errorf("telemetry: command payload on %s: %w", topic, err)
		}
		err = l.dispatcher.SetDigitalOutput(ctx, device, index, body.Value)

	case "analog_output":
		var body struct {
			Value uint32 `json:"value"`
		}
		if err := json.Unmarshal(payload, &body); err != nil {
			return fmt.Errorf("telemetry: command payload on %s: %w", topic, err)
		}
		err = l.dispatcher.SetAnalogOutput(ctx, device, index, body.Value)

	case "pwm_duty":
		var body struct {
			Value uint32 `json:"value"`
		}
		if err := json.Unmarshal(payload, &body); err != nil {
			return fmt.Errorf("telemetry: command payload on %s: %w", topic, err)
		}
		err = l.dispatcher.SetPWMDuty(ctx, device, index, body.Value)

	default:
		return fmt.Errorf("telemetry: unknown command field %q on %s", field, topic)
	}

	if err != nil {
		return err
	}
	l.logger.Debug("command applied", "device", device, "field", field, "index", index)
	return nil
}

// parseCommandTopic splits iohub/command/<device>/<field>/<index>.
func parseCommandTopic(topic string) (protocol.DeviceID, string, int, error) {
	rest, ok := strings.CutPrefix(topic, mqtt.TopicPrefix+"/command/")
	if !ok {
		return "", "", 0, fmt.Errorf("telemetry: not a command topic: %s", topic)
	}

	parts := strings.Split(rest, "/")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" {
		return "", "", 0, fmt.Errorf("telemetry: malformed command topic: %s", topic)
	}

	index, err := strconv.Atoi(parts[2])
	if err != nil {
		return "", "", 0, fmt.Errorf("telemetry: command topic %s: bad index: %w", topic, err)
	}
	return protocol.DeviceID(parts[0]), parts[1], index, nil
}
