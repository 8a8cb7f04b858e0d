package mqtt

import "fmt"

// Topic prefixes for the iohub MQTT surface.
//
// Device topics use the flat scheme: iohub/{category}/{device}/{detail}
const (
	// TopicPrefix is the base for all iohub topics.
	TopicPrefix = "iohub"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "iohub/system"
)

// Topics provides builders for iohub MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
//	topics := mqtt.Topics{}
//	stateTopic := topics.DeviceState("USB-24714", "digital_input/5")
//	// Returns: "iohub/state/USB-24714/digital_input/5"
type Topics struct{}

// DeviceState returns the topic for one state field of one device. The
// field is a slash path such as "digital_input/5" or "pwm_duty/0".
//
// Example: iohub/state/USB-24714/analog_input/41
func (Topics) DeviceState(deviceID, field string) string {
	return fmt.Sprintf("%s/state/%s/%s", TopicPrefix, deviceID, field)
}

// DeviceStatus returns the topic for a device thread's lifecycle status.
//
// Example: iohub/status/USB-24714
func (Topics) DeviceStatus(deviceID string) string {
	return fmt.Sprintf("%s/status/%s", TopicPrefix, deviceID)
}

// DeviceError returns the topic for device error reports.
//
// Example: iohub/error/USB-24714
func (Topics) DeviceError(deviceID string) string {
	return fmt.Sprintf("%s/error/%s", TopicPrefix, deviceID)
}

// SystemStatus returns the system status topic. The daemon publishes its
// online/offline payloads here, including the Last Will message.
//
// Example: iohub/system/status
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixSystem)
}

// DeviceCommand returns the inbound command topic for one writable field
// of one device. The field is a slash path such as "digital_output/3".
//
// Example: iohub/command/USB-24714/digital_output/3
func (Topics) DeviceCommand(deviceID, field string) string {
	return fmt.Sprintf("%s/command/%s/%s", TopicPrefix, deviceID, field)
}

// AllCommands returns the pattern the daemon subscribes to for inbound
// writes.
//
// Pattern: iohub/command/#
func (Topics) AllCommands() string {
	return fmt.Sprintf("%s/command/#", TopicPrefix)
}
