package influxdb

import (
	"strconv"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WriteAnalogSample records one analog input or output reading.
//
// The write is non-blocking; data is batched and sent asynchronously.
//
// Parameters:
//   - deviceID: Device identifier (e.g., "USB-24714")
//   - direction: "input" or "output"
//   - pin: 1-based pin number
//   - value: Raw 12-bit reading
//
// Example:
//
//	client.WriteAnalogSample("USB-24714", "input", 41, 2048)
func (c *Client) WriteAnalogSample(deviceID, direction string, pin int, value uint32) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"analog",
		map[string]string{
			"device":    deviceID,
			"direction": direction,
			"pin":       strconv.Itoa(pin),
		},
		map[string]interface{}{
			"value": int64(value),
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteEncoderSample records one encoder count.
func (c *Client) WriteEncoderSample(deviceID string, index int, count int32) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"encoder",
		map[string]string{
			"device":  deviceID,
			"encoder": strconv.Itoa(index),
		},
		map[string]interface{}{
			"count": int64(count),
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WritePWMSample records one PWM duty cycle setting.
func (c *Client) WritePWMSample(deviceID string, channel int, duty uint32) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"pwm",
		map[string]string{
			"device":  deviceID,
			"channel": strconv.Itoa(channel),
		},
		map[string]interface{}{
			"duty": int64(duty),
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteThreadStatus records a device thread status transition. The status
// is stored as a tag so dashboards can count transitions per status.
func (c *Client) WriteThreadStatus(deviceID, status string) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"thread_status",
		map[string]string{
			"device": deviceID,
			"status": status,
		},
		map[string]interface{}{
			"count": int64(1),
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WritePoint writes a custom point with full control over tags and fields.
//
// Use this for custom measurements that don't fit the helper methods.
//
// Parameters:
//   - measurement: The measurement name (table)
//   - tags: Key-value pairs for indexing (low cardinality)
//   - fields: Key-value pairs for the actual data
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, time.Now())
	c.writeAPI.WritePoint(point)
}

// WritePointWithTime writes a custom point with a specific timestamp.
//
// Use this when the timestamp is not "now" (e.g., events replayed from a
// backlog).
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]interface{}, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, timestamp)
	c.writeAPI.WritePoint(point)
}
