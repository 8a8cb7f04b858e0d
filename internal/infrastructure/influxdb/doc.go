// Package influxdb records device samples to InfluxDB v2: analog
// readings, encoder counts, PWM duty cycles and thread status
// transitions.
//
// Writes go through the client library's non-blocking batched write
// API; batch sizes and flush intervals come from config.yaml. Write
// failures surface asynchronously through SetOnError.
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	client.WriteAnalogSample("USB-24714", "input", 41, 2048)
//
// All methods are safe for concurrent use.
package influxdb
