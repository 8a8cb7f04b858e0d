// Package mqtt provides MQTT client connectivity for iohub.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support, restored on reconnect
//   - Last Will and Testament (LWT) for offline detection
//   - Connection health monitoring
//
// # Architecture
//
// iohub publishes device state changes and thread status onto MQTT so
// that dashboards, automations and other services can follow the IO
// devices without linking against this process. The same connection
// carries the inbound command topics through which those services write
// outputs back.
//
//	iohub → iohub/state/..., iohub/status/... → consumers
//	consumers → iohub/command/... → iohub
//
// # Security Considerations
//
//   - TLS is required for production deployments (cfg.Broker.TLS=true)
//   - Credentials are validated against broker ACL
//   - Anonymous access is only for local development
//   - Message payloads are not encrypted beyond TLS transport
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	// Accept output writes from other services
//	err = client.Subscribe(mqtt.Topics{}.AllCommands(), 1,
//	    func(topic string, payload []byte) error {
//	        log.Printf("command: %s = %s", topic, payload)
//	        return nil
//	    })
package mqtt
