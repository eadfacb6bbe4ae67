// Package mqtt provides MQTT client connectivity for IntelliFlow Signal Core.
//
// This package manages:
//   - Connection to Mosquitto broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support
//   - Last Will and Testament (LWT) for offline detection
//   - Connection health monitoring
//
// # Architecture
//
// IntelliFlow uses MQTT as the message bus connecting the control core to
// its external collaborators: the detection pipeline publishes per-lane
// vehicle counts, the core publishes signal head commands and the retained
// intersection state snapshot, and the hardware bridge turns commands into
// serial writes.
//
//	Detection pipeline → MQTT Broker → Signal Core → MQTT Broker → Hardware bridge
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
//	// Subscribe to all lane counts
//	err = client.Subscribe(mqtt.Topics{}.AllDetectionCounts(), 1,
//	    func(topic string, payload []byte) error {
//	        log.Printf("Received: %s = %s", topic, payload)
//	        return nil
//	    })
//
//	// Publish a signal command
//	topic := mqtt.Topics{}.SignalCommand("North")
//	client.Publish(topic, []byte(`{"color":"green"}`), 1, false)
package mqtt
