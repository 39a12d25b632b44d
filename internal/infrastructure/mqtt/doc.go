// Package mqtt provides MQTT client connectivity for the Homeworks client.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support
//   - Last Will and Testament (LWT) on the controller's health topic
//   - Connection health monitoring
//
// # Architecture
//
// The Homeworks client publishes derived state and keypad events to MQTT
// and accepts raw controller commands over it. The broker decouples
// consumers (dashboards, automations) from the controller protocol.
//
//	Homeworks Processor ↔ homeworks client ↔ MQTT Broker ↔ Consumers
//
// # Security Considerations
//
//   - Use an ssl:// broker URL for production deployments
//   - Credentials are validated against broker ACL
//   - Anonymous access is only for local development
//   - Message payloads are not encrypted beyond TLS transport
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT, cfg.GetMQTTClientID(), cfg.Controller.ID)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	// Subscribe to all relay state updates
//	err = client.Subscribe(mqtt.Topics{}.AllCCOStates(), 1,
//	    func(topic string, payload []byte) error {
//	        log.Printf("Received: %s = %s", topic, payload)
//	        return nil
//	    })
//
//	// Publish a raw controller command
//	topic := mqtt.Topics{}.Command("homeworks-01")
//	client.Publish(topic, []byte("RKLS, [02:06:03]"), 1, false)
package mqtt
