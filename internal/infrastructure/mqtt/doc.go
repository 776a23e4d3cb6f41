// Package mqtt provides MQTT client connectivity for DALI Core.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support
//   - Last Will and Testament (LWT) for offline detection
//   - Connection health monitoring
//
// # Architecture
//
// The transceiver exposes two MQTT surfaces over one connection: the
// per-light command/state topics consumed by Home Assistant, and the
// raw bus topics carrying every decoded telegram.
//
//	Home Assistant ↔ MQTT Broker ↔ DALI Core ↔ DALI bus
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	topics := mqtt.Topics{}
//	err = client.Subscribe(topics.LightSet("hall"), 1,
//	    func(topic string, payload []byte) error {
//	        // "ON" / "OFF"
//	        return nil
//	    })
//
//	client.PublishRetained(topics.LightState("hall"), []byte("ON"))
package mqtt
