// Package mqtt publishes presence state to an MQTT broker.
//
// The daemon is a leaf on a home-automation bus: it announces occupancy
// edges, activity samples and supervisor events so other systems (Home
// Assistant, Node-RED, a wall panel) can react without polling the HTTP API.
// It can also consume a sensor level from the bus when the motion sensor is
// not wired to a local GPIO.
//
// Topic hierarchy, per site:
//
//	pipresencemon/{site}/status                         retained, LWT
//	pipresencemon/{site}/occupancy                      retained
//	pipresencemon/{site}/activity
//	pipresencemon/{site}/commands/{set}/{index}/event
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT, cfg.Site.ID)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.PublishJSON(client.Topics().Occupancy(), transition, client.QoS(), true)
//
// Reconnects use exponential backoff between reconnect.initial_delay and
// reconnect.max_delay. A broker outage never blocks the presence loop:
// publishing happens on the event dispatcher's goroutine.
package mqtt
