// Package mqtt publishes Colour Lab experiment events to an MQTT broker
// and receives operator commands from it.
//
// Topic layout:
//
//	colourlab/system/status                  retained online/offline, LWT
//	colourlab/experiment/{id}/status         retained experiment snapshot
//	colourlab/experiment/{id}/action         action log records
//	colourlab/experiment/{id}/iteration      per-iteration progress
//	colourlab/experiment/{id}/result         final outcome
//	colourlab/command/cancel                 cancel requests (subscribed)
//
// # Usage
//
//	client, err := mqtt.Connect(ctx, cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.PublishJSON(mqtt.Topics{}.Experiment(id, mqtt.KindStatus), snap, true)
//
// MQTT is optional; the service runs without a broker when mqtt.enabled
// is false.
package mqtt
