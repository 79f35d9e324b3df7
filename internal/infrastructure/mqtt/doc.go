// Package mqtt is the broker link behind the homesync real-time store.
//
// The store's path tree is laid over retained topics under a prefix:
//
//	store path   device_states/uid/home/light-1
//	topic        homesync/device_states/uid/home/light-1
//
// A write is a retained publish, a delete clears the retained message and a
// subscription replays the current value before streaming changes. Retained
// topics give each path last-writer-wins point semantics without a server.
//
// Presence uses Last Will: the client publishes a retained Presence on
// {prefix}/.info/status/{client_id} when it connects and registers the
// offline form as its will. Peers watching the status topics apply a
// departed client's on-disconnect writes.
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	st := store.NewMQTT(client, cfg.MQTT.Broker.ClientID)
package mqtt
