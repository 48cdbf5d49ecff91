// Package notify publishes route lifecycle notifications over MQTT.
//
// An Observer turns engine callbacks into JSON Notification messages on
// topics of the form <prefix>/<modelID>/<routeID>/<event>, where event is
// one of route.started, route.done, route.canceled, route.failed,
// node.started (opt-in), node.suspended, node.completed and node.failed.
// Combine it with the logging and metrics observers through
// api.NewCompositeObserver.
package notify
