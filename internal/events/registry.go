package events

import "fmt"

var allowedEvents = map[string]struct{}{
	// world load lifecycle
	"world.load.requested": {},
	"world.load.started":   {},
	"world.load.completed": {},
	"world.load.failed":    {},
	"world.load.rejected":  {},
	"world.restored":       {},

	// per-object progress
	"world.object.loaded":   {},
	"world.object.attached": {},

	// triggers
	"trigger.received": {},
	"trigger.invalid":  {},

	// operator
	"operator.load":   {},
	"operator.reload": {},

	// system
	"system.startup":  {},
	"system.shutdown": {},
	"system.error":    {},
}

// Validate rejects event names that are not registered.
func Validate(event string) error {
	if _, ok := allowedEvents[event]; !ok {
		return fmt.Errorf("unknown event: %s", event)
	}
	return nil
}
