package mqtt

import "fmt"

const sensorComponent = "sensor"

// Topics builds the topic names for one deployment.
//
//	<discovery>/sensor/<entry_id>/<unique_id>/config   retained discovery document
//	<base>/<entry_id>/<unique_id>/state                state in hours, two decimals
//	<base>/<entry_id>/<unique_id>/attributes           extra attributes as JSON
//	<base>/<entry_id>/availability                     online | offline
//	<base>/status                                      service status and last will
type Topics struct {
	DiscoveryPrefix string
	Base            string
}

func NewTopics(discoveryPrefix, base string) Topics {
	return Topics{DiscoveryPrefix: discoveryPrefix, Base: base}
}

// Discovery uses the entry ID as node ID so entries don't share object IDs.
func (t Topics) Discovery(entryID, uniqueID string) string {
	return fmt.Sprintf("%s/%s/%s/%s/config", t.DiscoveryPrefix, sensorComponent, entryID, uniqueID)
}

func (t Topics) State(entryID, uniqueID string) string {
	return fmt.Sprintf("%s/%s/%s/state", t.Base, entryID, uniqueID)
}

func (t Topics) Attributes(entryID, uniqueID string) string {
	return fmt.Sprintf("%s/%s/%s/attributes", t.Base, entryID, uniqueID)
}

func (t Topics) Availability(entryID string) string {
	return fmt.Sprintf("%s/%s/availability", t.Base, entryID)
}

func (t Topics) Status() string {
	return t.Base + "/status"
}
