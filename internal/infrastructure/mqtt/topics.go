package mqtt

import (
	"fmt"
	"strings"
)

// TopicPrefix is the root of every topic pipresencemon publishes.
const TopicPrefix = "pipresencemon"

// Topics builds the topic hierarchy for one site:
//
//	pipresencemon/{site}/status                         online/offline (retained, LWT)
//	pipresencemon/{site}/occupancy                      occupancy edges (retained)
//	pipresencemon/{site}/activity                       periodic samples
//	pipresencemon/{site}/commands/{set}/{index}/event   supervisor events
type Topics struct {
	Site string
}

// NewTopics returns topic builders for site. Characters that are special
// in MQTT topic filters are replaced so the site id is always one level.
func NewTopics(site string) Topics {
	r := strings.NewReplacer("/", "_", "+", "_", "#", "_")
	return Topics{Site: r.Replace(site)}
}

func (t Topics) base() string {
	return fmt.Sprintf("%s/%s", TopicPrefix, t.Site)
}

// Status returns the availability topic used for the LWT.
//
// Example: pipresencemon/hallway/status
func (t Topics) Status() string {
	return t.base() + "/status"
}

// Occupancy returns the topic carrying occupancy transitions.
//
// Example: pipresencemon/hallway/occupancy
func (t Topics) Occupancy() string {
	return t.base() + "/occupancy"
}

// Activity returns the topic carrying activity samples.
func (t Topics) Activity() string {
	return t.base() + "/activity"
}

// CommandEvent returns the topic for events of one managed command.
//
// Example: pipresencemon/hallway/commands/occupancy/0/event
func (t Topics) CommandEvent(set string, index int) string {
	return fmt.Sprintf("%s/commands/%s/%d/event", t.base(), set, index)
}

// AllCommandEvents returns a pattern matching every command event of the site.
//
// Pattern: pipresencemon/hallway/commands/+/+/event
func (t Topics) AllCommandEvents() string {
	return t.base() + "/commands/+/+/event"
}

// All returns a pattern matching everything the site publishes.
//
// Pattern: pipresencemon/hallway/#
func (t Topics) All() string {
	return t.base() + "/#"
}
