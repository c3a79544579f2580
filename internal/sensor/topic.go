package sensor

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/tidwall/gjson"

	"github.com/nerrad567/pipresencemon/internal/infrastructure/mqtt"
)

// ErrNoReading is returned by a TopicReader before its first message.
var ErrNoReading = errors.New("no sensor reading received yet")

// ErrUnrecognisedPayload is returned for payloads ParseLevel cannot interpret.
var ErrUnrecognisedPayload = errors.New("unrecognised sensor payload")

// jsonLevelFields are tried in order on JSON payloads.
var jsonLevelFields = []string{"occupancy", "presence", "motion", "state", "value"}

// Subscriber is the part of the MQTT client the topic driver needs.
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
}

// TopicReader follows a sensor published on an MQTT topic, for example a
// zigbee2mqtt occupancy sensor. Every pin reads the latest level; retained
// messages give a value immediately after subscribing.
type TopicReader struct {
	sub    Subscriber
	topic  string
	logger Logger

	level   atomic.Bool
	seen    atomic.Bool
	lastErr atomic.Pointer[error]
}

// NewTopicReader subscribes to topic and returns the driver.
func NewTopicReader(sub Subscriber, topic string, qos byte, logger Logger) (*TopicReader, error) {
	if logger == nil {
		logger = noopLogger{}
	}
	r := &TopicReader{sub: sub, topic: topic, logger: logger}
	if err := sub.Subscribe(topic, qos, r.handle); err != nil {
		return nil, fmt.Errorf("subscribing to sensor topic %s: %w", topic, err)
	}
	return r, nil
}

// ReadPin returns the last level received on the topic.
func (r *TopicReader) ReadPin(pin int) (bool, error) {
	if !ValidPin(pin) {
		return false, fmt.Errorf("%w: %d", ErrInvalidPin, pin)
	}
	if errp := r.lastErr.Load(); errp != nil {
		return false, *errp
	}
	if !r.seen.Load() {
		return false, ErrNoReading
	}
	return r.level.Load(), nil
}

// Close unsubscribes from the topic.
func (r *TopicReader) Close() error {
	return r.sub.Unsubscribe(r.topic)
}

func (r *TopicReader) handle(topic string, payload []byte) error {
	level, err := ParseLevel(payload)
	if err != nil {
		err = fmt.Errorf("topic %s: %w", topic, err)
		r.lastErr.Store(&err)
		return err
	}
	r.lastErr.Store(nil)
	r.seen.Store(true)
	if old := r.level.Swap(level); old != level {
		r.logger.Debug("mqtt sensor level changed", "topic", topic, "high", level)
	}
	return nil
}

// ParseLevel interprets a sensor payload. Plain payloads accept 1/0,
// true/false, on/off and occupied/clear in any case. JSON objects are
// searched for the first of occupancy, presence, motion, state or value.
func ParseLevel(payload []byte) (bool, error) {
	s := strings.TrimSpace(string(payload))
	if s == "" {
		return false, ErrEmptyReading
	}

	if strings.HasPrefix(s, "{") {
		if !gjson.Valid(s) {
			return false, fmt.Errorf("%w: invalid JSON", ErrUnrecognisedPayload)
		}
		for _, field := range jsonLevelFields {
			v := gjson.Get(s, field)
			if !v.Exists() {
				continue
			}
			switch v.Type {
			case gjson.True, gjson.False:
				return v.Bool(), nil
			case gjson.Number:
				return v.Int() != 0, nil
			case gjson.String:
				return parseWord(v.String())
			}
		}
		return false, fmt.Errorf("%w: no level field in %s", ErrUnrecognisedPayload, s)
	}

	return parseWord(s)
}

func parseWord(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "on", "occupied", "detected":
		return true, nil
	case "0", "false", "off", "clear", "vacant":
		return false, nil
	}
	return false, fmt.Errorf("%w: %q", ErrUnrecognisedPayload, s)
}
