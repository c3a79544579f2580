// Package sensor reads the PIR motion sensor attached to a GPIO input.
//
// Drivers:
//   - FileReader reads /sys/class/gpio/gpio<N>/value (or any templated path)
//     on every call.
//   - WatchedFile serves every pin from a single mock file kept current with
//     fsnotify, for running the daemon on a workstation.
//   - TopicReader follows a sensor published over MQTT.
//
// All satisfy Reader, which is all the monitor depends on.
package sensor
