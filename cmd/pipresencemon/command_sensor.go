package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/pipresencemon/internal/infrastructure/config"
	"github.com/nerrad567/pipresencemon/internal/infrastructure/logging"
	"github.com/nerrad567/pipresencemon/internal/infrastructure/mqtt"
	"github.com/nerrad567/pipresencemon/internal/sensor"
)

func newSensorCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sensor",
		Short: "Sensor diagnostics",
	}
	cmd.AddCommand(newSensorWatchCmd(configPath))
	return cmd
}

// newSensorWatchCmd prints the level of every pin whenever one changes.
// It is the bench tool for finding which input the PIR is wired to.
func newSensorWatchCmd(configPath *string) *cobra.Command {
	var once bool

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print sensor pin levels as they change",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			log := logging.NewWithWriter(cfg.Logging, version, cmd.ErrOrStderr())

			var mqttClient *mqtt.Client
			if cfg.Sensor.Driver == config.SensorDriverMQTT {
				mqttClient, err = mqtt.Connect(cfg.MQTT, cfg.Site.ID)
				if err != nil {
					return fmt.Errorf("connecting to MQTT: %w", err)
				}
				defer mqttClient.Close()
			}

			reader, closeReader, err := openSensor(cfg, mqttClient, log)
			if err != nil {
				return err
			}
			defer closeReader() //nolint:errcheck // diagnostics only

			out := cmd.OutOrStdout()
			if once {
				fmt.Fprintln(out, renderPins(time.Now(), sensor.ReadAll(reader), cfg.Sensor.Pin))
				return nil
			}
			return watchPins(cmd.Context(), out, reader, cfg.Sensor.Pin, cfg.PollPeriod())
		},
	}

	cmd.Flags().BoolVar(&once, "once", false, "print the current levels and exit")
	return cmd
}

// watchPins polls every pin each period and prints a line whenever the
// bitmask changes. It returns nil when ctx is cancelled.
func watchPins(ctx context.Context, out io.Writer, r sensor.Reader, watched int, period time.Duration) error {
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	last := sensor.ReadAll(r)
	fmt.Fprintln(out, renderPins(time.Now(), last, watched))

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			mask := sensor.ReadAll(r)
			if mask == last {
				continue
			}
			last = mask
			fmt.Fprintln(out, renderPins(now, mask, watched))
		}
	}
}

// renderPins formats one line: a timestamp, the 32 pin levels (pin 0 on the
// left, the watched pin underlined) and the watched pin's state.
func renderPins(now time.Time, mask uint32, watched int) string {
	var b strings.Builder
	b.WriteString(timeStyle.Render(now.Format("15:04:05")))
	b.WriteString("  ")

	for pin := 0; pin < sensor.PinCount; pin++ {
		if pin > 0 && pin%8 == 0 {
			b.WriteByte(' ')
		}
		high := mask&(1<<uint(pin)) != 0
		cell := pinLowStyle.Render("0")
		if high {
			cell = pinHighStyle.Render("1")
		}
		if pin == watched {
			cell = pinWatchedStyle.Render(cell)
		}
		b.WriteString(cell)
	}

	state := "low"
	if mask&(1<<uint(watched)) != 0 {
		state = "HIGH"
	}
	fmt.Fprintf(&b, "  %s %s", labelStyle.Render(fmt.Sprintf("pin %d:", watched)), state)
	return b.String()
}
