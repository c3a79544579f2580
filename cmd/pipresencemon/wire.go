package main

import (
	"fmt"
	"time"

	"github.com/nerrad567/pipresencemon/internal/infrastructure/config"
	"github.com/nerrad567/pipresencemon/internal/infrastructure/mqtt"
	"github.com/nerrad567/pipresencemon/internal/monitor"
	"github.com/nerrad567/pipresencemon/internal/presence"
	"github.com/nerrad567/pipresencemon/internal/sensor"
	"github.com/nerrad567/pipresencemon/internal/supervisor"
)

// monitorConfig maps the sensor and monitor sections onto monitor.Config.
func monitorConfig(cfg *config.Config) monitor.Config {
	return monitor.Config{
		Pin:                 cfg.Sensor.Pin,
		PollPeriod:          cfg.PollPeriod(),
		WindowSeconds:       cfg.Monitor.WindowSeconds,
		RisingThresholdPct:  cfg.Monitor.RisingThresholdPct,
		FallingThresholdPct: cfg.Monitor.FallingThresholdPct,
		InitialActive:       cfg.Monitor.InitialActive,
		VacancyHoldOff:      time.Duration(cfg.Monitor.VacancyTimeoutSeconds) * time.Second,
		Debug:               cfg.Sensor.Debug,
	}
}

// supervisorConfig maps the supervisor section onto supervisor.Config.
// The restart wait is given in seconds and the supervisor counts ticks of
// the daemon interval.
func supervisorConfig(cfg *config.Config) supervisor.Config {
	ticks := time.Duration(cfg.Supervisor.RestartWaitSeconds) * time.Second / presence.DefaultInterval
	return supervisor.Config{
		OnOccupancy:         commandSpecs(cfg.Supervisor.OnOccupancy),
		OnVacancy:           commandSpecs(cfg.Supervisor.OnVacancy),
		RestartCooldown:     int(ticks),
		CrashLoopThreshold:  cfg.Supervisor.CrashLoopCount,
		GracefulStopTimeout: cfg.GracefulStopTimeout(),
	}
}

func commandSpecs(cmds []config.CommandConfig) []supervisor.CommandSpec {
	specs := make([]supervisor.CommandSpec, 0, len(cmds))
	for _, c := range cmds {
		specs = append(specs, supervisor.CommandSpec{
			Argv:                 c.CommandLine(),
			ShouldRestartOnCrash: c.ShouldRestartOnCrash,
			MaxRestarts:          c.MaxRestarts,
		})
	}
	return specs
}

// openSensor builds the reader for the configured driver. The returned
// close function is never nil.
func openSensor(cfg *config.Config, mqttClient *mqtt.Client, log sensor.Logger) (sensor.Reader, func() error, error) {
	noClose := func() error { return nil }

	switch cfg.Sensor.Driver {
	case config.SensorDriverSysfs:
		return sensor.NewFileReader(cfg.Sensor.PathTemplate), noClose, nil

	case config.SensorDriverMock:
		w, err := sensor.NewWatchedFile(cfg.Sensor.MockPath, log)
		if err != nil {
			return nil, noClose, fmt.Errorf("opening mock sensor: %w", err)
		}
		log.Info("using mock sensor", "path", cfg.Sensor.MockPath)
		return w, w.Close, nil

	case config.SensorDriverMQTT:
		if mqttClient == nil {
			return nil, noClose, fmt.Errorf("sensor driver mqtt needs an MQTT connection")
		}
		r, err := sensor.NewTopicReader(mqttClient, cfg.Sensor.Topic, mqttClient.QoS(), log)
		if err != nil {
			return nil, noClose, err
		}
		log.Info("using MQTT sensor", "topic", cfg.Sensor.Topic)
		return r, r.Close, nil

	default:
		return nil, noClose, fmt.Errorf("unknown sensor driver %q", cfg.Sensor.Driver)
	}
}
