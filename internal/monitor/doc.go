// Package monitor turns raw motion sensor readings into an occupancy signal.
//
// A dedicated goroutine reads the sensor once per poll period and pushes the
// reading into a SampleWindow. The share of readings that saw motion is the
// active percentage. Two thresholds give hysteresis:
//
//	inactive -> active    when active_pct >  rising threshold
//	active   -> inactive  when active_pct <  falling threshold
//
// Equality never flips state, and a falling threshold above the rising one is
// rejected at construction because it would flap on every sample.
//
// IsOccupied additionally holds the occupied state for a configurable number
// of cycles after the window goes inactive, so a person sitting still does
// not switch the display off.
//
// Usage:
//
//	mon, err := monitor.New(monitor.Config{
//	    Pin:                 4,
//	    PollPeriod:          time.Second,
//	    WindowSeconds:       30,
//	    RisingThresholdPct:  60,
//	    FallingThresholdPct: 40,
//	}, sensor.NewFileReader("/sys/class/gpio/gpio%d/value"), logger)
//	if err != nil {
//	    return err
//	}
//	if err := mon.Start(ctx); err != nil {
//	    return err
//	}
//	defer mon.Stop()
package monitor
