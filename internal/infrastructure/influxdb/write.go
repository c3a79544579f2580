package influxdb

import (
	"strconv"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	MeasurementActivity     = "presence_activity"
	MeasurementOccupancy    = "presence_occupancy"
	MeasurementCommandEvent = "presence_command_event"
)

// WriteActivity records one monitor sample.
func (c *Client) WriteActivity(activePct float64, active, occupied bool, ts time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(activityPoint(c.site, activePct, active, occupied, ts))
}

// WriteOccupancy records an occupancy transition.
func (c *Client) WriteOccupancy(occupied bool, activePct float64, ts time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(occupancyPoint(c.site, occupied, activePct, ts))
}

// WriteCommandEvent records a supervisor event for one managed command.
// Tags are the set, index and kind; the exit code and restart count are
// fields so crash frequency can be graphed per command.
func (c *Client) WriteCommandEvent(set string, index int, kind string, exitCode, restartCount int, ts time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(commandEventPoint(c.site, set, index, kind, exitCode, restartCount, ts))
}

// WritePoint writes a custom point stamped with the current time.
// The site tag is added unless tags already carries one.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]any) {
	c.WritePointWithTime(measurement, tags, fields, time.Now())
}

// WritePointWithTime writes a custom point with a specific timestamp.
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]any, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}

	withSite := make(map[string]string, len(tags)+1)
	withSite["site"] = c.site
	for k, v := range tags {
		withSite[k] = v
	}
	c.writeAPI.WritePoint(write.NewPoint(measurement, withSite, fields, timestamp))
}

func activityPoint(site string, activePct float64, active, occupied bool, ts time.Time) *write.Point {
	return write.NewPoint(
		MeasurementActivity,
		map[string]string{"site": site},
		map[string]any{
			"active_pct": activePct,
			"active":     active,
			"occupied":   occupied,
		},
		ts,
	)
}

func occupancyPoint(site string, occupied bool, activePct float64, ts time.Time) *write.Point {
	return write.NewPoint(
		MeasurementOccupancy,
		map[string]string{"site": site},
		map[string]any{
			"occupied":   occupied,
			"active_pct": activePct,
		},
		ts,
	)
}

func commandEventPoint(site, set string, index int, kind string, exitCode, restartCount int, ts time.Time) *write.Point {
	return write.NewPoint(
		MeasurementCommandEvent,
		map[string]string{
			"site":  site,
			"set":   set,
			"index": strconv.Itoa(index),
			"kind":  kind,
		},
		map[string]any{
			"exit_code":     exitCode,
			"restart_count": restartCount,
		},
		ts,
	)
}
