// Package influxdb records presence history in InfluxDB.
//
// It wraps the influxdb-client-go v2 library. Three measurements are
// written, each tagged with the site id:
//
//	presence_activity       active_pct, active, occupied   (every sample)
//	presence_occupancy      occupied, active_pct           (every edge)
//	presence_command_event  exit_code, restart_count       (tags: set, index, kind)
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB, cfg.Site.ID)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteOccupancy(true, 61.5, time.Now())
//
// Writes are non-blocking and batched according to batch_size and
// flush_interval. Batch failures are delivered to the SetOnError callback;
// connection and health check errors are returned directly.
package influxdb
