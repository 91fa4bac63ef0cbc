// Package connector keeps station connector statuses consistent and rolls
// them up into fleet statistics.
package connector

import "github.com/kilianp07/roamgate/core/model"

// Normalize applies the exclusivity rule of stations that cannot charge in
// parallel: once any connector is busy, every Available connector is locked.
// Locked connectors become Occupied on OCPP 1.5 and Unavailable otherwise.
// It returns the ids of the connectors it changed.
func Normalize(cs *model.ChargingStation) []int {
	if cs == nil || !cs.CannotChargeInParallel {
		return nil
	}
	busy := false
	for _, c := range cs.Connectors {
		if c != nil && c.Status != model.StatusAvailable {
			busy = true
			break
		}
	}
	if !busy {
		return nil
	}
	locked := model.StatusUnavailable
	if cs.OCPPVersion == model.OCPPVersion15 {
		locked = model.StatusOccupied
	}
	var changed []int
	for _, c := range cs.Connectors {
		if c != nil && c.Status == model.StatusAvailable {
			c.Status = locked
			changed = append(changed, c.ConnectorID)
		}
	}
	return changed
}

// Aggregate computes connector and station counters over stations. Deleted
// stations and empty connector slots are skipped. Each station is normalized
// in place before being counted.
func Aggregate(stations []model.ChargingStation) model.ConnectorStats {
	var st model.ConnectorStats
	for i := range stations {
		cs := &stations[i]
		if cs.Deleted {
			continue
		}
		Normalize(cs)
		st.ChargingStations++
		stationAvailable := false
		for _, c := range cs.Connectors {
			if c == nil {
				continue
			}
			st.TotalConnectors++
			count(&st, cs.Inactive, c.Status)
			if !cs.Inactive && c.Status == model.StatusAvailable {
				stationAvailable = true
			}
		}
		if stationAvailable {
			st.AvailableChargingStations++
		}
	}
	return st
}

func count(st *model.ConnectorStats, inactive bool, s model.ConnectorStatus) {
	switch {
	case inactive || s == model.StatusUnavailable:
		st.UnavailableConnectors++
	case s == model.StatusAvailable:
		st.AvailableConnectors++
	case s == model.StatusSuspendedEV || s == model.StatusSuspendedEVSE:
		st.SuspendedConnectors++
	case s == model.StatusCharging || s == model.StatusOccupied:
		st.ChargingConnectors++
	case s == model.StatusFaulted:
		st.FaultedConnectors++
	case s == model.StatusPreparing:
		st.PreparingConnectors++
	case s == model.StatusFinishing:
		st.FinishingConnectors++
	}
}
