package export

import (
	"encoding/csv"
	"encoding/json"
	"io"
	"strconv"
	"time"

	"github.com/kilianp07/roamgate/core/model"
)

// Header is the CSV column order of WriteCSV.
var Header = []string{
	"id", "timestamp", "tenant_id", "type", "result", "state",
	"station_id", "connector_id", "reason", "device_result", "callback_error",
}

// WriteJSON writes the command records to w as a JSON array.
func WriteJSON(w io.Writer, records []model.CommandRecord) error {
	if records == nil {
		records = []model.CommandRecord{}
	}
	return json.NewEncoder(w).Encode(records)
}

// WriteCSV writes the command records to w in CSV format with a header row.
func WriteCSV(w io.Writer, records []model.CommandRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return err
	}
	for _, r := range records {
		connector := ""
		if r.ConnectorID != 0 {
			connector = strconv.Itoa(r.ConnectorID)
		}
		rec := []string{
			r.ID,
			r.Timestamp.UTC().Format(time.RFC3339),
			r.TenantID,
			string(r.Type),
			string(r.Result),
			string(r.State),
			r.StationID,
			connector,
			r.Reason,
			r.DeviceResult,
			r.CallbackErr,
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
