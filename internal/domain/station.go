package domain

import (
	"encoding/json"
	"fmt"
)

// StationInfo is one entry of a station's area-assignment history.
type StationInfo struct {
	Code int     `json:"code"`
	Lat  float64 `json:"lat"`
	Lon  float64 `json:"lon"`
}

// StationRecord is a sensor station as listed in the upstream directory.
// Info is ordered oldest first.
type StationRecord struct {
	ID   string        `json:"-"`
	Net  string        `json:"net,omitempty"`
	Info []StationInfo `json:"info"`
	Work bool          `json:"work,omitempty"`
}

// CurrentAssignment returns the station's currently valid area assignment,
// which is the last entry of its info history. An empty history has no
// assignment.
func (r StationRecord) CurrentAssignment() (StationInfo, bool) {
	if len(r.Info) == 0 {
		return StationInfo{}, false
	}
	return r.Info[len(r.Info)-1], true
}

// StationDirectory maps station id to its record. A nil directory means no
// metadata is available.
type StationDirectory map[string]StationRecord

// StationDocument is the decoded station directory endpoint.
type StationDocument struct {
	Stations StationDirectory

	// Skipped counts station entries dropped because they failed to decode.
	Skipped int
}

// UnmarshalJSON decodes each station entry on its own so a single malformed
// record does not invalidate the directory. A document that is not an object
// fails with ErrMalformed.
func (d *StationDocument) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: station directory: %v", ErrMalformed, err)
	}
	if raw == nil {
		return fmt.Errorf("%w: station directory is null", ErrMalformed)
	}

	d.Stations = make(StationDirectory, len(raw))
	d.Skipped = 0
	for id, entry := range raw {
		var rec StationRecord
		if err := json.Unmarshal(entry, &rec); err != nil {
			d.Skipped++
			continue
		}
		rec.ID = id
		d.Stations[id] = rec
	}
	return nil
}

// ParseStationDirectory decodes the upstream station directory and returns
// it with the number of skipped entries.
func ParseStationDirectory(data []byte) (StationDirectory, int, error) {
	var doc StationDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, 0, err
	}
	return doc.Stations, doc.Skipped, nil
}
