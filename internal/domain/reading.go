package domain

import (
	"encoding/json"
	"fmt"
)

// RawReading is one station's real-time reading. It only lives for a single
// poll cycle.
type RawReading struct {
	StationID string  `json:"-"`
	PGA       float64 `json:"pga"`
	PGV       float64 `json:"pgv,omitempty"`
	Intensity float64 `json:"i"`
	Level     int     `json:"I"`

	// Text is the upstream display label, when the feed provides one.
	Text string `json:"text,omitempty"`
}

// RealtimePayload is the decoded real-time feed. Stations is nil when the
// feed carried no station collection.
type RealtimePayload struct {
	Time     int64                 `json:"time"`
	Stations map[string]RawReading `json:"station"`

	// Skipped counts station entries dropped because they failed to decode.
	Skipped int `json:"-"`
}

// UnmarshalJSON decodes each station entry on its own so a single malformed
// reading does not invalidate the batch.
func (p *RealtimePayload) UnmarshalJSON(data []byte) error {
	var doc struct {
		Time     int64                      `json:"time"`
		Stations map[string]json.RawMessage `json:"station"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("%w: realtime payload: %v", ErrMalformed, err)
	}

	p.Time = doc.Time
	p.Skipped = 0
	p.Stations = nil
	if doc.Stations == nil {
		return nil
	}

	p.Stations = make(map[string]RawReading, len(doc.Stations))
	for id, entry := range doc.Stations {
		var r RawReading
		if err := json.Unmarshal(entry, &r); err != nil {
			p.Skipped++
			continue
		}
		r.StationID = id
		p.Stations[id] = r
	}
	return nil
}
