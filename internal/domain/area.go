package domain

import "time"

// MonitoredArea is one of the fixed areas the relay reports on.
type MonitoredArea struct {
	Code int    `json:"code"`
	Name string `json:"name"`
}

// AreaStatus is the latest known intensity for a monitored area. LastUpdate
// is the time the values last changed and is nil until the first change.
type AreaStatus struct {
	Code          int        `json:"code"`
	Name          string     `json:"name"`
	PGA           float64    `json:"pga"`
	Intensity     int        `json:"intensity"`
	IntensityText string     `json:"intensityText"`
	LastUpdate    *time.Time `json:"lastUpdate"`
}

// NewAreaStatus returns the zero status for an area.
func NewAreaStatus(area MonitoredArea) AreaStatus {
	return AreaStatus{Code: area.Code, Name: area.Name}
}

// Differs reports whether the measured values of s and other differ.
func (s AreaStatus) Differs(other AreaStatus) bool {
	return s.PGA != other.PGA || s.Intensity != other.Intensity
}

// AreaChange is an area status that changed during a reconcile pass, with
// the station that produced it.
type AreaChange struct {
	Status    AreaStatus `json:"status"`
	StationID string     `json:"station_id"`
	Lat       float64    `json:"lat"`
	Lon       float64    `json:"lon"`
}

// MessageTypeStatus is the type tag of snapshot messages sent to subscribers.
const MessageTypeStatus = "status"

// StatusMessage is the envelope pushed to subscribers. Data is keyed by area
// code.
type StatusMessage struct {
	Type string             `json:"type"`
	Data map[int]AreaStatus `json:"data"`
}

// NewStatusMessage wraps a snapshot in a status envelope.
func NewStatusMessage(snapshot map[int]AreaStatus) StatusMessage {
	return StatusMessage{Type: MessageTypeStatus, Data: snapshot}
}
