// Package domain models seismic station data from the ExpTech TREM API and
// the per-area intensity state derived from it.
//
// # Data Source
//
// Two upstream documents are consumed:
//
//	GET /api/v1/trem/station  station directory, slow-changing
//	GET /api/v2/trem/rts      real-time station readings, refreshed every second
//
// Station directory:
//
//	{ "<station id>": { "net": "MS-Net", "info": [ { "code": 106, "lat": 25.03, "lon": 121.54 } ], "work": true } }
//
//	"info" is the station's area-assignment history, oldest first. The last
//	entry is the current assignment (see [StationRecord.CurrentAssignment]).
//	"code" is the area code (Taiwanese postal district, e.g. 106 = Da'an).
//
// Real-time readings:
//
//	{ "time": 1700000000000, "station": { "<station id>": { "pga": 5.0, "pgv": 0.1, "i": 1.2, "I": 1 } } }
//
//	"pga" is peak ground acceleration in gal, "i" the continuous intensity,
//	"I" the integer level (0–9) computed by the upstream.
//
// # Intensity Scale
//
// Continuous intensity is derived from PGA as 2*log10(pga)+0.7 and bucketed
// into ten levels. Below 4.5 the value is rounded; the upper end is
// compressed into half-unit bands:
//
//	level: 0  1  2  3  4  5   6   7   8   9
//	text:  0  1  2  3  4  5-  5+  6-  6+  7
//
// The upstream integer level and text are authoritative for display; the
// local conversions in intensity.go are utilities and are not applied when
// reconciling.
package domain
