package pipeline

import (
	"sort"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/quake-relay/internal/domain"
	"github.com/couchcryptid/quake-relay/internal/state"
)

// Reconciler folds real-time readings into the area store.
type Reconciler struct {
	store *state.Store
	clock clockwork.Clock
}

// NewReconciler creates a Reconciler writing to store and stamping changes
// with clock.
func NewReconciler(store *state.Store, clock clockwork.Clock) *Reconciler {
	return &Reconciler{store: store, clock: clock}
}

// Reconcile applies one real-time payload and returns the areas whose values
// changed. See Reconcile for the rules.
func (r *Reconciler) Reconcile(payload *domain.RealtimePayload, stations domain.StationDirectory) ([]domain.AreaChange, error) {
	return Reconcile(r.store, payload, stations, r.clock.Now())
}

// Reconcile joins readings with station metadata and updates the store.
//
// Readings from stations missing from the directory, stations without an
// area assignment, and stations outside the monitored areas are ignored. An
// area with several reporting stations takes the reading of the highest
// station id. An area is changed when that reading's PGA or integer
// intensity differs from the stored value, or when it has never been
// updated; only changed areas get a new timestamp. Changes are returned in
// area code order. A nil directory yields domain.ErrMissingMetadata and leaves the
// store untouched.
func Reconcile(store *state.Store, payload *domain.RealtimePayload, stations domain.StationDirectory, now time.Time) ([]domain.AreaChange, error) {
	if payload == nil || payload.Stations == nil {
		return nil, nil
	}
	if stations == nil {
		return nil, domain.ErrMissingMetadata
	}

	ids := make([]string, 0, len(payload.Stations))
	for id := range payload.Stations {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	// One candidate per area; later station ids overwrite earlier ones.
	type candidate struct {
		stationID string
		info      domain.StationInfo
		reading   domain.RawReading
	}
	picked := make(map[int]candidate)
	for _, id := range ids {
		rec, ok := stations[id]
		if !ok {
			continue
		}
		info, ok := rec.CurrentAssignment()
		if !ok || !store.Has(info.Code) {
			continue
		}
		picked[info.Code] = candidate{stationID: id, info: info, reading: payload.Stations[id]}
	}

	var changes []domain.AreaChange
	for _, code := range store.Codes() {
		c, ok := picked[code]
		if !ok {
			continue
		}
		current, _ := store.Get(code)
		next := current
		next.PGA = c.reading.PGA
		next.Intensity = c.reading.Level
		next.IntensityText = readingText(c.reading)

		if current.LastUpdate != nil && !next.Differs(current) {
			continue
		}

		ts := now
		next.LastUpdate = &ts
		store.Put(next)

		changes = append(changes, domain.AreaChange{
			Status:    next,
			StationID: c.stationID,
			Lat:       c.info.Lat,
			Lon:       c.info.Lon,
		})
	}
	return changes, nil
}

// readingText prefers the upstream label and falls back to the label of the
// upstream integer level.
func readingText(r domain.RawReading) string {
	if r.Text != "" {
		return r.Text
	}
	return domain.LevelText(r.Level)
}
