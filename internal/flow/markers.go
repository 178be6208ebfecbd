package flow

import "floodbuddy/internal/models"

// MarkerColor maps a raw severity ordinal to its marker color.
func MarkerColor(severity int) string {
	return models.Severity(severity).MarkerColor()
}

// Markers is a pure function of one snapshot. Reports are keyed by id, so a
// snapshot repeating an id still yields a single marker.
func Markers(snap models.Snapshot) []models.Marker {
	index := make(map[string]int, len(snap.Reports))
	markers := make([]models.Marker, 0, len(snap.Reports))
	for _, r := range snap.Reports {
		m := models.Marker{
			ID:        r.ID,
			Latitude:  r.Latitude,
			Longitude: r.Longitude,
			Color:     r.Severity.MarkerColor(),
		}
		if i, ok := index[r.ID]; ok {
			markers[i] = m
			continue
		}
		index[r.ID] = len(markers)
		markers = append(markers, m)
	}
	return markers
}
