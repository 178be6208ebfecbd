package tasks

import (
	"encoding/json"
	"fmt"
	"time"

	"floodbuddy/internal/models"
)

type featureCollection struct {
	Type     string    `json:"type"`
	Features []feature `json:"features"`
}

type feature struct {
	Type       string            `json:"type"`
	ID         string            `json:"id"`
	Geometry   point             `json:"geometry"`
	Properties featureProperties `json:"properties"`
}

// point coordinates are [longitude, latitude].
type point struct {
	Type        string     `json:"type"`
	Coordinates [2]float64 `json:"coordinates"`
}

type featureProperties struct {
	Severity  models.Severity `json:"severity"`
	Label     string          `json:"label"`
	Color     string          `json:"color"`
	CreatedAt time.Time       `json:"createdAt"`
}

// EncodeGeoJSON renders the full report collection as a FeatureCollection.
func EncodeGeoJSON(reports []models.Report) ([]byte, error) {
	fc := featureCollection{Type: "FeatureCollection", Features: make([]feature, 0, len(reports))}
	for _, r := range reports {
		fc.Features = append(fc.Features, feature{
			Type: "Feature",
			ID:   r.ID,
			Geometry: point{
				Type:        "Point",
				Coordinates: [2]float64{r.Longitude, r.Latitude},
			},
			Properties: featureProperties{
				Severity:  r.Severity,
				Label:     r.Severity.Label(),
				Color:     r.Severity.MarkerColor(),
				CreatedAt: r.CreatedAt,
			},
		})
	}
	body, err := json.Marshal(fc)
	if err != nil {
		return nil, fmt.Errorf("encode geojson: %w", err)
	}
	return body, nil
}
