package models

import (
	"math"
	"time"
)

// Location is a device fix in decimal degrees.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Validate rejects NaN and out-of-range coordinates.
func (l Location) Validate() error {
	if math.IsNaN(l.Latitude) || math.IsNaN(l.Longitude) {
		return ErrCoordinatesOutOfRange
	}
	if l.Latitude < -90 || l.Latitude > 90 || l.Longitude < -180 || l.Longitude > 180 {
		return ErrCoordinatesOutOfRange
	}
	return nil
}

// Report is append-only; the application never mutates or deletes one.
type Report struct {
	ID        string    `json:"id"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Severity  Severity  `json:"severity"`
	CreatedAt time.Time `json:"createdAt"`
}

func (r Report) Location() Location {
	return Location{Latitude: r.Latitude, Longitude: r.Longitude}
}

// ValidateSubmission checks a pending report before any store call.
// A nil location is refused rather than written as 0,0.
func ValidateSubmission(loc *Location, severity Severity) error {
	if loc == nil {
		return ErrLocationUnavailable
	}
	if !severity.Valid() {
		return ErrInvalidSeverity
	}
	return loc.Validate()
}

// Snapshot is the complete report collection at one point in time.
// Consumers replace their state with it; it is never a delta.
type Snapshot struct {
	Version uint64    `json:"version"`
	TakenAt time.Time `json:"takenAt"`
	Reports []Report  `json:"reports"`
}

type Marker struct {
	ID        string  `json:"id"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Color     string  `json:"color"`
}
