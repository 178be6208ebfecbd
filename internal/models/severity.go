package models

import (
	"fmt"
	"strings"
)

// Severity is the ordinal hazard level of a report.
type Severity int

const (
	SeverityMinor    Severity = 1
	SeverityModerate Severity = 2
	SeveritySevere   Severity = 3
)

// DefaultMarkerColor is used for any severity outside the table.
const DefaultMarkerColor = "blue"

type SeverityInfo struct {
	Severity Severity `json:"severity"`
	Label    string   `json:"label"`
	Icon     string   `json:"icon"`
	Color    string   `json:"color"`
}

var severityTable = []SeverityInfo{
	{Severity: SeverityMinor, Label: "Minor", Icon: "hazard_icon.png", Color: "green"},
	{Severity: SeverityModerate, Label: "Moderate", Icon: "hazard_icon_amber.png", Color: "yellow"},
	{Severity: SeveritySevere, Label: "Severe", Icon: "hazard_icon_red.png", Color: "red"},
}

// Severities returns the picker table in ascending order.
func Severities() []SeverityInfo {
	out := make([]SeverityInfo, len(severityTable))
	copy(out, severityTable)
	return out
}

func (s Severity) Valid() bool {
	return s >= SeverityMinor && s <= SeveritySevere
}

func (s Severity) Info() (SeverityInfo, bool) {
	if !s.Valid() {
		return SeverityInfo{}, false
	}
	return severityTable[s-1], true
}

func (s Severity) Label() string {
	if info, ok := s.Info(); ok {
		return info.Label
	}
	return fmt.Sprintf("Severity(%d)", int(s))
}

// MarkerColor is total: unknown values map to DefaultMarkerColor.
func (s Severity) MarkerColor() string {
	if info, ok := s.Info(); ok {
		return info.Color
	}
	return DefaultMarkerColor
}

func (s Severity) String() string {
	return s.Label()
}

// ParseSeverity accepts a label ("severe", case-insensitive) or an ordinal ("3").
func ParseSeverity(v string) (Severity, error) {
	for _, info := range severityTable {
		if strings.EqualFold(info.Label, v) || fmt.Sprint(int(info.Severity)) == v {
			return info.Severity, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidSeverity, v)
}
