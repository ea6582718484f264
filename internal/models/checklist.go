package models

// UnknownLocation is reported when a checklist has no location name.
const UnknownLocation = "Unknown Location"

// Checklist is the subset of an eBird checklist the map client needs. Pointer
// fields are null when eBird omits them.
type Checklist struct {
	ChecklistID          string   `json:"checklistId"`
	Lat                  *float64 `json:"lat"`
	Lng                  *float64 `json:"lng"`
	Location             string   `json:"location"`
	Datetime             *string  `json:"datetime"`
	NumSpecies           int      `json:"numSpecies"`
	DurationHrs          *float64 `json:"durationHrs"`
	DistanceKms          *float64 `json:"distanceKms"`
	SubmissionMethodCode *string  `json:"submissionMethodCode"`
	CreationDt           *string  `json:"creationDt"`
	LastEditedDt         *string  `json:"lastEditedDt"`
}
