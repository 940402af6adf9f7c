package panel

import (
	"encoding/json"
	"fmt"

	"room-panel/internal/models"
	"room-panel/internal/syncengine"
)

// DefaultDocument seeds a device whose cache is empty.
var DefaultDocument = models.Document(`{"status":"orange","slides":[]}`)

const (
	StatusGreen  = "green"
	StatusOrange = "orange"
	StatusRed    = "red"
)

// Slide is one rotating information card.
type Slide struct {
	Title           string `json:"title"`
	Description     string `json:"description"`
	URL             string `json:"url"`
	BackgroundImage string `json:"backgroundImage"`
}

// TimeSlot selects a background image for a daily HH:MM window.
type TimeSlot struct {
	StartTime string `json:"startTime"`
	EndTime   string `json:"endTime"`
	Image     string `json:"image"`
	Label     string `json:"label"`
}

// RoomData is the read view of the room document. Pointer fields are nil
// when the key is missing, which the display renders differently from an
// empty string.
type RoomData struct {
	Status               string     `json:"status"`
	RoomName             *string    `json:"roomName"`
	PersonName           *string    `json:"personName"`
	RoomType             *string    `json:"roomType"`
	BackgroundImage      string     `json:"backgroundImage"`
	BackgroundColor      string     `json:"backgroundColor"`
	Slides               []Slide    `json:"slides"`
	TimeBasedBackgrounds []TimeSlot `json:"timeBasedBackgrounds"`
}

// Parse reads the room fields out of doc. An empty document parses to the
// zero RoomData.
func Parse(doc models.Document) (RoomData, error) {
	var data RoomData
	if doc.IsEmpty() {
		return data, nil
	}
	if err := json.Unmarshal(doc, &data); err != nil {
		return RoomData{}, fmt.Errorf("%w: %v", syncengine.ErrMalformedPayload, err)
	}
	return data, nil
}

// DefaultTimeSlots are inserted by EnsureTimeSlots.
func DefaultTimeSlots() []TimeSlot {
	return []TimeSlot{
		{StartTime: "07:00", EndTime: "11:00", Label: "Morning"},
		{StartTime: "11:00", EndTime: "15:00", Label: "Afternoon"},
		{StartTime: "15:00", EndTime: "19:00", Label: "Evening"},
		{StartTime: "19:00", EndTime: "07:00", Label: "Night"},
	}
}
