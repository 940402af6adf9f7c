package panel

import (
	"strconv"
	"strings"
	"time"

	"room-panel/internal/models"
)

const (
	DefaultRoomName        = "Místnost"
	DefaultBackgroundColor = "#e5e7eb"
	NoSlidesText           = "Žádné slidy"
	missing                = "—"
)

var statusLabels = map[string]string{
	StatusRed:    "NEVSTUPOVAT",
	StatusOrange: "ZANEPRÁZDNĚNO",
	StatusGreen:  "VOLNO",
}

// StatusClass normalises a stored status. Unknown values show as orange.
func StatusClass(status string) string {
	s := strings.ToLower(strings.TrimSpace(status))
	if _, ok := statusLabels[s]; ok {
		return s
	}
	return StatusOrange
}

// StatusLabel is the text shown for a status.
func StatusLabel(status string) string {
	return statusLabels[StatusClass(status)]
}

// Background picks the image for now: the static backgroundImage first,
// then the first time slot with an image whose window contains now.
func Background(data RoomData, now time.Time) string {
	if data.BackgroundImage != "" {
		return data.BackgroundImage
	}
	current := now.Hour()*60 + now.Minute()
	for _, slot := range data.TimeBasedBackgrounds {
		if slot.Image != "" && inWindow(current, slot.StartTime, slot.EndTime) {
			return slot.Image
		}
	}
	return ""
}

// inWindow reports whether minute lies in [start, end). A window whose start
// is after its end wraps midnight. Unparseable bounds never match.
func inWindow(minute int, start, end string) bool {
	s, ok := minutes(start)
	if !ok {
		return false
	}
	e, ok := minutes(end)
	if !ok {
		return false
	}
	if s > e {
		return minute >= s || minute < e
	}
	return minute >= s && minute < e
}

func minutes(hhmm string) (int, bool) {
	h, m, ok := strings.Cut(hhmm, ":")
	if !ok {
		return 0, false
	}
	hours, err := strconv.Atoi(h)
	if err != nil {
		return 0, false
	}
	mins, err := strconv.Atoi(m)
	if err != nil {
		return 0, false
	}
	return hours*60 + mins, true
}

// View is everything the display needs for one frame.
type View struct {
	RoomName        string
	Meta            string
	Status          string
	StatusLabel     string
	Background      string
	BackgroundColor string

	Slide      *Slide
	SlideIndex int
	SlideCount int
	// SlideText replaces the slide card when there are no slides.
	SlideText string
}

// Render builds the display frame for doc at now. slideIndex wraps modulo
// the slide count.
func Render(doc models.Document, now time.Time, slideIndex int) (View, error) {
	data, err := Parse(doc)
	if err != nil {
		return View{}, err
	}

	v := View{
		RoomName:    orDefault(data.RoomName, DefaultRoomName),
		Meta:        orDefault(data.PersonName, missing) + " " + missing + " " + orDefault(data.RoomType, missing),
		Status:      StatusClass(data.Status),
		StatusLabel: StatusLabel(data.Status),
		Background:  Background(data, now),
		SlideCount:  len(data.Slides),
	}

	switch {
	case v.Background != "":
		v.BackgroundColor = "transparent"
	case data.BackgroundColor != "":
		v.BackgroundColor = data.BackgroundColor
	default:
		v.BackgroundColor = DefaultBackgroundColor
	}

	if v.SlideCount == 0 {
		v.SlideText = NoSlidesText
		return v, nil
	}
	v.SlideIndex = slideIndex % v.SlideCount
	if v.SlideIndex < 0 {
		v.SlideIndex += v.SlideCount
	}
	slide := data.Slides[v.SlideIndex]
	v.Slide = &slide
	return v, nil
}

func orDefault(s *string, def string) string {
	if s == nil {
		return def
	}
	return *s
}
