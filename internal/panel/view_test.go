package panel

import (
	"errors"
	"testing"
	"time"

	"room-panel/internal/models"
	"room-panel/internal/syncengine"

	"github.com/go-playground/assert/v2"
)

func at(hhmm string) time.Time {
	t, err := time.Parse("15:04", hhmm)
	if err != nil {
		panic(err)
	}
	return t
}

func TestStatusClass(t *testing.T) {
	assert.Equal(t, StatusClass("green"), "green")
	assert.Equal(t, StatusClass("RED"), "red")
	assert.Equal(t, StatusClass(" Orange "), "orange")
	assert.Equal(t, StatusClass("blue"), "orange")
	assert.Equal(t, StatusClass(""), "orange")
}

func TestStatusLabel(t *testing.T) {
	assert.Equal(t, StatusLabel("red"), "NEVSTUPOVAT")
	assert.Equal(t, StatusLabel("orange"), "ZANEPRÁZDNĚNO")
	assert.Equal(t, StatusLabel("green"), "VOLNO")
	assert.Equal(t, StatusLabel("purple"), "ZANEPRÁZDNĚNO")
}

func TestBackgroundStaticOverridesSlots(t *testing.T) {
	data := RoomData{
		BackgroundImage:      "static.jpg",
		TimeBasedBackgrounds: []TimeSlot{{StartTime: "00:00", EndTime: "23:59", Image: "slot.jpg"}},
	}
	assert.Equal(t, Background(data, at("12:00")), "static.jpg")
}

func TestBackgroundTimeWindows(t *testing.T) {
	data := RoomData{TimeBasedBackgrounds: []TimeSlot{
		{StartTime: "07:00", EndTime: "11:00", Image: "morning.jpg"},
		{StartTime: "11:00", EndTime: "15:00"},
		{StartTime: "19:00", EndTime: "07:00", Image: "night.jpg"},
	}}

	assert.Equal(t, Background(data, at("07:00")), "morning.jpg")
	assert.Equal(t, Background(data, at("10:59")), "morning.jpg")
	// slot without an image is skipped
	assert.Equal(t, Background(data, at("11:00")), "")
	assert.Equal(t, Background(data, at("16:30")), "")
	assert.Equal(t, Background(data, at("19:00")), "night.jpg")
	assert.Equal(t, Background(data, at("23:59")), "night.jpg")
	assert.Equal(t, Background(data, at("00:00")), "night.jpg")
	assert.Equal(t, Background(data, at("06:59")), "night.jpg")
}

func TestBackgroundFirstMatchWins(t *testing.T) {
	data := RoomData{TimeBasedBackgrounds: []TimeSlot{
		{StartTime: "08:00", EndTime: "12:00", Image: "a.jpg"},
		{StartTime: "09:00", EndTime: "10:00", Image: "b.jpg"},
	}}
	assert.Equal(t, Background(data, at("09:30")), "a.jpg")
}

func TestBackgroundBadTimeNeverMatches(t *testing.T) {
	data := RoomData{TimeBasedBackgrounds: []TimeSlot{
		{StartTime: "soon", EndTime: "later", Image: "x.jpg"},
	}}
	assert.Equal(t, Background(data, at("09:30")), "")
}

func TestRenderDefaults(t *testing.T) {
	v, err := Render(DefaultDocument, at("12:00"), 0)
	assert.Equal(t, err, nil)
	assert.Equal(t, v.RoomName, "Místnost")
	assert.Equal(t, v.Meta, "— — —")
	assert.Equal(t, v.Status, "orange")
	assert.Equal(t, v.StatusLabel, "ZANEPRÁZDNĚNO")
	assert.Equal(t, v.Background, "")
	assert.Equal(t, v.BackgroundColor, "#e5e7eb")
	assert.Equal(t, v.Slide == nil, true)
	assert.Equal(t, v.SlideText, "Žádné slidy")
}

func TestRenderEmptyStringsAreKept(t *testing.T) {
	doc := models.Document(`{"roomName":"","personName":"Dr. Novák","roomType":null}`)
	v, err := Render(doc, at("12:00"), 0)
	assert.Equal(t, err, nil)
	assert.Equal(t, v.RoomName, "")
	assert.Equal(t, v.Meta, "Dr. Novák — —")
}

func TestRenderSlidesWrap(t *testing.T) {
	doc := models.Document(`{"status":"green","backgroundColor":"#fff","slides":[{"title":"A"},{"title":"B"}]}`)

	v, err := Render(doc, at("12:00"), 3)
	assert.Equal(t, err, nil)
	assert.Equal(t, v.SlideIndex, 1)
	assert.Equal(t, v.SlideCount, 2)
	assert.Equal(t, v.Slide.Title, "B")
	assert.Equal(t, v.SlideText, "")
	assert.Equal(t, v.BackgroundColor, "#fff")
	assert.Equal(t, v.StatusLabel, "VOLNO")
}

func TestRenderBackgroundClearsColor(t *testing.T) {
	doc := models.Document(`{"backgroundImage":"bg.jpg","backgroundColor":"#fff"}`)
	v, err := Render(doc, at("12:00"), 0)
	assert.Equal(t, err, nil)
	assert.Equal(t, v.Background, "bg.jpg")
	assert.Equal(t, v.BackgroundColor, "transparent")
}

func TestRenderMalformed(t *testing.T) {
	_, err := Render(models.Document(`{"slides":"nope"}`), at("12:00"), 0)
	assert.Equal(t, errors.Is(err, syncengine.ErrMalformedPayload), true)
}
