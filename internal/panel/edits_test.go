package panel

import (
	"errors"
	"testing"

	"room-panel/internal/models"
	"room-panel/internal/syncengine"

	"github.com/go-playground/assert/v2"
)

func apply(t *testing.T, doc string, edits ...Edit) string {
	t.Helper()
	out, err := Apply(models.Document(doc), edits...)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	return string(out)
}

func TestSetStatusKeepsUnknownFields(t *testing.T) {
	got := apply(t, `{"status":"orange","custom":{"n":1.50}}`, SetStatus("red"))
	assert.Equal(t, got, `{"custom":{"n":1.50},"status":"red"}`)
}

func TestSetStatusRejectsUnknown(t *testing.T) {
	_, err := Apply(DefaultDocument, SetStatus("blue"))
	assert.Equal(t, errors.Is(err, ErrUnknownStatus), true)
}

func TestApplyEmptyStartsFromDefault(t *testing.T) {
	got := apply(t, ``, SetField("roomName", "A101"))
	assert.Equal(t, got, `{"roomName":"A101","slides":[],"status":"orange"}`)
}

func TestApplyRejectsNonObject(t *testing.T) {
	_, err := Apply(models.Document(`[1,2]`), SetStatus("red"))
	assert.Equal(t, errors.Is(err, syncengine.ErrMalformedPayload), true)
}

func TestSetFieldRejectsUnknown(t *testing.T) {
	_, err := Apply(DefaultDocument, SetField("status", "red"))
	assert.Equal(t, errors.Is(err, ErrUnknownField), true)
}

func TestSlideEdits(t *testing.T) {
	doc := apply(t, `{"status":"orange"}`,
		AddSlide(Slide{}),
		AddSlide(Slide{Title: "Second"}),
		UpdateSlide(0, "title", "First"),
		UpdateSlide(0, "url", "https://example.com"),
	)
	assert.Equal(t, doc, `{"slides":[`+
		`{"backgroundImage":"","description":"","title":"First","url":"https://example.com"},`+
		`{"backgroundImage":"","description":"","title":"Second","url":""}],"status":"orange"}`)

	doc = apply(t, doc, RemoveSlide(0))
	data, err := Parse(models.Document(doc))
	assert.Equal(t, err, nil)
	assert.Equal(t, len(data.Slides), 1)
	assert.Equal(t, data.Slides[0].Title, "Second")
}

func TestSlideEditErrors(t *testing.T) {
	_, err := Apply(DefaultDocument, RemoveSlide(0))
	assert.Equal(t, errors.Is(err, ErrIndexRange), true)

	_, err = Apply(models.Document(`{"slides":[{}]}`), UpdateSlide(0, "colour", "x"))
	assert.Equal(t, errors.Is(err, ErrUnknownField), true)

	_, err = Apply(models.Document(`{"slides":[{}]}`), UpdateSlide(-1, "title", "x"))
	assert.Equal(t, errors.Is(err, ErrIndexRange), true)
}

func TestEnsureTimeSlots(t *testing.T) {
	doc := apply(t, `{}`, EnsureTimeSlots())
	data, err := Parse(models.Document(doc))
	assert.Equal(t, err, nil)
	assert.Equal(t, data.TimeBasedBackgrounds, DefaultTimeSlots())

	// existing slots are left alone
	doc = apply(t, doc, RemoveTimeSlot(0), RemoveTimeSlot(0), RemoveTimeSlot(0), EnsureTimeSlots())
	data, _ = Parse(models.Document(doc))
	assert.Equal(t, len(data.TimeBasedBackgrounds), 1)
	assert.Equal(t, data.TimeBasedBackgrounds[0].Label, "Night")
}

func TestTimeSlotEdits(t *testing.T) {
	doc := apply(t, `{}`,
		AddTimeSlot(TimeSlot{}),
		UpdateTimeSlot(0, "startTime", "22:00"),
		UpdateTimeSlot(0, "endTime", "06:00"),
		UpdateTimeSlot(0, "image", "night.jpg"),
	)
	data, err := Parse(models.Document(doc))
	assert.Equal(t, err, nil)
	assert.Equal(t, data.TimeBasedBackgrounds, []TimeSlot{
		{StartTime: "22:00", EndTime: "06:00", Image: "night.jpg", Label: "New Slot"},
	})
	assert.Equal(t, Background(data, at("23:15")), "night.jpg")
}

func TestTimeSlotRejectsBadTime(t *testing.T) {
	_, err := Apply(DefaultDocument, AddTimeSlot(TimeSlot{StartTime: "25:00"}))
	assert.Equal(t, errors.Is(err, ErrBadTime), true)

	_, err = Apply(models.Document(`{}`), AddTimeSlot(TimeSlot{}), UpdateTimeSlot(0, "endTime", "7"))
	assert.Equal(t, errors.Is(err, ErrBadTime), true)
}

func TestUpdaterComposes(t *testing.T) {
	out, err := Updater(SetStatus("green"), SetField("personName", "Eva"))(DefaultDocument)
	assert.Equal(t, err, nil)
	assert.Equal(t, out.Equal(models.Document(`{"status":"green","personName":"Eva","slides":[]}`)), true)
}
