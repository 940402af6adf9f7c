package panel

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"

	"room-panel/internal/models"
	"room-panel/internal/syncengine"
)

var (
	ErrUnknownStatus = errors.New("unknown status")
	ErrUnknownField  = errors.New("unknown field")
	ErrIndexRange    = errors.New("index out of range")
	ErrBadTime       = errors.New("time must be HH:MM")
)

// Edit changes a decoded room document in place. Keys an edit does not
// touch are carried through unchanged.
type Edit func(doc map[string]any) error

var (
	roomFields = map[string]bool{
		"roomName":        true,
		"personName":      true,
		"roomType":        true,
		"backgroundImage": true,
		"backgroundColor": true,
	}
	slideFields = map[string]bool{
		"title":           true,
		"description":     true,
		"url":             true,
		"backgroundImage": true,
	}
	slotFields = map[string]bool{
		"startTime": true,
		"endTime":   true,
		"image":     true,
		"label":     true,
	}
	hhmm = regexp.MustCompile(`^([01][0-9]|2[0-3]):[0-5][0-9]$`)
)

// Apply runs edits against doc and returns the new document. An empty doc
// starts from DefaultDocument.
func Apply(doc models.Document, edits ...Edit) (models.Document, error) {
	if doc.IsEmpty() {
		doc = DefaultDocument
	}
	dec := json.NewDecoder(bytes.NewReader(doc))
	dec.UseNumber()
	var root map[string]any
	if err := dec.Decode(&root); err != nil {
		return nil, fmt.Errorf("%w: room document must be an object: %v", syncengine.ErrMalformedPayload, err)
	}
	if root == nil {
		root = map[string]any{}
	}
	for _, edit := range edits {
		if err := edit(root); err != nil {
			return nil, err
		}
	}
	out, err := json.Marshal(root)
	if err != nil {
		return nil, fmt.Errorf("failed to encode room document: %w", err)
	}
	return models.Document(out), nil
}

// Updater adapts edits to Session.Update.
func Updater(edits ...Edit) func(models.Document) (models.Document, error) {
	return func(doc models.Document) (models.Document, error) {
		return Apply(doc, edits...)
	}
}

func SetStatus(status string) Edit {
	return func(doc map[string]any) error {
		if _, ok := statusLabels[status]; !ok {
			return fmt.Errorf("%w %q, want green, orange or red", ErrUnknownStatus, status)
		}
		doc["status"] = status
		return nil
	}
}

// SetField sets one of the top-level text fields.
func SetField(name, value string) Edit {
	return func(doc map[string]any) error {
		if !roomFields[name] {
			return fmt.Errorf("%w %q", ErrUnknownField, name)
		}
		doc[name] = value
		return nil
	}
}

// AddSlide appends slide to the slide list.
func AddSlide(slide Slide) Edit {
	return func(doc map[string]any) error {
		slides := list(doc, "slides")
		doc["slides"] = append(slides, map[string]any{
			"title":           slide.Title,
			"description":     slide.Description,
			"url":             slide.URL,
			"backgroundImage": slide.BackgroundImage,
		})
		return nil
	}
}

func UpdateSlide(index int, field, value string) Edit {
	return updateItem("slides", slideFields, index, field, value)
}

func RemoveSlide(index int) Edit {
	return removeItem("slides", index)
}

// EnsureTimeSlots installs DefaultTimeSlots when the document has none.
func EnsureTimeSlots() Edit {
	return func(doc map[string]any) error {
		if len(list(doc, "timeBasedBackgrounds")) > 0 {
			return nil
		}
		slots := make([]any, 0, 4)
		for _, slot := range DefaultTimeSlots() {
			slots = append(slots, slotMap(slot))
		}
		doc["timeBasedBackgrounds"] = slots
		return nil
	}
}

// AddTimeSlot appends slot. Empty bounds default to 00:00 and an empty label
// to "New Slot".
func AddTimeSlot(slot TimeSlot) Edit {
	return func(doc map[string]any) error {
		if slot.StartTime == "" {
			slot.StartTime = "00:00"
		}
		if slot.EndTime == "" {
			slot.EndTime = "00:00"
		}
		if slot.Label == "" {
			slot.Label = "New Slot"
		}
		if !hhmm.MatchString(slot.StartTime) || !hhmm.MatchString(slot.EndTime) {
			return fmt.Errorf("%w: %s-%s", ErrBadTime, slot.StartTime, slot.EndTime)
		}
		doc["timeBasedBackgrounds"] = append(list(doc, "timeBasedBackgrounds"), slotMap(slot))
		return nil
	}
}

func UpdateTimeSlot(index int, field, value string) Edit {
	update := updateItem("timeBasedBackgrounds", slotFields, index, field, value)
	return func(doc map[string]any) error {
		if (field == "startTime" || field == "endTime") && !hhmm.MatchString(value) {
			return fmt.Errorf("%w: %q", ErrBadTime, value)
		}
		return update(doc)
	}
}

func RemoveTimeSlot(index int) Edit {
	return removeItem("timeBasedBackgrounds", index)
}

func slotMap(slot TimeSlot) map[string]any {
	return map[string]any{
		"startTime": slot.StartTime,
		"endTime":   slot.EndTime,
		"image":     slot.Image,
		"label":     slot.Label,
	}
}

// list returns doc[key] as a slice. A missing or non-array value is treated
// as empty.
func list(doc map[string]any, key string) []any {
	items, _ := doc[key].([]any)
	return items
}

func updateItem(key string, fields map[string]bool, index int, field, value string) Edit {
	return func(doc map[string]any) error {
		if !fields[field] {
			return fmt.Errorf("%w %q in %s", ErrUnknownField, field, key)
		}
		items := list(doc, key)
		if index < 0 || index >= len(items) {
			return fmt.Errorf("%w: %s[%d] of %d", ErrIndexRange, key, index, len(items))
		}
		item, ok := items[index].(map[string]any)
		if !ok {
			item = map[string]any{}
			items[index] = item
		}
		item[field] = value
		return nil
	}
}

func removeItem(key string, index int) Edit {
	return func(doc map[string]any) error {
		items := list(doc, key)
		if index < 0 || index >= len(items) {
			return fmt.Errorf("%w: %s[%d] of %d", ErrIndexRange, key, index, len(items))
		}
		out := make([]any, 0, len(items)-1)
		out = append(out, items[:index]...)
		doc[key] = append(out, items[index+1:]...)
		return nil
	}
}
