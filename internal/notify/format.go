package notify

import (
	"fmt"
	"time"

	"github.com/goodsign/monday"
)

const DefaultLocale = "pt_BR"

// Templates holds the fixed wording for one locale. SlotLayout is a time
// layout whose %d verb receives the unpadded 24h hour.
type Templates struct {
	Locale        monday.Locale
	SlotLayout    string
	Created       string
	CancelSubject string
	CancelBody    string
}

var templates = map[string]Templates{
	"pt_BR": {
		Locale:        monday.LocalePtBR,
		SlotLayout:    "dia 02 de January, às %d:04hrs",
		Created:       "Novo agendamento para %s no %s",
		CancelSubject: "Agendamento cancelado",
		CancelBody:    "Você tem um novo cancelamento",
	},
	"en_US": {
		Locale:        monday.LocaleEnUS,
		SlotLayout:    "January 2 at %d:04",
		Created:       "New appointment for %s on %s",
		CancelSubject: "Appointment canceled",
		CancelBody:    "You have a new cancellation",
	},
}

func TemplatesFor(locale string) (Templates, error) {
	if locale == "" {
		locale = DefaultLocale
	}
	t, ok := templates[locale]
	if !ok {
		return Templates{}, fmt.Errorf("unsupported locale %q", locale)
	}
	return t, nil
}

// FormatSlot renders t in loc with the locale's day, month name and 24h time.
func FormatSlot(t time.Time, locale string, loc *time.Location) (string, error) {
	tmpl, err := TemplatesFor(locale)
	if err != nil {
		return "", err
	}
	return tmpl.formatSlot(t, loc), nil
}

func (t Templates) formatSlot(slot time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	local := slot.In(loc)
	return fmt.Sprintf(monday.Format(local, t.SlotLayout, t.Locale), local.Hour())
}

func (t Templates) createdContent(requesterName string, slot time.Time, loc *time.Location) string {
	return fmt.Sprintf(t.Created, requesterName, t.formatSlot(slot, loc))
}
