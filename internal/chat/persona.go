package chat

import (
	"fmt"
	"time"
)

// basePersona is shared by every chat type. The date is interpolated so the
// assistant can reason about "today" without a tool call.
const basePersona = `You are Daybook, a thoughtful personal companion. You help the user reflect on their day, plan their work, and keep track of what matters to them. Be warm but concise. Ask at most one question at a time. Today's date is %s.`

// Per-type persona additions.
const (
	morningPersona = ` This is a morning check-in. Help the user set intentions for the day: what they want to get done, how they feel, and what could get in the way. Keep the conversation short and energizing.`

	eveningPersona = ` This is an evening reflection. Help the user review how the day went: what they accomplished, what they learned, and what they want to carry into tomorrow. Be gentle and unhurried.`

	yearEndPersona = ` This is a year-end review. Help the user look back over the whole year: themes, milestones, relationships, and growth. Take your time and go deep rather than broad.`

	generalPersona = ` This is an open conversation. Follow the user's lead.`
)

// PersonaFor resolves the system persona text for a chat of the given type on
// the given date. The returned text is written into the chat's leading system
// message at creation time and frozen there; callers must not use this
// function to re-derive the persona of an existing chat.
func PersonaFor(t Type, date time.Time) string {
	base := fmt.Sprintf(basePersona, date.Format("Monday, January 2, 2006"))
	switch t {
	case TypeMorning:
		return base + morningPersona
	case TypeEvening:
		return base + eveningPersona
	case TypeYearEnd:
		return base + yearEndPersona
	default:
		return base + generalPersona
	}
}
