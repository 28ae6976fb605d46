package caption

import (
	"fmt"

	"github.com/crowdmagic/platebot/internal/session"
)

// fallbackByStyle maps each style preset to a neutral caption used when
// the workflow delivers a result without caption text. A missing caption
// is never silently omitted.
var fallbackByStyle = map[session.Style]string{
	session.StyleBreakfast: "Fresh flavors to start the day right.",
	session.StyleBrunch:    "Brunch, plated the way it deserves.",
	session.StyleLunch:     "A midday plate worth slowing down for.",
	session.StyleDinner:    "Tonight's plate, ready for its moment.",
	session.StyleDessert:   "Save room — this one is worth it.",
	session.StyleDrinks:    "Poured fresh and ready to enjoy.",
	session.StyleFestive:   "A plate dressed up for the occasion.",
}

// Fallback returns a deterministic caption for the given style, with the
// restaurant name prefixed when known.
func Fallback(style session.Style, restaurantName string) string {
	text, ok := fallbackByStyle[style]
	if !ok {
		text = "Fresh from our kitchen."
	}
	if restaurantName != "" {
		return fmt.Sprintf("%s — %s", restaurantName, text)
	}
	return text
}
