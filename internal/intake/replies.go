// ABOUTME: User-facing reply texts for the intake dialogue
// ABOUTME: Formatting helpers for acknowledgements and marker lists

package intake

import (
	"fmt"
	"strings"

	"github.com/2389/mapfeed/internal/markers"
)

const (
	replyStart          = "Forward the post you want to put on the map."
	replyNeedStart      = "Send /start to add a marker."
	replyNotForwarded   = "That isn't a forwarded post. Forward the original post, or /cancel."
	replyNoLink         = "I couldn't find a link to the source in that post. Forward a post that has one, or /cancel."
	replyAskLocation    = "Got it. Now send the location, e.g. \"village Lyman\"."
	replyNoPlace        = "Send the place name as text, e.g. \"village Lyman\"."
	replyPlaceNotFound  = "I couldn't find %q on the map. Try another spelling or a nearby place."
	replyGeocoderDown   = "The map lookup service is unavailable right now. Send the place name again in a minute."
	replySaveFailed     = "That marker couldn't be saved. Send /start to try again."
	replyCancelled      = "Cancelled."
	replyNothingToStop  = "Nothing to cancel."
	replyNoMarkers      = "There are no markers yet."
	replyChooseDelete   = "Choose a marker to delete:"
	replyListFirst      = "Send /list first, then /delete <number>."
	replyBadNumber      = "Use /delete <number> with a number from the last list."
	replyStaleSelection = "That list is out of date. Send /list again."
	replyNotOperator    = "Only operators can do that."
	replyCleared        = "All %d markers removed."
	replyHelp           = `Commands:
/start - add a marker from a forwarded post
/cancel - abandon the current marker
/list - show markers
/delete <number> - delete a marker from the last list
/clear - remove every marker (operators)
/help - this message`
)

func formatAdded(m markers.Marker) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Added marker #%d %s (%s)", m.ID, m.Name, m.Coords)
	if m.Link != nil {
		fmt.Fprintf(&b, "\nSource: %s", *m.Link)
	}
	return b.String()
}

func formatDeleted(m markers.Marker) string {
	return fmt.Sprintf("Deleted marker #%d %s.", m.ID, m.Name)
}

func choiceLabel(position int, m markers.Marker) string {
	return fmt.Sprintf("%d. %s (#%d)", position, m.Name, m.ID)
}

func formatList(title string, ms []markers.Marker) string {
	var b strings.Builder
	b.WriteString(title)
	for i, m := range ms {
		b.WriteString("\n")
		b.WriteString(choiceLabel(i+1, m))
	}
	return b.String()
}
