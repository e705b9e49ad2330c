package whatsapp

import (
	"context"
	"fmt"
	"strings"
)

// unresolvedMarker is appended to texts whose mentions could not be named
const unresolvedMarker = "[unresolved mentions: %s]"

// resolveMentions replaces @number placeholders in text with display
// names. Lookups go roster first, then the contact book; a mention nobody
// can name keeps its last four digits and is listed in the marker.
func (r *Router) resolveMentions(ctx context.Context, sess Session, text string, mentioned []string, roster []Participant) string {
	if text == "" || len(mentioned) == 0 {
		return text
	}

	var unresolved []string
	for _, id := range mentioned {
		user := userPart(id)
		if user == "" {
			continue
		}
		name := rosterName(roster, user)
		if name == "" {
			n, err := sess.ContactDisplayName(ctx, id)
			if err != nil {
				r.log.Debug().Err(err).Str("participant", id).Msg("contact name lookup failed")
			}
			name = n
		}
		if name != "" {
			text, _ = replaceMention(text, user, name)
			continue
		}

		short := trailingDigits(user, 4)
		text, _ = replaceMention(text, user, short)
		unresolved = append(unresolved, "@"+short)
	}

	if len(unresolved) > 0 {
		text += " " + fmt.Sprintf(unresolvedMarker, strings.Join(unresolved, ", "))
	}
	return text
}

// replaceMention swaps @user, or failing that @<last ten digits of user>,
// for @name.
func replaceMention(text, user, name string) (string, bool) {
	if full := "@" + user; strings.Contains(text, full) {
		return strings.ReplaceAll(text, full, "@"+name), true
	}
	if short := "@" + trailingDigits(user, 10); strings.Contains(text, short) {
		return strings.ReplaceAll(text, short, "@"+name), true
	}
	return text, false
}

func rosterName(roster []Participant, user string) string {
	for _, p := range roster {
		if userPart(p.ID) == user || (p.AltID != "" && userPart(p.AltID) == user) {
			return p.DisplayName
		}
	}
	return ""
}
