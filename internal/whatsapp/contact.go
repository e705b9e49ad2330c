package whatsapp

import "strings"

const groupSuffix = "@g.us"

// ChatID resolves a caller supplied contact id to a chat address.
// Bare ids are groups.
func ChatID(contactID string) string {
	if strings.Contains(contactID, "@") {
		return contactID
	}
	return contactID + groupSuffix
}

// ContactID strips the group suffix from a chat address
func ContactID(chatID string) string {
	return strings.TrimSuffix(chatID, groupSuffix)
}

// IsGroupChat reports whether chatID addresses a group
func IsGroupChat(chatID string) bool {
	return strings.HasSuffix(chatID, groupSuffix)
}

// userPart returns the user of an address, without server or device
func userPart(id string) string {
	if at := strings.IndexByte(id, '@'); at >= 0 {
		id = id[:at]
	}
	if colon := strings.IndexByte(id, ':'); colon >= 0 {
		id = id[:colon]
	}
	return id
}

func trailingDigits(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
