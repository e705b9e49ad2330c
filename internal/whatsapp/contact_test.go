package whatsapp

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChatIDDefaultsToGroup(t *testing.T) {
	assert.Equal(t, "120363@g.us", ChatID("120363"))
	assert.Equal(t, "5215550001@s.whatsapp.net", ChatID("5215550001@s.whatsapp.net"))
	assert.Equal(t, "120363", ContactID("120363@g.us"))
	assert.True(t, IsGroupChat("120363@g.us"))
	assert.False(t, IsGroupChat("5215550001@s.whatsapp.net"))
}

func TestUserPart(t *testing.T) {
	assert.Equal(t, "5215550001", userPart("5215550001:12@s.whatsapp.net"))
	assert.Equal(t, "88123", userPart("88123@lid"))
	assert.Equal(t, "plain", userPart("plain"))
	assert.Equal(t, "", userPart(""))
}

func TestClassifyClose(t *testing.T) {
	tests := []struct {
		ev   Closed
		want closeClass
	}{
		{Closed{Code: CodeUnauthorized, LoggedOut: true}, closeTerminal},
		{Closed{Code: CodeUnauthorized}, closeAuth},
		{Closed{Code: CodeForbidden}, closeAuth},
		{Closed{Code: CodeClientOutdated}, closeAuth},
		{Closed{Code: CodeUnknownLogout}, closeAuth},
		{Closed{Code: CodeConnectionLost}, closeTransient},
		{Closed{Code: CodeConnectionReplaced}, closeTransient},
		{Closed{Code: CodeRestartRequired}, closeTransient},
		{Closed{}, closeTransient},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, classifyClose(tt.ev), "code %d", tt.ev.Code)
	}
}
