package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLooksLikeShortAnswer(t *testing.T) {
	tests := []struct {
		utterance string
		want      bool
	}{
		{"1234", true},
		{"my pin is 4321", true},
		{"yes", true},
		{"yes, that's right", true},
		{"the account number is one two three four", true}, // domain word
		{"ok", true},
		{"", false},
		{"I would like to open a brand new savings account please", true}, // "account"
		{"tell me about your mortgage rates and what documents I would need", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, looksLikeShortAnswer(tt.utterance), tt.utterance)
	}
}

func TestReadsAsContinuation(t *testing.T) {
	tests := []struct {
		text string
		want bool
	}{
		{"Let me check that for you.", true},
		{"I will verify your identity now.", true},
		{"How else can I help?", true},
		{"Please provide your PIN.", true},
		{"Your account is ready.", true},
		{"I can assist with that.", true},
		{"Goodbye, thank you for calling Bank ABC.", false},
		{"Have a great day.", false},
		{"", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, readsAsContinuation(tt.text), tt.text)
	}
}

func TestContainsClosingIntent(t *testing.T) {
	tests := []struct {
		utterance string
		want      bool
	}{
		{"thanks, bye", true},
		{"goodbye", true},
		{"Bye!", true},
		{"ok that's all I needed", true},
		{"nothing else, thank you", true},
		{"please hang up now", true},
		{"maybe later", false}, // "bye" must not match inside "maybe"
		{"what's my balance", false},
		{"thanks", false}, // gratitude alone is not a goodbye
		{"", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, containsClosingIntent(tt.utterance), tt.utterance)
	}
}
