package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolveViewPrecedence(t *testing.T) {
	cases := []struct {
		name                               string
		hasCred, viewing, loadList, loadCt bool
		lastError                          string
		view                               View
		recovery                           Recovery
	}{
		{"no credential wins", false, true, true, true, "x", ViewCredentialPrompt, RecoveryNone},
		{"list spinner beats error", true, false, true, false, "x", ViewLoadingList, RecoveryNone},
		{"list spinner beats viewer", true, true, true, true, "", ViewLoadingList, RecoveryNone},
		{"error without topic retries", true, false, false, false, "x", ViewError, RecoveryRetry},
		{"error with topic goes back", true, true, false, false, "x", ViewError, RecoveryBack},
		{"content loading hides error", true, true, false, true, "x", ViewTutorial, RecoveryNone},
		{"viewer", true, true, false, false, "", ViewTutorial, RecoveryNone},
		{"list", true, false, false, false, "", ViewTopicList, RecoveryNone},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			view, recovery := resolveView(tc.hasCred, tc.viewing, tc.loadList, tc.loadCt, tc.lastError)
			assert.Equal(t, tc.view, view)
			assert.Equal(t, tc.recovery, recovery)
		})
	}
}
