package session

import "github.com/yungbote/repairguide-backend/internal/domain"

type Screen string

const (
	ScreenCredentialPrompt Screen = "credential_prompt"
	ScreenTopicList        Screen = "topic_list"
	ScreenTutorialViewer   Screen = "tutorial_viewer"
)

// View is the panel to render once loading and error precedence is applied.
type View string

const (
	ViewCredentialPrompt View = "credential_prompt"
	ViewLoadingList      View = "loading_list"
	ViewError            View = "error"
	ViewTutorial         View = "tutorial"
	ViewTopicList        View = "topic_list"
)

type Recovery string

const (
	RecoveryNone  Recovery = ""
	RecoveryRetry Recovery = "retry"
	RecoveryBack  Recovery = "back"
)

const (
	MsgTopicsFailed  = "Failed to load repair guides. Please try again later."
	MsgContentFailed = "Failed to load tutorial content. Please go back and try again."
	MsgKeyRejected   = "Your API key was rejected. Please enter a valid key."
)

// Snapshot is an immutable copy of a machine's state. Version increases with every mutation.
type Snapshot struct {
	Version        uint64                 `json:"version"`
	Screen         Screen                 `json:"screen"`
	View           View                   `json:"view"`
	Recovery       Recovery               `json:"recovery,omitempty"`
	HasCredential  bool                   `json:"has_credential"`
	Topics         domain.TopicList       `json:"topics"`
	ActiveTopic    string                 `json:"active_topic,omitempty"`
	Steps          domain.TutorialContent `json:"steps"`
	LoadingList    bool                   `json:"loading_list"`
	LoadingContent bool                   `json:"loading_content"`
	LastError      string                 `json:"last_error,omitempty"`
	Notice         string                 `json:"notice,omitempty"`
}

func resolveScreen(hasCred, viewing bool) Screen {
	switch {
	case !hasCred:
		return ScreenCredentialPrompt
	case viewing:
		return ScreenTutorialViewer
	default:
		return ScreenTopicList
	}
}

// resolveView applies: list spinner, then error panel (unless content is loading), then viewer, then list.
func resolveView(hasCred, viewing, loadingList, loadingContent bool, lastError string) (View, Recovery) {
	switch {
	case !hasCred:
		return ViewCredentialPrompt, RecoveryNone
	case loadingList:
		return ViewLoadingList, RecoveryNone
	case lastError != "" && !loadingContent:
		if viewing {
			return ViewError, RecoveryBack
		}
		return ViewError, RecoveryRetry
	case viewing:
		return ViewTutorial, RecoveryNone
	default:
		return ViewTopicList, RecoveryNone
	}
}
