package domain

import (
	"encoding/base64"
	"slices"
	"strings"
)

// Credential is the opaque API key that authorizes gateway calls. It is never persisted beyond the session.
type Credential string

func (c Credential) Empty() bool { return strings.TrimSpace(string(c)) == "" }

// String keeps the raw key out of fmt output and logs.
func (c Credential) String() string {
	if c.Empty() {
		return ""
	}
	return "[REDACTED]"
}

// Reveal returns the raw key; only gateway backends should call it.
func (c Credential) Reveal() string { return string(c) }

// TopicList is an ordered list of topic titles; insertion order is presentation order.
type TopicList []string

func (l TopicList) Contains(topic string) bool {
	return slices.Contains(l, topic)
}

// Clone copies the list so callers cannot mutate a produced list.
func (l TopicList) Clone() TopicList {
	if l == nil {
		return TopicList{}
	}
	return slices.Clone(l)
}

type TutorialStep struct {
	StepNumber  int    `json:"stepNumber"`
	Instruction string `json:"instruction"`
	ImagePrompt string `json:"imagePrompt"`
}

// TutorialContent is the list of steps for one topic.
type TutorialContent []TutorialStep

// Sorted returns a copy ordered ascending by StepNumber. Steps sharing a number keep their relative order.
func (c TutorialContent) Sorted() TutorialContent {
	out := slices.Clone(c)
	if out == nil {
		out = TutorialContent{}
	}
	slices.SortStableFunc(out, func(a, b TutorialStep) int {
		return a.StepNumber - b.StepNumber
	})
	return out
}

// GeneratedImage is one step's illustration, ready to drop into an <img src>.
type GeneratedImage struct {
	DataURI  string `json:"data_uri"`
	MimeType string `json:"mime_type"`
}

func NewGeneratedImage(mimeType string, data []byte) GeneratedImage {
	mimeType = strings.TrimSpace(mimeType)
	if mimeType == "" {
		mimeType = "image/png"
	}
	return GeneratedImage{
		DataURI:  "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data),
		MimeType: mimeType,
	}
}
