package normalization

import (
	"bytes"
	"encoding/json"
	"math"
	"strings"

	"github.com/yungbote/repairguide-backend/internal/domain"
)

const (
	topicsField = "topics"
	stepsField  = "steps"
)

// TopicList decodes a raw `{topics:[string]}` payload. Anything else yields an empty list.
func TopicList(raw []byte) domain.TopicList {
	return TopicListFromValue(decode(raw))
}

func TopicListFromValue(v any) domain.TopicList {
	out := domain.TopicList{}
	items, ok := arrayField(v, topicsField)
	if !ok {
		return out
	}
	for _, item := range items {
		s, ok := item.(string)
		if !ok {
			continue
		}
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Steps decodes a raw `{steps:[...]}` payload, keeping only complete steps in their original order.
func Steps(raw []byte) domain.TutorialContent {
	return StepsFromValue(decode(raw))
}

func StepsFromValue(v any) domain.TutorialContent {
	out := domain.TutorialContent{}
	items, ok := arrayField(v, stepsField)
	if !ok {
		return out
	}
	for _, item := range items {
		if step, ok := stepFromValue(item); ok {
			out = append(out, step)
		}
	}
	return out
}

func stepFromValue(v any) (domain.TutorialStep, bool) {
	obj, ok := v.(map[string]any)
	if !ok {
		return domain.TutorialStep{}, false
	}
	n, ok := positiveInt(obj["stepNumber"])
	if !ok {
		return domain.TutorialStep{}, false
	}
	instruction, ok := nonEmptyString(obj["instruction"])
	if !ok {
		return domain.TutorialStep{}, false
	}
	prompt, ok := nonEmptyString(obj["imagePrompt"])
	if !ok {
		return domain.TutorialStep{}, false
	}
	return domain.TutorialStep{StepNumber: n, Instruction: instruction, ImagePrompt: prompt}, true
}

func decode(raw []byte) any {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil
	}
	return v
}

func arrayField(v any, field string) ([]any, bool) {
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, false
	}
	items, ok := obj[field].([]any)
	return items, ok
}

func positiveInt(v any) (int, bool) {
	var f float64
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			if i <= 0 || i > math.MaxInt32 {
				return 0, false
			}
			return int(i), true
		}
		parsed, err := t.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case float64:
		f = t
	case int:
		f = float64(t)
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) || f <= 0 || f > math.MaxInt32 {
		return 0, false
	}
	return int(f), true
}

func nonEmptyString(v any) (string, bool) {
	s, ok := v.(string)
	if !ok {
		return "", false
	}
	s = strings.TrimSpace(s)
	return s, s != ""
}
