package gemini

import "cloud.google.com/go/ai/generativelanguage/apiv1beta/generativelanguagepb"

func topicsSchema() *generativelanguagepb.Schema {
	return &generativelanguagepb.Schema{
		Type: generativelanguagepb.Type_OBJECT,
		Properties: map[string]*generativelanguagepb.Schema{
			"topics": {
				Type:  generativelanguagepb.Type_ARRAY,
				Items: &generativelanguagepb.Schema{Type: generativelanguagepb.Type_STRING},
			},
		},
		Required: []string{"topics"},
	}
}

func stepsSchema() *generativelanguagepb.Schema {
	return &generativelanguagepb.Schema{
		Type: generativelanguagepb.Type_OBJECT,
		Properties: map[string]*generativelanguagepb.Schema{
			"steps": {
				Type: generativelanguagepb.Type_ARRAY,
				Items: &generativelanguagepb.Schema{
					Type: generativelanguagepb.Type_OBJECT,
					Properties: map[string]*generativelanguagepb.Schema{
						"stepNumber":  {Type: generativelanguagepb.Type_INTEGER},
						"instruction": {Type: generativelanguagepb.Type_STRING},
						"imagePrompt": {Type: generativelanguagepb.Type_STRING},
					},
					Required: []string{"stepNumber", "instruction", "imagePrompt"},
				},
			},
		},
		Required: []string{"steps"},
	}
}
