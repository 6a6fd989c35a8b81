package codec

import (
	"google.golang.org/genai"

	"inara/internal/models"
)

// Gemini encodes history as genai contents. Roles map one to one.
type Gemini struct{}

var _ Codec[*genai.Content] = Gemini{}

func (g Gemini) Encode(turns []models.Turn) []*genai.Content {
	out := make([]*genai.Content, 0, len(turns))
	for _, t := range turns {
		if c := g.EncodeTurn(t); c != nil {
			out = append(out, c)
		}
	}
	return out
}

// EncodeTurn converts a single turn, returning nil if nothing usable remains.
func (Gemini) EncodeTurn(t models.Turn) *genai.Content {
	role := "user"
	if t.Role == models.RoleModel {
		role = "model"
	}
	parts := make([]*genai.Part, 0, len(t.Parts))
	for _, p := range t.Parts {
		switch {
		case p.InlineData != nil:
			raw, err := DecodeInlineData(p.InlineData)
			if err != nil || p.InlineData.MimeType == "" {
				continue
			}
			parts = append(parts, &genai.Part{InlineData: &genai.Blob{
				MIMEType: p.InlineData.MimeType,
				Data:     raw,
			}})
		case p.Text != "":
			parts = append(parts, &genai.Part{Text: p.Text})
		}
	}
	if len(parts) == 0 {
		return nil
	}
	return &genai.Content{Role: role, Parts: parts}
}
