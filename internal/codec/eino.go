package codec

import (
	"github.com/cloudwego/eino/schema"

	"inara/internal/models"
)

// Eino encodes history as eino schema messages for the eino-ext chat models.
type Eino struct{}

var _ Codec[*schema.Message] = Eino{}

func (e Eino) Encode(turns []models.Turn) []*schema.Message {
	out := make([]*schema.Message, 0, len(turns))
	for _, t := range turns {
		if msg := e.EncodeTurn(t); msg != nil {
			out = append(out, msg)
		}
	}
	return out
}

// EncodeTurn converts a single turn, returning nil if nothing usable remains.
func (Eino) EncodeTurn(t models.Turn) *schema.Message {
	role := schema.User
	if t.Role == models.RoleModel {
		role = schema.Assistant
	}
	blocks := blocksOf(t)
	if len(blocks) == 0 {
		return nil
	}
	if collapsible(blocks) {
		return &schema.Message{Role: role, Content: blocks[0].text}
	}
	parts := make([]schema.ChatMessagePart, 0, len(blocks))
	for _, b := range blocks {
		if b.image != nil {
			parts = append(parts, schema.ChatMessagePart{
				Type: schema.ChatMessagePartTypeImageURL,
				ImageURL: &schema.ChatMessageImageURL{
					URL:      DataURL(b.image),
					MIMEType: b.image.MimeType,
				},
			})
			continue
		}
		parts = append(parts, schema.ChatMessagePart{Type: schema.ChatMessagePartTypeText, Text: b.text})
	}
	return &schema.Message{Role: role, MultiContent: parts}
}
