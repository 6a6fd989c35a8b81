package codec

import (
	openai "github.com/sashabaranov/go-openai"

	"inara/internal/models"
)

// OpenAI encodes history as chat completion messages. Model turns become
// assistant messages; a lone text block is sent as plain content.
type OpenAI struct{}

var _ Codec[openai.ChatCompletionMessage] = OpenAI{}

func (o OpenAI) Encode(turns []models.Turn) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(turns))
	for _, t := range turns {
		if msg, ok := o.EncodeTurn(t); ok {
			out = append(out, msg)
		}
	}
	return out
}

// EncodeTurn converts a single turn; ok is false when no block survives.
func (OpenAI) EncodeTurn(t models.Turn) (openai.ChatCompletionMessage, bool) {
	role := openai.ChatMessageRoleUser
	if t.Role == models.RoleModel {
		role = openai.ChatMessageRoleAssistant
	}
	blocks := blocksOf(t)
	if len(blocks) == 0 {
		return openai.ChatCompletionMessage{}, false
	}
	if collapsible(blocks) {
		return openai.ChatCompletionMessage{Role: role, Content: blocks[0].text}, true
	}
	parts := make([]openai.ChatMessagePart, 0, len(blocks))
	for _, b := range blocks {
		if b.image != nil {
			parts = append(parts, openai.ChatMessagePart{
				Type: openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{
					URL:    DataURL(b.image),
					Detail: openai.ImageURLDetailAuto,
				},
			})
			continue
		}
		parts = append(parts, openai.ChatMessagePart{Type: openai.ChatMessagePartTypeText, Text: b.text})
	}
	return openai.ChatCompletionMessage{Role: role, MultiContent: parts}, true
}
