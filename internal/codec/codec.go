// Package codec converts between stored turns and the message shapes expected
// by the supported model providers.
package codec

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"inara/internal/models"
)

// ErrInvalidTurn is returned by NewTurn when neither text nor image content is present.
var ErrInvalidTurn = models.ErrInvalidTurn

// Codec encodes a stored history into a provider's message list.
// Unknown or empty parts are skipped; encoding never fails.
type Codec[M any] interface {
	Encode(turns []models.Turn) []M
}

// NewTurn builds a turn for persistence. The image part comes first and is only
// added when both the bytes and the MIME type are present; the text part follows
// when it is non-empty. Whitespace is kept as sent.
func NewTurn(role models.Role, text string, image []byte, mimeType string, at time.Time) (models.Turn, error) {
	if !role.Valid() {
		return models.Turn{}, fmt.Errorf("role %q: %w", role, ErrInvalidTurn)
	}
	parts := make([]models.Part, 0, 2)
	mimeType = strings.TrimSpace(mimeType)
	if len(image) > 0 && mimeType != "" {
		parts = append(parts, models.Part{InlineData: &models.InlineData{
			MimeType: mimeType,
			Data:     base64.StdEncoding.EncodeToString(image),
		}})
	}
	if text != "" {
		parts = append(parts, models.Part{Text: text})
	}
	if len(parts) == 0 {
		return models.Turn{}, ErrInvalidTurn
	}
	ts := at.UTC()
	return models.Turn{Role: role, Parts: parts, Timestamp: &ts}, nil
}

// DecodeInlineData returns the raw bytes of an inline data part.
func DecodeInlineData(d *models.InlineData) ([]byte, error) {
	if d == nil || d.Data == "" {
		return nil, fmt.Errorf("inline data is empty")
	}
	raw, err := base64.StdEncoding.DecodeString(d.Data)
	if err != nil {
		return nil, fmt.Errorf("decode inline data: %w", err)
	}
	return raw, nil
}

// DataURL renders inline data as a data URL, reusing the stored base64 payload.
func DataURL(d *models.InlineData) string {
	return "data:" + d.MimeType + ";base64," + d.Data
}

// block is the provider-neutral view of one part, used by the strategies that
// share the "collapse a single text block" rule.
type block struct {
	text  string
	image *models.InlineData
}

func blocksOf(t models.Turn) []block {
	out := make([]block, 0, len(t.Parts))
	for _, p := range t.Parts {
		switch {
		case p.InlineData != nil && p.InlineData.Data != "" && p.InlineData.MimeType != "":
			out = append(out, block{image: p.InlineData})
		case p.Text != "":
			out = append(out, block{text: p.Text})
		}
	}
	return out
}

// collapsible reports whether a turn reduces to exactly one text block.
func collapsible(blocks []block) bool {
	return len(blocks) == 1 && blocks[0].image == nil
}
