package codec

import (
	"bytes"
	"encoding/base64"
	"strings"
	"testing"
	"time"

	"github.com/cloudwego/eino/schema"
	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"inara/internal/models"
)

var pngBytes = []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a, 0x00, 0xff, 0x10}

func TestNewTurnOrdersImageBeforeText(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	turn, err := NewTurn(models.RoleUser, "what is this?", pngBytes, "image/png", at)
	require.NoError(t, err)

	require.Len(t, turn.Parts, 2)
	require.NotNil(t, turn.Parts[0].InlineData)
	assert.Equal(t, "image/png", turn.Parts[0].InlineData.MimeType)
	assert.Equal(t, base64.StdEncoding.EncodeToString(pngBytes), turn.Parts[0].InlineData.Data)
	assert.Equal(t, "what is this?", turn.Parts[1].Text)
	require.NotNil(t, turn.Timestamp)
	assert.True(t, turn.Timestamp.Equal(at))
}

func TestNewTurnImageNeedsMimeType(t *testing.T) {
	turn, err := NewTurn(models.RoleUser, "caption", pngBytes, "", time.Now())
	require.NoError(t, err)
	require.Len(t, turn.Parts, 1)
	assert.Equal(t, "caption", turn.Parts[0].Text)

	_, err = NewTurn(models.RoleUser, "", pngBytes, "", time.Now())
	assert.ErrorIs(t, err, ErrInvalidTurn)
}

func TestNewTurnRejectsEmptyContent(t *testing.T) {
	cases := map[string]struct {
		text string
		img  []byte
		mime string
	}{
		"nothing":   {},
		"mime only": {mime: "image/png"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := NewTurn(models.RoleUser, tc.text, tc.img, tc.mime, time.Now())
			assert.ErrorIs(t, err, ErrInvalidTurn)
		})
	}
}

func TestNewTurnKeepsWhitespaceText(t *testing.T) {
	turn, err := NewTurn(models.RoleUser, "  \n\t", nil, "", time.Now())
	require.NoError(t, err)
	require.Len(t, turn.Parts, 1)
	assert.Equal(t, "  \n\t", turn.Parts[0].Text)
}

func TestNewTurnRejectsUnknownRole(t *testing.T) {
	_, err := NewTurn(models.Role("system"), "hi", nil, "", time.Now())
	assert.ErrorIs(t, err, ErrInvalidTurn)
}

func sampleHistory(t *testing.T) []models.Turn {
	t.Helper()
	user, err := NewTurn(models.RoleUser, "look at this scan", pngBytes, "image/png", time.Now())
	require.NoError(t, err)
	model, err := NewTurn(models.RoleModel, "I can see a scan.", nil, "", time.Now())
	require.NoError(t, err)
	return []models.Turn{user, model}
}

func TestGeminiRoundTripPreservesBytes(t *testing.T) {
	contents := Gemini{}.Encode(sampleHistory(t))
	require.Len(t, contents, 2)

	assert.Equal(t, "user", contents[0].Role)
	require.Len(t, contents[0].Parts, 2)
	require.NotNil(t, contents[0].Parts[0].InlineData)
	assert.Equal(t, "image/png", contents[0].Parts[0].InlineData.MIMEType)
	assert.True(t, bytes.Equal(pngBytes, contents[0].Parts[0].InlineData.Data))
	assert.Equal(t, "look at this scan", contents[0].Parts[1].Text)

	assert.Equal(t, "model", contents[1].Role)
	require.Len(t, contents[1].Parts, 1)
	assert.Equal(t, "I can see a scan.", contents[1].Parts[0].Text)
}

func TestOpenAIRoundTripPreservesBytes(t *testing.T) {
	msgs := OpenAI{}.Encode(sampleHistory(t))
	require.Len(t, msgs, 2)

	assert.Equal(t, openai.ChatMessageRoleUser, msgs[0].Role)
	assert.Empty(t, msgs[0].Content)
	require.Len(t, msgs[0].MultiContent, 2)
	img := msgs[0].MultiContent[0]
	require.Equal(t, openai.ChatMessagePartTypeImageURL, img.Type)
	require.NotNil(t, img.ImageURL)
	prefix := "data:image/png;base64,"
	require.True(t, strings.HasPrefix(img.ImageURL.URL, prefix))
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(img.ImageURL.URL, prefix))
	require.NoError(t, err)
	assert.True(t, bytes.Equal(pngBytes, raw))
	assert.Equal(t, "look at this scan", msgs[0].MultiContent[1].Text)

	// single text block collapses to a bare string
	assert.Equal(t, openai.ChatMessageRoleAssistant, msgs[1].Role)
	assert.Equal(t, "I can see a scan.", msgs[1].Content)
	assert.Empty(t, msgs[1].MultiContent)
}

func TestEinoRolesAndCollapse(t *testing.T) {
	msgs := Eino{}.Encode(sampleHistory(t))
	require.Len(t, msgs, 2)

	assert.Equal(t, schema.User, msgs[0].Role)
	require.Len(t, msgs[0].MultiContent, 2)
	assert.Equal(t, schema.ChatMessagePartTypeImageURL, msgs[0].MultiContent[0].Type)
	assert.Equal(t, "image/png", msgs[0].MultiContent[0].ImageURL.MIMEType)

	assert.Equal(t, schema.Assistant, msgs[1].Role)
	assert.Equal(t, "I can see a scan.", msgs[1].Content)
}

func TestEncodersSkipUnknownParts(t *testing.T) {
	turns := []models.Turn{
		{Role: models.RoleUser, Parts: []models.Part{{}, {Text: "hello"}, {InlineData: &models.InlineData{MimeType: "image/png"}}}},
		{Role: models.RoleModel, Parts: []models.Part{{}}},
		{Role: models.RoleModel, Parts: []models.Part{{InlineData: &models.InlineData{MimeType: "image/png", Data: "%%%not-base64"}}}},
	}

	gem := Gemini{}.Encode(turns)
	require.Len(t, gem, 1)
	require.Len(t, gem[0].Parts, 1)
	assert.Equal(t, "hello", gem[0].Parts[0].Text)

	oa := OpenAI{}.Encode(turns)
	require.Len(t, oa, 2)
	assert.Equal(t, "hello", oa[0].Content)
	// openai forwards the stored payload verbatim and leaves validation to the provider
	require.Len(t, oa[1].MultiContent, 1)

	ei := Eino{}.Encode(turns)
	require.Len(t, ei, 2)
	assert.Equal(t, "hello", ei[0].Content)
}

func TestRoleMappingNeverEmitsThirdRole(t *testing.T) {
	turns := []models.Turn{
		{Role: models.RoleUser, Parts: []models.Part{{Text: "a"}}},
		{Role: models.RoleModel, Parts: []models.Part{{Text: "b"}}},
		{Role: models.Role("tool"), Parts: []models.Part{{Text: "c"}}},
	}
	for _, m := range (OpenAI{}).Encode(turns) {
		assert.Contains(t, []string{openai.ChatMessageRoleUser, openai.ChatMessageRoleAssistant}, m.Role)
	}
	for _, c := range (Gemini{}).Encode(turns) {
		assert.Contains(t, []string{"user", "model"}, c.Role)
	}
}

func TestDecodeInlineData(t *testing.T) {
	raw, err := DecodeInlineData(&models.InlineData{MimeType: "image/png", Data: base64.StdEncoding.EncodeToString(pngBytes)})
	require.NoError(t, err)
	assert.Equal(t, pngBytes, raw)

	_, err = DecodeInlineData(nil)
	assert.Error(t, err)
}
