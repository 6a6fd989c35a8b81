package ai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"inara/internal/config"
	"inara/internal/metrics"
	"inara/internal/models"
)

type stubModel struct {
	response    string
	err         error
	gotDeadline bool
	titleIn     [2]string
}

func (s *stubModel) GenerateResponse(ctx context.Context, history []models.Turn, prompt models.Turn) (string, error) {
	_, s.gotDeadline = ctx.Deadline()
	return s.response, s.err
}

func (s *stubModel) GenerateTitle(ctx context.Context, userMessage, modelResponse string) (string, error) {
	_, s.gotDeadline = ctx.Deadline()
	s.titleIn = [2]string{userMessage, modelResponse}
	return s.response, s.err
}

func userTurn(text string) models.Turn {
	return models.Turn{Role: models.RoleUser, Parts: []models.Part{{Text: text}}}
}

func TestNewRejectsUnknownKind(t *testing.T) {
	_, err := New(context.Background(), config.ProviderConfig{Kind: "bard", Model: "x"}, "", zap.NewNop(), nil)
	assert.Error(t, err)

	_, err = New(context.Background(), config.ProviderConfig{Kind: "eino", Vendor: "cohere", Model: "x"}, "", zap.NewNop(), nil)
	assert.Error(t, err)
}

func TestInstrumentedAppliesTimeout(t *testing.T) {
	stub := &stubModel{response: "ok"}
	m := &instrumented{inner: stub, timeout: time.Second, logger: zap.NewNop(), metrics: metrics.New()}

	out, err := m.GenerateResponse(context.Background(), nil, userTurn("hi"))
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.True(t, stub.gotDeadline)

	noTimeout := &instrumented{inner: stub, logger: zap.NewNop()}
	_, err = noTimeout.GenerateResponse(context.Background(), nil, userTurn("hi"))
	require.NoError(t, err)
	assert.False(t, stub.gotDeadline)

	// titles are always bounded
	_, err = noTimeout.GenerateTitle(context.Background(), "a", "b")
	require.NoError(t, err)
	assert.True(t, stub.gotDeadline)
}

func TestInstrumentedPassesErrorsAndTruncatesTitleInput(t *testing.T) {
	boom := errors.New("quota exceeded")
	stub := &stubModel{err: boom}
	m := &instrumented{inner: stub, logger: zap.NewNop()}

	_, err := m.GenerateResponse(context.Background(), nil, userTurn("hi"))
	assert.ErrorIs(t, err, boom)

	long := strings.Repeat("é", titleInputMaxRune+20)
	_, err = m.GenerateTitle(context.Background(), long, "short")
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, titleInputMaxRune+3, len([]rune(stub.titleIn[0])))
	assert.Equal(t, "short", stub.titleIn[1])
}

type recordedRequest struct {
	Model    string `json:"model"`
	Messages []struct {
		Role    string          `json:"role"`
		Content json.RawMessage `json:"content"`
	} `json:"messages"`
}

func newChatCompletionServer(t *testing.T, reply string) (*httptest.Server, *[]recordedRequest) {
	t.Helper()
	var (
		mu   sync.Mutex
		reqs []recordedRequest
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var rr recordedRequest
		if err := json.Unmarshal(body, &rr); err != nil {
			t.Errorf("decode request: %v", err)
		}
		mu.Lock()
		reqs = append(reqs, rr)
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"created": 1,
			"model":   rr.Model,
			"choices": []map[string]any{{
				"index":         0,
				"message":       map[string]any{"role": "assistant", "content": reply},
				"finish_reason": "stop",
			}},
			"usage": map[string]int{"prompt_tokens": 1, "completion_tokens": 1, "total_tokens": 2},
		})
	}))
	t.Cleanup(srv.Close)
	return srv, &reqs
}

func TestOpenAIModelSendsSystemHistoryAndPrompt(t *testing.T) {
	srv, reqs := newChatCompletionServer(t, "Hi there")
	m := newOpenAIModel(config.ProviderConfig{BaseURL: srv.URL + "/v1", Model: "gpt-test", APIKey: "k"}, "persona")

	history := []models.Turn{
		userTurn("earlier"),
		{Role: models.RoleModel, Parts: []models.Part{{Text: "earlier reply"}}},
	}
	out, err := m.GenerateResponse(context.Background(), history, userTurn("Hello"))
	require.NoError(t, err)
	assert.Equal(t, "Hi there", out)

	require.Len(t, *reqs, 1)
	got := (*reqs)[0]
	assert.Equal(t, "gpt-test", got.Model)
	require.Len(t, got.Messages, 4)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.JSONEq(t, `"persona"`, string(got.Messages[0].Content))
	assert.Equal(t, "user", got.Messages[1].Role)
	assert.Equal(t, "assistant", got.Messages[2].Role)
	assert.JSONEq(t, `"Hello"`, string(got.Messages[3].Content))
}

func TestOpenAIModelTitle(t *testing.T) {
	srv, reqs := newChatCompletionServer(t, "Greeting Exchange")
	m := newOpenAIModel(config.ProviderConfig{BaseURL: srv.URL + "/v1", Model: "gpt-test"}, "persona")

	title, err := m.GenerateTitle(context.Background(), "Hello", "Hi there")
	require.NoError(t, err)
	assert.Equal(t, "Greeting Exchange", title)
	require.Len(t, *reqs, 1)
	assert.JSONEq(t, mustJSON(t, titleSystemPrompt), string((*reqs)[0].Messages[0].Content))
}

func TestOpenAIModelRejectsEmptyPrompt(t *testing.T) {
	m := newOpenAIModel(config.ProviderConfig{BaseURL: "http://127.0.0.1:1", Model: "gpt-test"}, "persona")
	_, err := m.GenerateResponse(context.Background(), nil, models.Turn{Role: models.RoleUser})
	assert.ErrorIs(t, err, errEmptyPrompt)
}

func TestEinoOpenAIVendor(t *testing.T) {
	srv, reqs := newChatCompletionServer(t, "Hi there")
	m, err := newEinoModel(context.Background(), config.ProviderConfig{
		Kind:    "eino",
		Vendor:  "openai",
		BaseURL: srv.URL + "/v1",
		Model:   "gpt-test",
		APIKey:  "k",
	}, "persona", zap.NewNop())
	require.NoError(t, err)
	assert.Nil(t, m.agent)

	out, err := m.GenerateResponse(context.Background(), []models.Turn{userTurn("earlier")}, userTurn("Hello"))
	require.NoError(t, err)
	assert.Equal(t, "Hi there", out)
	require.Len(t, *reqs, 1)
	require.Len(t, (*reqs)[0].Messages, 3)
	assert.Equal(t, "system", (*reqs)[0].Messages[0].Role)
}

type fakeSearch struct {
	result string
	err    error
	calls  int
}

func (f *fakeSearch) Info(ctx context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{Name: "fake"}, nil
}

func (f *fakeSearch) InvokableRun(ctx context.Context, args string, opts ...tool.Option) (string, error) {
	f.calls++
	return f.result, f.err
}

func newTestSearch(timeout time.Duration, providers ...searchProvider) *webSearchTool {
	return newWebSearchTool(providers, timeout, zap.NewNop())
}

func TestWebSearchFallsBackToDuckDuckGo(t *testing.T) {
	google := &fakeSearch{err: errors.New("quota")}
	duck := &fakeSearch{result: "ddg results"}
	ws := newTestSearch(time.Second, searchProvider{"google", google}, searchProvider{"duckduckgo", duck})

	out, err := ws.run(context.Background(), &webSearchParams{Query: "sepsis criteria"})
	require.NoError(t, err)
	assert.Equal(t, "ddg results", out)
	assert.Equal(t, 1, google.calls)
	assert.Equal(t, 1, duck.calls)

	_, err = ws.run(context.Background(), &webSearchParams{Query: "   "})
	assert.ErrorIs(t, err, errEmptyQuery)

	ws.providers[1].tool = &fakeSearch{err: errors.New("down")}
	_, err = ws.run(context.Background(), &webSearchParams{Query: "anything"})
	assert.ErrorIs(t, err, errNoSearchResult)
	assert.ErrorContains(t, err, "duckduckgo: down")
}

// slowSearch blocks until its context ends.
type slowSearch struct{}

func (slowSearch) Info(ctx context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{Name: "slow"}, nil
}

func (slowSearch) InvokableRun(ctx context.Context, args string, opts ...tool.Option) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func TestWebSearchBoundsEachProviderCall(t *testing.T) {
	duck := &fakeSearch{result: "ddg results"}
	ws := newTestSearch(20*time.Millisecond, searchProvider{"google", slowSearch{}}, searchProvider{"duckduckgo", duck})

	start := time.Now()
	out, err := ws.run(context.Background(), &webSearchParams{Query: "qsofa"})
	require.NoError(t, err)
	assert.Equal(t, "ddg results", out)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestWebSearchReadsTextPage(t *testing.T) {
	page := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		io.WriteString(w, "guideline   text\n")
	}))
	defer page.Close()

	duck := &fakeSearch{result: "unused"}
	ws := newTestSearch(time.Second, searchProvider{"duckduckgo", duck})
	out, err := ws.run(context.Background(), &webSearchParams{Query: page.URL})
	require.NoError(t, err)
	assert.Equal(t, "guideline text", out)
	assert.Equal(t, 0, duck.calls)
}

func TestWebSearchStripsHTML(t *testing.T) {
	page := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		io.WriteString(w, `<html><head><title>Sepsis</title><style>p{color:red}</style></head>
<body><nav>Home | Contact</nav><h1>Sepsis bundle</h1><p>Give fluids<br>within 3 hours.</p>
<script>track()</script></body></html>`)
	}))
	defer page.Close()

	ws := newTestSearch(time.Second)
	out, err := ws.run(context.Background(), &webSearchParams{Query: page.URL})
	require.NoError(t, err)
	assert.Equal(t, "Sepsis bundle Give fluids within 3 hours.", out)
	assert.NotContains(t, out, "track()")
	assert.NotContains(t, out, "<p>")
}

func TestWebSearchSkipsNonTextPage(t *testing.T) {
	page := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		io.WriteString(w, "%PDF-1.4")
	}))
	defer page.Close()

	ws := newTestSearch(time.Second)
	target, ok := pageURL(page.URL)
	require.True(t, ok)
	_, err := ws.readPage(context.Background(), target)
	assert.ErrorIs(t, err, errUnsupportedPage)

	// the query still goes to the search providers
	duck := &fakeSearch{result: "search results"}
	ws.providers = []searchProvider{{"duckduckgo", duck}}
	out, err := ws.run(context.Background(), &webSearchParams{Query: page.URL})
	require.NoError(t, err)
	assert.Equal(t, "search results", out)
	assert.Equal(t, 1, duck.calls)
}

func TestPageURL(t *testing.T) {
	cases := map[string]bool{
		"https://www.nice.org.uk/guidance/ng51": true,
		"HTTP://example.com":                    true,
		"ftp://example.com/file":                false,
		"sepsis https://example.com":            false,
		"https://":                              false,
		"sepsis criteria":                       false,
	}
	for in, want := range cases {
		_, ok := pageURL(in)
		assert.Equal(t, want, ok, "input %q", in)
	}
}

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return string(b)
}
