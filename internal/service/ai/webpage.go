package ai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

const (
	WebSearchHTTPTimeout = 10 * time.Second

	maxPageBytes = 512 * 1024
	// maxPageRunes bounds the text handed back to the model.
	maxPageRunes  = 8000
	pageUserAgent = "Inara-WebSearch/1.0"
)

var (
	errEmptyQuery      = errors.New("query must not be empty")
	errNoSearchResult  = errors.New("no search provider succeeded")
	errUnsupportedPage = errors.New("page is not text")
)

// pageURL reports whether query is a single http(s) address worth reading directly.
func pageURL(query string) (*url.URL, bool) {
	if strings.ContainsAny(query, " \t\n") {
		return nil, false
	}
	u, err := url.Parse(query)
	if err != nil || u.Host == "" {
		return nil, false
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		return u, true
	}
	return nil, false
}

// readPage fetches target and returns its readable text. Only text/* and
// XHTML responses are accepted; HTML is reduced to its visible text.
func (w *webSearchTool) readPage(ctx context.Context, target *url.URL) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", pageUserAgent)
	req.Header.Set("Accept", "text/html, text/plain;q=0.9, text/*;q=0.8")

	client := w.client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("fetch page: %s", resp.Status)
	}
	mediaType, _, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil {
		return "", fmt.Errorf("%w: %v", errUnsupportedPage, err)
	}

	body := io.LimitReader(resp.Body, maxPageBytes)
	var text string
	switch {
	case mediaType == "text/html" || mediaType == "application/xhtml+xml":
		text, err = htmlText(body)
	case strings.HasPrefix(mediaType, "text/"):
		var raw []byte
		raw, err = io.ReadAll(body)
		text = string(raw)
	default:
		return "", fmt.Errorf("%w: %s", errUnsupportedPage, mediaType)
	}
	if err != nil {
		return "", err
	}
	text = truncateRunes(strings.Join(strings.Fields(text), " "), maxPageRunes)
	if text == "" {
		return "", errors.New("page has no readable text")
	}
	return text, nil
}

// htmlText drops non-content elements and returns the remaining text.
func htmlText(r io.Reader) (string, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return "", fmt.Errorf("parse page: %w", err)
	}
	doc.Find("script, style, noscript, template, svg, head, nav, footer").Remove()
	// text nodes are joined with spaces so adjacent blocks do not run together
	var sb strings.Builder
	var walk func(*goquery.Selection)
	walk = func(sel *goquery.Selection) {
		sel.Contents().Each(func(_ int, c *goquery.Selection) {
			if goquery.NodeName(c) == "#text" {
				sb.WriteString(c.Text())
				sb.WriteByte(' ')
				return
			}
			walk(c)
		})
	}
	walk(doc.Find("body"))
	return sb.String(), nil
}
