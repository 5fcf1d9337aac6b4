package adapter

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/TobiSchelling/MotionWatch/internal/apperrors"
)

// UserAgent identifies the collector to upstream servers.
const UserAgent = "MotionWatch/1.0 (+https://github.com/TobiSchelling/MotionWatch)"

const maxBodyBytes = 16 << 20

const blockElements = "br, p, div, li, tr, td, th, h1, h2, h3, h4, h5, h6, section, article"

func fetchBody(ctx context.Context, client *http.Client, target, accept string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, apperrors.Validation("build request %s: %v", target, err)
	}
	req.Header.Set("User-Agent", UserAgent)
	if accept != "" {
		req.Header.Set("Accept", accept)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", target, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return nil, &apperrors.HTTPStatusError{URL: target, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", target, err)
	}
	return body, nil
}

func fetchDocument(ctx context.Context, client *http.Client, target string) (*goquery.Document, error) {
	body, err := fetchBody(ctx, client, target, "text/html,application/xhtml+xml")
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, apperrors.Parse("html "+target, err)
	}
	return doc, nil
}

// StripMarkup returns the visible text of an HTML fragment with whitespace
// collapsed. Plain text passes through with entities decoded.
func StripMarkup(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return strings.Join(strings.Fields(s), " ")
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return strings.Join(strings.Fields(s), " ")
	}
	doc.Find("script, style").Remove()
	doc.Find(blockElements).AfterHtml(" ")
	return strings.Join(strings.Fields(doc.Find("body").Text()), " ")
}
