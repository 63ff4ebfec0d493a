// Package classify turns a free-form captured thought into a structured
// record: a note, a task, or a calendar event. A small chat-completions
// call does the classification when a model key is configured; otherwise a
// keyword heuristic keeps capture working offline.
package classify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	KindNote  = "note"
	KindTask  = "task"
	KindEvent = "event"
)

// Classification is the structured interpretation of one captured thought.
// Due is RFC 3339 when the model extracted a date, empty otherwise.
type Classification struct {
	Kind    string `json:"kind"`
	Title   string `json:"title"`
	Content string `json:"content"`
	Due     string `json:"due,omitempty"`
}

type Classifier interface {
	Classify(ctx context.Context, text string) (Classification, error)
}

const systemPrompt = `You classify a captured thought into exactly one of: note, task, event.
Respond with a single JSON object: {"kind":"note|task|event","title":"...","content":"...","due":"RFC3339 or empty"}.
The title is a short summary (max 60 chars). The content is the full thought.
Use "task" for actionable items, "event" for anything tied to a specific date or time, "note" otherwise.`

const defaultBaseURL = "https://api.openai.com"

// LLMClassifier calls the chat completions endpoint with a JSON response
// format. Invalid or unexpected model output falls back to the heuristic
// rather than failing the capture.
type LLMClassifier struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
}

func NewLLMClassifier(apiKey, model, baseURL string, httpClient *http.Client) *LLMClassifier {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = defaultBaseURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 20 * time.Second}
	}
	return &LLMClassifier{
		apiKey:     strings.TrimSpace(apiKey),
		model:      strings.TrimSpace(model),
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
	}
}

func (c *LLMClassifier) Configured() bool {
	return c != nil && c.apiKey != "" && c.model != ""
}

func (c *LLMClassifier) Classify(ctx context.Context, text string) (Classification, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Classification{}, fmt.Errorf("classify: text is empty")
	}
	if !c.Configured() {
		return Heuristic(text), nil
	}

	body, err := json.Marshal(map[string]any{
		"model": c.model,
		"messages": []map[string]string{
			{"role": "system", "content": systemPrompt},
			{"role": "user", "content": text},
		},
		"response_format": map[string]string{"type": "json_object"},
		"temperature":     0,
	})
	if err != nil {
		return Classification{}, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return Classification{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Classification{}, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 8192))
		return Classification{}, fmt.Errorf("classifier error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}

	var decoded struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&decoded); err != nil {
		return Classification{}, fmt.Errorf("decode response: %w", err)
	}
	if len(decoded.Choices) == 0 {
		return Classification{}, fmt.Errorf("classifier returned no choices")
	}

	var result Classification
	if err := json.Unmarshal([]byte(decoded.Choices[0].Message.Content), &result); err != nil {
		return Heuristic(text), nil
	}
	return normalize(result, text), nil
}

func normalize(c Classification, original string) Classification {
	switch c.Kind {
	case KindNote, KindTask, KindEvent:
	default:
		c.Kind = KindNote
	}
	if strings.TrimSpace(c.Title) == "" {
		c.Title = truncateTitle(original)
	}
	if strings.TrimSpace(c.Content) == "" {
		c.Content = original
	}
	if c.Due != "" {
		if _, err := time.Parse(time.RFC3339, c.Due); err != nil {
			c.Due = ""
		}
	}
	return c
}

var (
	taskMarkers  = []string{"remind me", "todo", "to do", "need to", "have to", "don't forget", "must ", "should "}
	eventMarkers = []string{"meeting", "appointment", "tomorrow at", "today at", "on monday", "on tuesday", "on wednesday", "on thursday", "on friday", "on saturday", "on sunday", "at noon", "schedule"}
)

// Heuristic is the keyword fallback used when no classifier model is
// configured or the model's output is unusable.
func Heuristic(text string) Classification {
	lower := strings.ToLower(text)
	kind := KindNote
	for _, marker := range eventMarkers {
		if strings.Contains(lower, marker) {
			kind = KindEvent
			break
		}
	}
	if kind == KindNote {
		for _, marker := range taskMarkers {
			if strings.Contains(lower, marker) {
				kind = KindTask
				break
			}
		}
	}
	return Classification{
		Kind:    kind,
		Title:   truncateTitle(text),
		Content: text,
	}
}

func truncateTitle(text string) string {
	title := strings.TrimSpace(text)
	if idx := strings.IndexAny(title, "\r\n"); idx >= 0 {
		title = strings.TrimSpace(title[:idx])
	}
	runes := []rune(title)
	if len(runes) > 60 {
		title = strings.TrimSpace(string(runes[:57])) + "..."
	}
	return title
}
