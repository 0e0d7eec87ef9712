// Package visionclient wires vision.Completer to a concrete OpenAI-chat-
// completions-compatible HTTP client, the wire protocol shared by the
// OpenAI, Gemini-OpenAI-compat, and local vLLM endpoints this service
// talks to.
package visionclient

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// HTTPClient is the shared client used for every provider call.
var HTTPClient = &http.Client{Timeout: 120 * time.Second}

type chatMessage struct {
	Role    string        `json:"role"`
	Content []contentPart `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatChoice struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
}

type chatResponse struct {
	Choices []chatChoice `json:"choices"`
	Error   *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Complete performs one chat-completions call with the image inlined as a
// base64 data URL, satisfying vision.Completer.
func Complete(ctx context.Context, provider, model, baseURL, apiKey, imagePath, prompt string) (string, error) {
	if baseURL == "" {
		return "", fmt.Errorf("visionclient: %s: no base URL resolved", provider)
	}

	dataURL, err := encodeImage(imagePath)
	if err != nil {
		return "", fmt.Errorf("visionclient: %s: %w", provider, err)
	}

	body := chatRequest{
		Model: model,
		Messages: []chatMessage{
			{
				Role: "user",
				Content: []contentPart{
					{Type: "text", Text: prompt},
					{Type: "image_url", ImageURL: &imageURL{URL: dataURL}},
				},
			},
		},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("visionclient: encode request: %w", err)
	}

	endpoint := strings.TrimRight(baseURL, "/") + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("visionclient: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+apiKey)
	}

	resp, err := HTTPClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("visionclient: %s: request failed: %w", provider, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("visionclient: %s: read response: %w", provider, err)
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("visionclient: %s: decode response (status %d): %w", provider, resp.StatusCode, err)
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("visionclient: %s: %s", provider, parsed.Error.Message)
	}
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("visionclient: %s: status %d: %s", provider, resp.StatusCode, string(raw))
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("visionclient: %s: empty choices", provider)
	}
	return parsed.Choices[0].Message.Content, nil
}

func encodeImage(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read image: %w", err)
	}
	ctype := mime.TypeByExtension(filepath.Ext(path))
	if ctype == "" {
		ctype = "image/jpeg"
	}
	return fmt.Sprintf("data:%s;base64,%s", ctype, base64.StdEncoding.EncodeToString(data)), nil
}
