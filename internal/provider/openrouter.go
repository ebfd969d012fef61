package provider

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	defaultOpenRouterBaseURL = "https://openrouter.ai/api/v1"
	defaultOpenRouterModel   = "google/gemini-2.5-flash"
)

// OpenRouterClient calls the OpenRouter chat completions API. It supports
// per-frame image analysis and whole-video multimodal analysis via data URIs.
type OpenRouterClient struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string        `json:"role"`
	Content []contentPart `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *mediaURL `json:"image_url,omitempty"`
	VideoURL *mediaURL `json:"video_url,omitempty"`
}

type mediaURL struct {
	URL string `json:"url"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// NewOpenRouterClient creates an OpenRouter client. baseURL and model fall
// back to defaults when empty.
func NewOpenRouterClient(apiKey, baseURL, model string) (*OpenRouterClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openrouter API key is required")
	}
	if baseURL == "" {
		baseURL = defaultOpenRouterBaseURL
	}
	if model == "" {
		model = defaultOpenRouterModel
	}
	return &OpenRouterClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		model:   model,
		httpClient: &http.Client{
			Timeout: 300 * time.Second,
		},
	}, nil
}

func (o *OpenRouterClient) Name() string { return "openrouter" }

// AnalyzeFrame sends one JPEG frame as a data URI image part.
func (o *OpenRouterClient) AnalyzeFrame(ctx context.Context, image []byte, prompt string) (string, error) {
	if len(image) == 0 {
		return "", fmt.Errorf("empty frame image")
	}
	part := contentPart{
		Type: "image_url",
		ImageURL: &mediaURL{
			URL: "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(image),
		},
	}
	return o.complete(ctx, prompt, part)
}

// AnalyzeVideo sends the entire MP4 as a data URI video part. Only some
// upstream models accept video input; unsupported models answer 400.
func (o *OpenRouterClient) AnalyzeVideo(ctx context.Context, video []byte, prompt string) (string, error) {
	if len(video) == 0 {
		return "", fmt.Errorf("empty video payload")
	}
	part := contentPart{
		Type: "video_url",
		VideoURL: &mediaURL{
			URL: "data:video/mp4;base64," + base64.StdEncoding.EncodeToString(video),
		},
	}
	return o.complete(ctx, prompt, part)
}

func (o *OpenRouterClient) complete(ctx context.Context, prompt string, media contentPart) (string, error) {
	reqBody := chatRequest{
		Model: o.model,
		Messages: []chatMessage{{
			Role: "user",
			Content: []contentPart{
				{Type: "text", Text: prompt},
				media,
			},
		}},
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal openrouter request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to create openrouter request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+o.apiKey)

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("openrouter request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read openrouter response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", &APIError{StatusCode: resp.StatusCode, Message: apiMessage(body)}
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("failed to decode openrouter response: %w", err)
	}
	if parsed.Error != nil {
		// OpenRouter reports some upstream failures inside a 200 envelope.
		return "", &APIError{StatusCode: parsed.Error.Code, Message: parsed.Error.Message}
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("openrouter response contained no choices")
	}
	return parsed.Choices[0].Message.Content, nil
}
