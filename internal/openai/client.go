// Package openai is a small client for OpenAI-compatible inference backends.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const (
	DefaultBaseURL        = "https://api.openai.com/v1"
	DefaultChatModel      = "gpt-4o-mini"
	DefaultEmbeddingModel = "text-embedding-ada-002"
)

type Client struct {
	APIKey         string
	BaseURL        string
	ChatModel      string
	EmbeddingModel string
	client         *http.Client
}

func NewClient(apiKey, baseURL, chatModel string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if chatModel == "" {
		chatModel = DefaultChatModel
	}
	return &Client{
		APIKey:         apiKey,
		BaseURL:        strings.TrimRight(baseURL, "/"),
		ChatModel:      chatModel,
		EmbeddingModel: DefaultEmbeddingModel,
		client:         &http.Client{},
	}
}

type EmbeddingRequest struct {
	Input []string `json:"input"`
	Model string   `json:"model"`
}

type EmbeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Model string `json:"model"`
}

type ChatRequest struct {
	Model    string        `json:"model"`
	Messages []ChatMessage `json:"messages"`
	Stream   bool          `json:"stream,omitempty"`
}

type ChatResponse struct {
	Choices []struct {
		Message      ChatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// ChatMessage represents a message in chat completion
type ChatMessage struct {
	Role    string `json:"role"` // "system", "user", or "assistant"
	Content string `json:"content"`
}

// CreateEmbeddings embeds every text and returns the vectors in input order
func (c *Client) CreateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	var embResp EmbeddingResponse
	if err := c.post(ctx, "/embeddings", EmbeddingRequest{Input: texts, Model: c.EmbeddingModel}, &embResp); err != nil {
		return nil, err
	}

	if len(embResp.Data) != len(texts) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(embResp.Data))
	}

	out := make([][]float32, len(texts))
	for _, d := range embResp.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, fmt.Errorf("embedding index %d out of range", d.Index)
		}
		out[d.Index] = d.Embedding
	}
	return out, nil
}

// ChatCompletion generates a chat completion with the configured model
func (c *Client) ChatCompletion(ctx context.Context, messages []ChatMessage) (string, error) {
	var chatResp ChatResponse
	if err := c.post(ctx, "/chat/completions", ChatRequest{Model: c.ChatModel, Messages: messages}, &chatResp); err != nil {
		return "", err
	}

	if len(chatResp.Choices) == 0 {
		return "", fmt.Errorf("no completion returned")
	}

	return chatResp.Choices[0].Message.Content, nil
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	reqBody, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewBuffer(reqBody))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.APIKey)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, string(respBody))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
