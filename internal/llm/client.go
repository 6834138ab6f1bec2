// Package llm wraps the Google GenAI client behind the three capability
// interfaces the pipeline needs: pattern proposal, failure diagnosis, and
// text embedding. Both generation capabilities return raw structured text;
// decoding and validation happen in the decode package.
package llm

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

// Client wraps the Google GenAI client and provides capability methods.
type Client struct {
	client         *genai.Client
	proposerModel  string
	reasonerModel  string
	embeddingModel string
}

// Options selects the models used for each capability.
type Options struct {
	ProposerModel  string
	ReasonerModel  string
	EmbeddingModel string
}

// NewClient creates a new LLM client with the given API key.
func NewClient(ctx context.Context, apiKey string, opts Options) (*Client, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	return &Client{
		client:         client,
		proposerModel:  opts.ProposerModel,
		reasonerModel:  opts.ReasonerModel,
		embeddingModel: opts.EmbeddingModel,
	}, nil
}

// Embed generates an embedding vector for the given text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := c.client.Models.EmbedContent(ctx, c.embeddingModel, genai.Text(text), nil)
	if err != nil {
		return nil, &TransportError{Op: "embed", Err: err}
	}
	if len(resp.Embeddings) == 0 {
		return nil, &TransportError{Op: "embed", Err: fmt.Errorf("no embedding returned")}
	}
	return resp.Embeddings[0].Values, nil
}

// ProposePattern asks the Pattern Proposer whether the given log line
// follows a repetitive non-error pattern. The reply is structured YAML
// text; callers decode it with decode.ParseProposal.
func (c *Client) ProposePattern(ctx context.Context, line string) (string, error) {
	prompt := buildProposerPrompt(line)
	return c.generate(ctx, "propose", c.proposerModel, prompt)
}

// Diagnose asks the Diagnostic Reasoner for a root-cause diagnosis of the
// failure signature, informed by the retrieved context. The reply is
// structured YAML text; callers decode it with decode.ParseDiagnosis.
func (c *Client) Diagnose(ctx context.Context, retrieved, signature string) (string, error) {
	prompt, err := buildReasonerPrompt(retrieved, signature)
	if err != nil {
		return "", fmt.Errorf("failed to build reasoner prompt: %w", err)
	}
	return c.generate(ctx, "diagnose", c.reasonerModel, prompt)
}

func (c *Client) generate(ctx context.Context, op, model, prompt string) (string, error) {
	cfg := &genai.GenerateContentConfig{Temperature: genai.Ptr(float32(0))}
	resp, err := c.client.Models.GenerateContent(ctx, model, genai.Text(prompt), cfg)
	if err != nil {
		return "", &TransportError{Op: op, Err: err}
	}
	text := resp.Text()
	if text == "" {
		return "", &TransportError{Op: op, Err: fmt.Errorf("empty response from model %s", model)}
	}
	return text, nil
}
