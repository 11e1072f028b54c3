package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
)

// client speaks the OpenAI /v1/embeddings format, which covers vLLM,
// Ollama, ONNX serving and OpenAI itself.
type client struct {
	base      string
	model     string
	batchSize int
	http      *http.Client
	cfg       Config

	mu  sync.Mutex // protects dim until first detection
	dim int
}

func newClient(cfg Config) *client {
	return &client{
		base:      strings.TrimRight(cfg.Endpoint, "/"),
		model:     cfg.Model,
		batchSize: cfg.BatchSize,
		http:      &http.Client{Timeout: cfg.Timeout},
		cfg:       cfg,
		dim:       cfg.Dimension,
	}
}

type embeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Model string `json:"model"`
}

func (c *client) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (c *client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	out := make([][]float32, len(texts))
	for start := 0; start < len(texts); start += c.batchSize {
		end := start + c.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		vecs, err := c.post(ctx, texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("embedder: batch [%d:%d]: %w", start, end, err)
		}
		copy(out[start:end], vecs)
	}
	return out, nil
}

func (c *client) post(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(embeddingRequest{Model: c.model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	endpoint := c.base + "/v1/embeddings"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("POST %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("HTTP %d from %s: %s", resp.StatusCode, endpoint, detail)
	}

	var parsed embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(parsed.Data) == 0 {
		return nil, fmt.Errorf("no embeddings returned from %s", endpoint)
	}

	c.detectDimension(parsed)

	// Responses come back indexed; reassemble in input order and refuse
	// partial batches.
	vecs := make([][]float32, len(texts))
	for _, d := range parsed.Data {
		if d.Index >= 0 && d.Index < len(vecs) {
			vecs[d.Index] = d.Embedding
		}
	}
	for i, v := range vecs {
		if v == nil {
			return nil, fmt.Errorf("missing embedding for input index %d", i)
		}
	}
	return vecs, nil
}

func (c *client) detectDimension(parsed embeddingResponse) {
	if len(parsed.Data[0].Embedding) == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.dim == 0 {
		c.dim = len(parsed.Data[0].Embedding)
		c.cfg.Logger.Info("detected embedding dimension",
			"dimension", c.dim,
			"model", parsed.Model)
	}
}

func (c *client) Dimension() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dim
}

func (c *client) Model() string { return c.model }
func (c *client) Ready() bool   { return true }
