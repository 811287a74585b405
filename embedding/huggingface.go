package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const huggingFaceInferenceURL = "https://router.huggingface.co/hf-inference/models/"

// HuggingFaceProvider calls the Hugging Face Inference API for a single
// embedding model, BAAI/bge-small-en-v1.5, whose native output dimension
// (384) matches the graph store's vector index dimension exactly — no
// truncation or padding step is needed between provider and store.
type HuggingFaceProvider struct {
	model  string
	apiKey string
	client *http.Client
}

// NewHuggingFaceProvider builds a provider against the fixed model. apiKey
// comes from EMBEDDING_API_KEY (config.EmbeddingConfig.APIKey); passing an
// empty key is a configuration error surfaced on first use.
func NewHuggingFaceProvider(apiKey string) *HuggingFaceProvider {
	transport := &http.Transport{
		MaxIdleConns:        1,
		MaxIdleConnsPerHost: 1,
		MaxConnsPerHost:     2,
		IdleConnTimeout:     30 * time.Second,
	}
	return &HuggingFaceProvider{
		model:  "BAAI/bge-small-en-v1.5",
		apiKey: apiKey,
		client: &http.Client{Timeout: 120 * time.Second, Transport: transport},
	}
}

// Dimension reports the fixed embedding width.
func (p *HuggingFaceProvider) Dimension() int { return Dimension }

type huggingFaceRequest struct {
	Inputs  string                 `json:"inputs"`
	Options map[string]interface{} `json:"options,omitempty"`
}

// Embed calls the model with a single input and mean-pools a token-level
// response, mirroring the response shapes the Inference API has been
// observed to return for sentence-embedding models.
func (p *HuggingFaceProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if p.apiKey == "" {
		return nil, fmt.Errorf("embedding: no API key configured")
	}

	reqBody, err := json.Marshal(huggingFaceRequest{Inputs: text, Options: map[string]interface{}{"wait_for_model": true}})
	if err != nil {
		return nil, fmt.Errorf("embedding: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, huggingFaceInferenceURL+p.model, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("embedding: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding: request hugging face: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("embedding: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embedding: hugging face status %d: %s", resp.StatusCode, string(body))
	}

	return parseEmbeddingResponse(body)
}

func parseEmbeddingResponse(body []byte) ([]float32, error) {
	var flat []float64
	if err := json.Unmarshal(body, &flat); err == nil {
		return toFloat32(flat), nil
	}

	var batch [][]float64
	if err := json.Unmarshal(body, &batch); err == nil && len(batch) > 0 {
		return toFloat32(batch[0]), nil
	}

	var tokenLevel [][]float64
	if err := json.Unmarshal(body, &tokenLevel); err == nil {
		return meanPool(tokenLevel), nil
	}

	var batchTokenLevel [][][]float64
	if err := json.Unmarshal(body, &batchTokenLevel); err == nil && len(batchTokenLevel) > 0 {
		return meanPool(batchTokenLevel[0]), nil
	}

	return nil, fmt.Errorf("embedding: unrecognized response shape")
}

func meanPool(tokenEmbeddings [][]float64) []float32 {
	if len(tokenEmbeddings) == 0 {
		return nil
	}
	dim := len(tokenEmbeddings[0])
	pooled := make([]float32, dim)
	for _, tok := range tokenEmbeddings {
		for i, v := range tok {
			if i < dim {
				pooled[i] += float32(v)
			}
		}
	}
	n := float32(len(tokenEmbeddings))
	for i := range pooled {
		pooled[i] /= n
	}
	return pooled
}

func toFloat32(in []float64) []float32 {
	out := make([]float32, len(in))
	for i, v := range in {
		out[i] = float32(v)
	}
	return out
}
