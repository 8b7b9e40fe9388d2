package embedding

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

// ClipClient talks to a CLIP sidecar service over HTTP. The sidecar exposes
// POST /embed/text and POST /embed/images, both returning float vectors of
// the configured dimensionality. Images are sent base64-encoded so the
// sidecar does not need to share a filesystem with this process.
type ClipClient struct {
	baseURL    string
	dimensions int
	client     *http.Client
}

type embedTextRequest struct {
	Texts []string `json:"texts"`
}

type embedImagesRequest struct {
	Images []string `json:"images_b64"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// NewClipClient creates a client for the embedding service at baseURL.
// timeout bounds each request; batch image requests can take a while on CPU,
// so configure it generously.
func NewClipClient(baseURL string, dimensions int, timeout time.Duration) (*ClipClient, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("embedding service URL is required")
	}
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive, got %d", dimensions)
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &ClipClient{
		baseURL:    baseURL,
		dimensions: dimensions,
		client:     &http.Client{Timeout: timeout},
	}, nil
}

// EmbedText returns the embedding for a single query string.
func (c *ClipClient) EmbedText(ctx context.Context, text string) ([]float32, error) {
	embeddings, err := c.post(ctx, "/embed/text", embedTextRequest{Texts: []string{text}})
	if err != nil {
		return nil, err
	}
	if len(embeddings) != 1 {
		return nil, fmt.Errorf("embedding service returned %d vectors for one text", len(embeddings))
	}
	return embeddings[0], nil
}

// EmbedImage embeds a single image file.
func (c *ClipClient) EmbedImage(ctx context.Context, path string) ([]float32, error) {
	embeddings, err := c.EmbedImageBatch(ctx, []string{path})
	if err != nil {
		return nil, err
	}
	return embeddings[0], nil
}

// EmbedImageBatch reads the image files and embeds them in one request,
// preserving order.
func (c *ClipClient) EmbedImageBatch(ctx context.Context, paths []string) ([][]float32, error) {
	if len(paths) == 0 {
		return nil, nil
	}
	req := embedImagesRequest{Images: make([]string, len(paths))}
	for i, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("read image %s: %w", p, err)
		}
		req.Images[i] = base64.StdEncoding.EncodeToString(data)
	}
	embeddings, err := c.post(ctx, "/embed/images", req)
	if err != nil {
		return nil, err
	}
	if len(embeddings) != len(paths) {
		return nil, fmt.Errorf("embedding service returned %d vectors for %d images",
			len(embeddings), len(paths))
	}
	return embeddings, nil
}

func (c *ClipClient) post(ctx context.Context, endpoint string, payload interface{}) ([][]float32, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal embed request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding service request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("embedding service returned %d: %s", resp.StatusCode, msg)
	}

	var out embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode embed response: %w", err)
	}
	for i, emb := range out.Embeddings {
		if len(emb) != c.dimensions {
			return nil, fmt.Errorf("embedding %d has %d dimensions, expected %d",
				i, len(emb), c.dimensions)
		}
	}
	return out.Embeddings, nil
}

// Dimensions returns the configured embedding dimensionality.
func (c *ClipClient) Dimensions() int {
	return c.dimensions
}

// Close is a no-op; the underlying http.Client needs no teardown.
func (c *ClipClient) Close() error {
	return nil
}
