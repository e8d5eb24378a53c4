// Package ocr wraps the Ollama vision-model API for document text
// extraction. The batch runner treats this client as an opaque collaborator:
// every failure comes back as one of the typed errors below and is recorded
// as data, never allowed to kill the batch loop.
package ocr

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/davekm/docvision/internal/models"
)

// Typed failure modes the batch runner converts into mark-file-error calls.
var (
	ErrConnection          = errors.New("cannot connect to model endpoint")
	ErrTimeout             = errors.New("model request timed out")
	ErrMalformedResponse   = errors.New("malformed model response")
	ErrUnsupportedFileType = errors.New("unsupported file type")
)

var supportedImageExtensions = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".bmp": true,
	".tiff": true, ".tif": true, ".webp": true,
}

// Rasterizer turns a PDF into per-page image files. Implemented by
// pdf.PageExtractor; swappable for a real renderer.
type Rasterizer interface {
	PageImages(pdfPath string) ([]string, func(), error)
}

// Extraction is the outcome of processing one document.
type Extraction struct {
	RawText               string
	StructuredData        models.JSONMap
	Fields                *StructuredFields
	PageCount             int
	ProcessingTimeSeconds float64
}

type Client struct {
	baseURL    string
	model      string
	httpClient *http.Client
	rasterizer Rasterizer
}

func NewClient(baseURL, model string, timeout time.Duration, rasterizer Rasterizer) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		httpClient: &http.Client{
			Timeout: timeout, // vision models are slow, callers pass minutes here
		},
		rasterizer: rasterizer,
	}
}

// ProcessDocument runs OCR over one file (PDF or image) and returns raw text
// and/or structured fields per the flags.
func (c *Client) ProcessDocument(ctx context.Context, filePath, docType string, extractRaw, extractStructured bool) (*Extraction, error) {
	start := time.Now()
	fileName := filepath.Base(filePath)
	ext := strings.ToLower(filepath.Ext(filePath))

	var pages []string
	var pageCount int

	switch {
	case ext == ".pdf":
		if c.rasterizer == nil {
			return nil, fmt.Errorf("%w: no rasterizer configured for %s", ErrUnsupportedFileType, ext)
		}
		imgs, cleanup, err := c.rasterizer.PageImages(filePath)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnsupportedFileType, err)
		}
		defer cleanup()
		pages = imgs
		pageCount = len(imgs)
	case supportedImageExtensions[ext]:
		pages = []string{filePath}
		pageCount = 1
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFileType, ext)
	}

	var rawParts []string
	allStructured := models.JSONMap{}

	for i, imgPath := range pages {
		pageNum := i + 1
		log.Printf("Processing page %d/%d of %s", pageNum, pageCount, fileName)

		if extractRaw {
			text, err := c.generate(ctx, rawTextPrompt, imgPath)
			if err != nil {
				return nil, err
			}
			rawParts = append(rawParts, fmt.Sprintf("--- Page %d ---\n%s", pageNum, text))
		}

		if extractStructured {
			resp, err := c.generate(ctx, structuredPrompt(docType), imgPath)
			if err != nil {
				return nil, err
			}
			mergeStructured(allStructured, parseStructuredJSON(resp))
		}
	}

	extraction := &Extraction{
		RawText:               strings.Join(rawParts, "\n\n"),
		PageCount:             pageCount,
		ProcessingTimeSeconds: time.Since(start).Seconds(),
	}
	if extractStructured {
		extraction.StructuredData = allStructured
		extraction.Fields = TypedFields(docType, allStructured)
	}

	return extraction, nil
}

type generateRequest struct {
	Model   string          `json:"model"`
	Prompt  string          `json:"prompt"`
	Images  []string        `json:"images"`
	Stream  bool            `json:"stream"`
	Options generateOptions `json:"options"`
}

type generateOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict"`
}

type generateResponse struct {
	Response string `json:"response"`
}

// generate calls Ollama's /api/generate endpoint with one image.
func (c *Client) generate(ctx context.Context, prompt, imagePath string) (string, error) {
	imgData, err := os.ReadFile(imagePath)
	if err != nil {
		return "", fmt.Errorf("failed to read image %s: %w", filepath.Base(imagePath), err)
	}

	body, err := json.Marshal(generateRequest{
		Model:  c.model,
		Prompt: prompt,
		Images: []string{base64.StdEncoding.EncodeToString(imgData)},
		Stream: false,
		Options: generateOptions{
			Temperature: 0.1,
			NumPredict:  4096,
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		var urlErr *url.Error
		if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &urlErr) && urlErr.Timeout()) {
			return "", fmt.Errorf("%w after %s", ErrTimeout, c.httpClient.Timeout)
		}
		return "", fmt.Errorf("%w at %s: %v", ErrConnection, c.baseURL, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: status %d: %s", ErrMalformedResponse, resp.StatusCode, truncate(string(respBody), 200))
	}

	var out generateResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	log.Printf("Model call complete in %.1fs (response %d chars)", time.Since(start).Seconds(), len(out.Response))
	return out.Response, nil
}

// HealthCheck reports whether the model endpoint is reachable.
func (c *Client) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w at %s: %v", ErrConnection, c.baseURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d", ErrMalformedResponse, resp.StatusCode)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
