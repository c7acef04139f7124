package diagnosis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

// UpstreamError is a non-2xx answer from an inference endpoint.
type UpstreamError struct {
	StatusCode int
	Detail     string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("diagnosis upstream status=%d: %s", e.StatusCode, e.Detail)
}

// Client forwards uploaded images to the hosted per-organ models.
type Client struct {
	endpoints map[Organ]string
	HC        *http.Client
}

func NewClient(endpoints map[Organ]string) *Client {
	eps := make(map[Organ]string, len(endpoints))
	for k, v := range endpoints {
		eps[k] = v
	}
	return &Client{
		endpoints: eps,
		HC:        &http.Client{Timeout: 90 * time.Second},
	}
}

func (c *Client) Endpoint(organ Organ) (string, bool) {
	u, ok := c.endpoints[organ]
	return u, ok && u != ""
}

// Predict uploads the image bytes unchanged as multipart field "file".
func (c *Client) Predict(ctx context.Context, organ Organ, filename string, image io.Reader) (*Result, error) {
	endpoint, ok := c.Endpoint(organ)
	if !ok {
		return nil, ErrUnknownOrgan
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(part, image); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	start := time.Now()
	resp, err := c.HC.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	log.Printf("[Diagnosis] organ=%s status=%d latency_ms=%d", organ, resp.StatusCode, time.Since(start).Milliseconds())

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &UpstreamError{StatusCode: resp.StatusCode, Detail: detailOf(raw)}
	}

	res, err := newResult(organ, raw)
	if err != nil {
		return nil, fmt.Errorf("decode %s prediction: %w", organ, err)
	}
	return res, nil
}

func detailOf(raw []byte) string {
	var e struct {
		Detail any `json:"detail"`
	}
	if err := json.Unmarshal(raw, &e); err == nil && e.Detail != nil {
		if s, ok := e.Detail.(string); ok {
			return s
		}
		b, _ := json.Marshal(e.Detail)
		return string(b)
	}
	if s := strings.TrimSpace(string(raw)); s != "" {
		return s
	}
	return "Upload failed"
}
