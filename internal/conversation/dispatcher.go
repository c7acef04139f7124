package conversation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/suPer8Hu/smart-doctor/internal/chat"
)

// Dispatcher delivers one completion request to the backend.
type Dispatcher interface {
	Dispatch(ctx context.Context, req chat.CompletionRequest) (chat.CompletionResponse, error)
}

// DispatcherFunc adapts a function to Dispatcher.
type DispatcherFunc func(ctx context.Context, req chat.CompletionRequest) (chat.CompletionResponse, error)

func (f DispatcherFunc) Dispatch(ctx context.Context, req chat.CompletionRequest) (chat.CompletionResponse, error) {
	return f(ctx, req)
}

// TransportError is a non-2xx answer from the completion endpoint.
type TransportError struct {
	StatusCode int
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("failed to fetch message: %d", e.StatusCode)
}

// HTTPDispatcher posts requests to the local completion endpoint.
type HTTPDispatcher struct {
	Endpoint string
	HC       *http.Client
}

func NewHTTPDispatcher(endpoint string) *HTTPDispatcher {
	return &HTTPDispatcher{
		Endpoint: endpoint,
		HC:       &http.Client{Timeout: 120 * time.Second},
	}
}

func (d *HTTPDispatcher) Dispatch(ctx context.Context, req chat.CompletionRequest) (chat.CompletionResponse, error) {
	if req.History == nil {
		req.History = []chat.Message{}
	}
	b, err := json.Marshal(req)
	if err != nil {
		return chat.CompletionResponse{}, err
	}

	hreq, err := http.NewRequestWithContext(ctx, http.MethodPost, d.Endpoint, bytes.NewReader(b))
	if err != nil {
		return chat.CompletionResponse{}, err
	}
	hreq.Header.Set("Content-Type", "application/json")

	resp, err := d.HC.Do(hreq)
	if err != nil {
		return chat.CompletionResponse{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return chat.CompletionResponse{}, &TransportError{StatusCode: resp.StatusCode}
	}

	var out chat.CompletionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return chat.CompletionResponse{}, fmt.Errorf("decode completion response: %w", err)
	}
	return out, nil
}

// ServiceDispatcher calls the chat service in process.
type ServiceDispatcher struct {
	Service *chat.Service
}

func (d ServiceDispatcher) Dispatch(ctx context.Context, req chat.CompletionRequest) (chat.CompletionResponse, error) {
	return d.Service.Reply(ctx, req)
}
