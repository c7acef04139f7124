package ai

import (
	"context"
	"log"
	"time"
)

const (
	DefaultRetryDelay = 2 * time.Second

	// FallbackText is returned when no model produced an answer.
	FallbackText = "عذراً، نواجه ضغطاً كبيراً على الخوادم حالياً. يرجى الانتظار دقيقة واحدة ثم المحاولة مرة أخرى."
)

// Result of a completion. Error is set only when every model failed and Text
// holds FallbackText.
type Result struct {
	Text  string `json:"text"`
	Error bool   `json:"error,omitempty"`
	Model string `json:"model,omitempty"`
}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

type FallbackOption func(*FallbackClient)

func WithRetryDelay(d time.Duration) FallbackOption {
	return func(c *FallbackClient) { c.delay = d }
}

func WithSleeper(s Sleeper) FallbackOption {
	return func(c *FallbackClient) { c.sleep = s }
}

// WithSkipFinalDelay drops the wait after the last model in the list fails.
func WithSkipFinalDelay(skip bool) FallbackOption {
	return func(c *FallbackClient) { c.skipFinalDelay = skip }
}

// FallbackClient tries the models of a priority list in order until one answers.
type FallbackClient struct {
	registry       *Registry
	models         []ModelRef
	delay          time.Duration
	sleep          Sleeper
	skipFinalDelay bool
}

func NewFallbackClient(registry *Registry, models []ModelRef, opts ...FallbackOption) *FallbackClient {
	c := &FallbackClient{
		registry: registry,
		models:   append([]ModelRef(nil), models...),
		delay:    DefaultRetryDelay,
		sleep:    sleepContext,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Models returns a copy of the priority list.
func (c *FallbackClient) Models() []ModelRef {
	return append([]ModelRef(nil), c.models...)
}

// Complete never returns an error: on total failure the result carries
// FallbackText and Error=true.
func (c *FallbackClient) Complete(ctx context.Context, messages []Message) Result {
	var lastErr error

	for i, ref := range c.models {
		text, err := c.try(ctx, ref, messages)
		if err == nil {
			return Result{Text: text, Model: ref.String()}
		}
		lastErr = err

		pe := AsProviderError(err)
		if !IsRetryable(pe) {
			log.Printf("[AI] model %q failed with non-retryable error: %v", ref, err)
			break
		}

		log.Printf("[AI] model %q failed due to rate/quota limits, trying next fallback: %v", ref, err)
		if c.skipFinalDelay && i == len(c.models)-1 {
			break
		}
		if err := c.sleep(ctx, c.delay); err != nil {
			lastErr = err
			break
		}
	}

	log.Printf("[AI] all models failed, models=%d last_err=%v", len(c.models), lastErr)
	return Result{Text: FallbackText, Error: true}
}

func (c *FallbackClient) try(ctx context.Context, ref ModelRef, messages []Message) (string, error) {
	p, err := c.registry.Get(ctx, ref.Provider, ref.Model)
	if err != nil {
		return "", err
	}
	return p.Chat(ctx, messages)
}
