package handlers

import (
	"context"
	"io"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/smart-doctor/internal/chat"
	"github.com/suPer8Hu/smart-doctor/internal/common"
	"github.com/suPer8Hu/smart-doctor/internal/config"
	"github.com/suPer8Hu/smart-doctor/internal/conversation"
	"github.com/suPer8Hu/smart-doctor/internal/diagnosis"
	"golang.org/x/sync/singleflight"
)

// ReplyCache remembers replies keyed by chat.CompletionRequest.Fingerprint.
type ReplyCache interface {
	GetReply(ctx context.Context, key string) (chat.CompletionResponse, bool, error)
	SetReply(ctx context.Context, key string, resp chat.CompletionResponse, ttl time.Duration) error
}

type JobPublisher interface {
	PublishJob(ctx context.Context, jobID string) error
}

type Predictor interface {
	Predict(ctx context.Context, organ diagnosis.Organ, filename string, image io.Reader) (*diagnosis.Result, error)
}

type Handler struct {
	Cfg       config.Config
	ChatSvc   *chat.Service
	Cache     ReplyCache
	Rabbit    JobPublisher
	Diagnosis Predictor
	Policy    conversation.Policy

	flight singleflight.Group
}

func NewHandler(cfg config.Config, svc *chat.Service, cache ReplyCache, rabbit JobPublisher, diag Predictor) *Handler {
	policy, err := conversation.ParsePolicy(cfg.ChatBusyPolicy)
	if err != nil {
		policy = conversation.PolicyQueue
	}
	return &Handler{
		Cfg:       cfg,
		ChatSvc:   svc,
		Cache:     cache,
		Rabbit:    rabbit,
		Diagnosis: diag,
		Policy:    policy,
	}
}

func (h *Handler) Ping(c *gin.Context) {
	common.OK(c, gin.H{"pong": true})
}
