package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/suPer8Hu/smart-doctor/internal/ai"
	"github.com/suPer8Hu/smart-doctor/internal/common"
)

var ErrEmptyMessage = errors.New("message content is empty")

// Completer is satisfied by *ai.FallbackClient.
type Completer interface {
	Complete(ctx context.Context, messages []ai.Message) ai.Result
}

type Service struct {
	repo              *Repo
	completer         Completer
	prompt            PromptTemplate
	contextWindowSize int
	now               func() time.Time
}

func NewService(repo *Repo, completer Completer, prompt PromptTemplate, contextWindowSize int) *Service {
	if contextWindowSize <= 0 || contextWindowSize > 100 {
		contextWindowSize = 10
	}
	return &Service{
		repo:              repo,
		completer:         completer,
		prompt:            prompt,
		contextWindowSize: contextWindowSize,
		now:               time.Now,
	}
}

// Reply answers one user message. Provider failures never surface as errors:
// the response then carries the apology text with Error set.
func (s *Service) Reply(ctx context.Context, req CompletionRequest) (CompletionResponse, error) {
	if req.Message.Blank() {
		return CompletionResponse{}, ErrEmptyMessage
	}

	history := windowOf(req.History, s.contextWindowSize)

	start := s.now()
	res := s.completer.Complete(ctx, s.prompt.Build(req.Message, history))
	latency := s.now().Sub(start)

	id, err := common.NewULID()
	if err != nil {
		return CompletionResponse{}, err
	}
	resp := CompletionResponse{
		ID:            id + "_ai_response",
		Content:       res.Text,
		IsUserMessage: false,
		Error:         res.Error,
	}

	if s.repo != nil {
		entry := &CompletionLog{
			ResponseID: resp.ID,
			Model:      res.Model,
			Fallback:   res.Error,
			HistoryLen: len(history),
			LatencyMS:  latency.Milliseconds(),
		}
		// telemetry must not fail the reply
		if err := s.repo.InsertCompletionLog(ctx, entry); err != nil {
			log.Printf("[Reply] InsertCompletionLog failed response_id=%s err=%v", resp.ID, err)
		}
	}
	return resp, nil
}

// windowOf drops blank messages and keeps the trailing n.
func windowOf(history []Message, n int) []Message {
	out := make([]Message, 0, len(history))
	for _, m := range history {
		if m.Blank() {
			continue
		}
		out = append(out, m)
	}
	if len(out) > n {
		out = out[len(out)-n:]
	}
	return out
}

func (s *Service) CreateJobOrGetExisting(ctx context.Context, req CompletionRequest, idempotencyKey string) (*Job, bool, error) {
	if req.Message.Blank() {
		return nil, false, ErrEmptyMessage
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, false, err
	}
	jobID, err := common.NewULID()
	if err != nil {
		return nil, false, err
	}

	j := &Job{
		ID:      jobID,
		Payload: string(payload),
		Status:  JobQueued,
	}
	if key := strings.TrimSpace(idempotencyKey); key != "" {
		j.IdempotencyKey = &key
	}
	return s.repo.CreateJobOrGetExisting(ctx, j)
}

func (s *Service) GetJob(ctx context.Context, jobID string) (*Job, error) {
	return s.repo.GetJobByID(ctx, jobID)
}

// RunJob executes a queued job. Re-deliveries of a job that is no longer
// queued are ignored.
func (s *Service) RunJob(ctx context.Context, jobID string) error {
	claimed, err := s.repo.UpdateJobStatusRunning(ctx, jobID)
	if err != nil {
		return err
	}
	if !claimed {
		log.Printf("[RunJob] job %s not queued, skipping", jobID)
		return nil
	}

	j, err := s.repo.GetJobByID(ctx, jobID)
	if err != nil {
		return err
	}

	var req CompletionRequest
	if err := json.Unmarshal([]byte(j.Payload), &req); err != nil {
		_ = s.repo.MarkJobFailed(ctx, jobID, "invalid payload")
		return fmt.Errorf("decode job %s: %w", jobID, err)
	}

	resp, err := s.Reply(ctx, req)
	if err != nil {
		_ = s.repo.MarkJobFailed(ctx, jobID, err.Error())
		return err
	}
	return s.repo.MarkJobSucceeded(ctx, jobID, resp)
}

// PurgeExpired removes finished jobs and telemetry older than retention.
func (s *Service) PurgeExpired(ctx context.Context, retention time.Duration) (int64, error) {
	return s.repo.PurgeBefore(ctx, s.now().Add(-retention))
}
