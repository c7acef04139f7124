package handlers

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/smart-doctor/internal/chat"
	"github.com/suPer8Hu/smart-doctor/internal/common"
	"github.com/suPer8Hu/smart-doctor/internal/httpapi/middleware"
	"gorm.io/gorm"
)

// Complete serves the chat dialog. Request and response are bare JSON
// messages, not the envelope, to stay wire compatible with the dialog.
func (h *Handler) Complete(c *gin.Context) {
	var req chat.CompletionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.Message.Blank() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message content is empty"})
		return
	}

	if strings.TrimSpace(req.Message.ID) == "" {
		resp, err := h.reply(c.Request.Context(), req)
		h.writeReply(c, resp, err)
		return
	}

	// message ids are chosen by the client, so only an identical request
	// (id, text and history) may share a reply
	key := req.Fingerprint()
	if h.Cache != nil {
		cached, ok, err := h.Cache.GetReply(c.Request.Context(), key)
		if err != nil {
			log.Printf("[Complete] GetReply failed message_id=%s err=%v", req.Message.ID, err)
		} else if ok {
			c.JSON(http.StatusOK, cached)
			return
		}
	}

	v, err, _ := h.flight.Do(key, func() (any, error) {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(c.Request.Context()), 3*time.Minute)
		defer cancel()

		resp, err := h.reply(ctx, req)
		if err != nil {
			return resp, err
		}
		if h.Cache != nil && !resp.Error {
			ttl := time.Duration(h.Cfg.ReplyCacheTTLSec) * time.Second
			if err := h.Cache.SetReply(ctx, key, resp, ttl); err != nil {
				log.Printf("[Complete] SetReply failed message_id=%s err=%v", req.Message.ID, err)
			}
		}
		return resp, nil
	})
	resp, _ := v.(chat.CompletionResponse)
	h.writeReply(c, resp, err)
}

func (h *Handler) reply(ctx context.Context, req chat.CompletionRequest) (chat.CompletionResponse, error) {
	return h.ChatSvc.Reply(ctx, req)
}

func (h *Handler) writeReply(c *gin.Context, resp chat.CompletionResponse, err error) {
	if err != nil {
		if errors.Is(err, chat.ErrEmptyMessage) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		log.Printf("[Complete] Reply failed request_id=%s err=%v", c.GetString(middleware.RequestIDKey), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) CreateCompletionJob(c *gin.Context) {
	if h.Rabbit == nil {
		common.Fail(c, http.StatusServiceUnavailable, 50301, "async mode disabled")
		return
	}

	var req chat.CompletionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	// read idempotency key
	idempoKey := strings.TrimSpace(c.GetHeader("Idempotency-Key"))
	if len(idempoKey) > 128 {
		common.Fail(c, http.StatusBadRequest, 10003, "idempotency key too long")
		return
	}

	j, created, err := h.ChatSvc.CreateJobOrGetExisting(c.Request.Context(), req, idempoKey)
	if err != nil {
		if errors.Is(err, chat.ErrEmptyMessage) {
			common.Fail(c, http.StatusBadRequest, 10002, "message content is empty")
			return
		}
		log.Printf("[CreateCompletionJob] CreateJobOrGetExisting failed key=%s err=%v", idempoKey, err)
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
		return
	}

	// Enqueue only when a new job was created
	if created {
		if err := h.Rabbit.PublishJob(c.Request.Context(), j.ID); err != nil {
			log.Printf("[CreateCompletionJob] PublishJob failed job_id=%s err=%v", j.ID, err)
			common.Fail(c, http.StatusInternalServerError, 50002, "enqueue failed")
			return
		}
	}

	common.OK(c, gin.H{"job_id": j.ID})
}

func (h *Handler) GetCompletionJob(c *gin.Context) {
	jobID := c.Param("job_id")
	if jobID == "" {
		common.Fail(c, http.StatusBadRequest, 10002, "job_id required")
		return
	}

	j, err := h.ChatSvc.GetJob(c.Request.Context(), jobID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			common.Fail(c, http.StatusNotFound, 40402, "job not found")
			return
		}
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
		return
	}

	job := gin.H{
		"id":         j.ID,
		"status":     j.Status,
		"error":      j.Error,
		"created_at": j.CreatedAt,
		"updated_at": j.UpdatedAt,
	}
	if j.Status == chat.JobSucceeded && j.ResponseID != nil && j.Reply != nil {
		job["response"] = chat.CompletionResponse{
			ID:            *j.ResponseID,
			Content:       *j.Reply,
			IsUserMessage: false,
			Error:         j.Fallback,
		}
	}
	common.OK(c, gin.H{"job": job})
}
