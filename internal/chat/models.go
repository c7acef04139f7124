package chat

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"
)

// Message is one conversational turn as exchanged with the chat dialog.
type Message struct {
	ID            string `json:"id"`
	Content       string `json:"content"`
	IsUserMessage bool   `json:"isUserMessage"`
}

// Blank reports whether the message carries no usable text.
func (m Message) Blank() bool {
	return strings.TrimSpace(m.Content) == ""
}

type CompletionRequest struct {
	Message Message   `json:"message"`
	History []Message `json:"history"`
}

// Fingerprint identifies the whole request: the message id, its text and the
// history sent with it. Two requests with equal fingerprints ask the same
// question in the same conversation.
func (r CompletionRequest) Fingerprint() string {
	b, _ := json.Marshal(struct {
		ID      string    `json:"id"`
		Content string    `json:"content"`
		History []Message `json:"history"`
	}{strings.TrimSpace(r.Message.ID), r.Message.Content, r.History})
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// CompletionResponse is the assistant turn. Error is set when every model
// failed and Content holds the static apology.
type CompletionResponse struct {
	ID            string `json:"id"`
	Content       string `json:"content"`
	IsUserMessage bool   `json:"isUserMessage"`
	Error         bool   `json:"error,omitempty"`
}

// CompletionLog is operational telemetry for one completion; it never stores
// conversation text.
type CompletionLog struct {
	ID         uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	ResponseID string    `gorm:"type:varchar(64);index;not null" json:"response_id"`
	Model      string    `gorm:"type:varchar(128)" json:"model"`
	Fallback   bool      `gorm:"not null" json:"fallback"`
	HistoryLen int       `gorm:"not null" json:"history_len"`
	LatencyMS  int64     `gorm:"not null" json:"latency_ms"`
	CreatedAt  time.Time `gorm:"index" json:"created_at"`
}

func (CompletionLog) TableName() string { return "completion_logs" }
