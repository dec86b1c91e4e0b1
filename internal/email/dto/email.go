package dto

import "time"

// WebhookEmail is one message entry in the classification dispatch payload.
type WebhookEmail struct {
	MessageID             string    `json:"message_id"`
	ThreadID              string    `json:"thread_id"`
	From                  string    `json:"from"`
	SenderEmail           string    `json:"sender_email"`
	SenderName            string    `json:"sender_name"`
	Subject               string    `json:"subject"`
	Snippet               string    `json:"snippet"`
	ReceivedDate          time.Time `json:"received_date"`
	LabelIDs              []string  `json:"label_ids"`
	CurrentClassification string    `json:"current_classification"`
}

type SyncInfo struct {
	IsFirstSync   bool      `json:"is_first_sync"`
	TotalEmails   int       `json:"total_emails"`
	SyncTimestamp time.Time `json:"sync_timestamp"`
}

// WebhookPayload is the aggregate batch POSTed once per run per connection
// to the user's external classification webhook.
type WebhookPayload struct {
	UserID       string         `json:"user_id"`
	ConnectionID string         `json:"connection_id"`
	UserEmail    string         `json:"user_email"`
	AccessToken  string         `json:"access_token"`
	Emails       []WebhookEmail `json:"emails"`
	SyncInfo     SyncInfo       `json:"sync_info"`
}

// ClassificationResult is one item of the async classifier callback.
type ClassificationResult struct {
	MessageID         string  `json:"message_id"`
	Classification    string  `json:"classification"`
	AIConfidenceScore float64 `json:"ai_confidence_score"`
	AIReasoning       string  `json:"ai_reasoning"`
	ActionTaken       string  `json:"action_taken,omitempty"`
}

type ClassificationResultsRequest struct {
	UserID  string                 `json:"user_id" binding:"required"`
	Results []ClassificationResult `json:"results" binding:"required"`
}

type ClassificationResultsResponse struct {
	Success   bool     `json:"success"`
	Processed int      `json:"processed"`
	Updated   int      `json:"updated"`
	Moved     int      `json:"moved"`
	Errors    []string `json:"errors,omitempty"`
}

// SyncSummary is the per-connection outcome reported by a sync run.
type SyncSummary struct {
	UserID       string `json:"user_id"`
	ConnectionID string `json:"connection_id"`
	NewEmails    int    `json:"new_emails"`
	AutoBlocked  int    `json:"auto_blocked,omitempty"`
	Failed       int    `json:"failed,omitempty"`
	WebhookSent  bool   `json:"webhook_sent,omitempty"`
	IsFirstSync  bool   `json:"is_first_sync,omitempty"`
	Skipped      string `json:"skipped,omitempty"`
	Error        string `json:"error,omitempty"`
}

type SyncResponse struct {
	Success   bool           `json:"success"`
	Processed int            `json:"processed"`
	Results   []*SyncSummary `json:"results"`
}

type OAuthCallbackRequest struct {
	Code  string `json:"code" binding:"required"`
	State string `json:"state" binding:"required"`
}
