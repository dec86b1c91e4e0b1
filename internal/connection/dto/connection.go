package dto

// ConnectionSettingsRequest updates the per-connection classification wiring:
// where batches are POSTed and which label each verdict resolves to.
type ConnectionSettingsRequest struct {
	WebhookURL   *string           `json:"webhook_url"`
	LabelMapping map[string]string `json:"label_mapping"`
}
