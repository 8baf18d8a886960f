package models

// BatchJob is the delay-queue payload for the batch advancer
type BatchJob struct {
	CampaignID int64 `json:"campaign_id"`
	Resume     bool  `json:"resume,omitempty"`
}

// MessageJob is the delay-queue payload for a single send
type MessageJob struct {
	CampaignID int64 `json:"campaign_id"`
	MessageID  int64 `json:"message_id"`
}
