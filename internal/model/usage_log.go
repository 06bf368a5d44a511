package model

import "time"

type UsageAction string

const (
	UsageActionTransformation UsageAction = "transformation"
	UsageActionUpload         UsageAction = "upload"
	UsageActionDownload       UsageAction = "download"
	UsageActionAPICall        UsageAction = "api_call"
)

// UsageLog is one quota-consuming action.
type UsageLog struct {
	ID               string         `db:"id" json:"id"`
	UserID           string         `db:"user_id" json:"user_id"`
	TransformationID *string        `db:"transformation_id" json:"transformation_id,omitempty"`
	Action           UsageAction    `db:"action" json:"action"`
	ResourceType     *string        `db:"resource_type" json:"resource_type,omitempty"`
	CostCredits      int            `db:"cost_credits" json:"cost_credits"`
	Metadata         map[string]any `db:"metadata" json:"metadata,omitempty"`
	IPAddress        *string        `db:"ip_address" json:"ip_address,omitempty"`
	UserAgent        *string        `db:"user_agent" json:"user_agent,omitempty"`
	CreatedAt        time.Time      `db:"created_at" json:"created_at"`
}
