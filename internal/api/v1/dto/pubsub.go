package dto

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// PubSubPushRequest is the request body for a Pub/Sub push notification.
type PubSubPushRequest struct {
	Message      PubSubMessage `json:"message"`
	Subscription string        `json:"subscription"`
}

// PubSubMessage is the actual message from Pub/Sub.
type PubSubMessage struct {
	Data       string            `json:"data"` // Base64-encoded
	MessageID  string            `json:"messageId"`
	Attributes map[string]string `json:"attributes"`
}

// DecodeData returns the message payload. Data that is not valid base64 is
// returned as-is.
func (m PubSubMessage) DecodeData() []byte {
	decoded, err := base64.StdEncoding.DecodeString(m.Data)
	if err != nil {
		return []byte(m.Data)
	}
	return decoded
}

// DecodeJSON unmarshals the base64 payload into v.
func (m PubSubMessage) DecodeJSON(v any) error {
	if err := json.Unmarshal(m.DecodeData(), v); err != nil {
		return fmt.Errorf("decode message %s: %w", m.MessageID, err)
	}
	return nil
}

// TransformationJob is published for the image worker when a
// transformation is created.
type TransformationJob struct {
	TransformationID string         `json:"transformation_id"`
	UserID           string         `json:"user_id"`
	InputImageID     string         `json:"input_image_id"`
	InputKey         string         `json:"input_key"`
	InputBucket      string         `json:"input_bucket"`
	Type             string         `json:"transformation_type"`
	Parameters       map[string]any `json:"parameters"`
}

// TransformationStatusMessage is pushed back by the image worker.
type TransformationStatusMessage struct {
	TransformationID string         `json:"transformation_id"`
	Status           string         `json:"status"`
	OutputImageID    *string        `json:"output_image_id,omitempty"`
	ResultMetadata   map[string]any `json:"result_metadata,omitempty"`
	ErrorMessage     *string        `json:"error_message,omitempty"`
	ProcessingTimeMS *int           `json:"processing_time_ms,omitempty"`
}
