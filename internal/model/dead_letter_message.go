package model

import "time"

// DeadLetterMessage is a transformation job Pub/Sub gave up delivering.
type DeadLetterMessage struct {
	ID               string    `db:"id"`
	SubscriptionName string    `db:"subscription_name"`
	MessageID        string    `db:"message_id"`
	TransformationID *string   `db:"transformation_id"`
	Payload          string    `db:"payload"`
	Attributes       *string   `db:"attributes"`
	Status           string    `db:"status"`
	CreatedAt        time.Time `db:"created_at"`
	UpdatedAt        time.Time `db:"updated_at"`
}
