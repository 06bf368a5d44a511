package model

import "time"

type TransformationType string

const (
	TransformationBackgroundRemoval     TransformationType = "background_removal"
	TransformationBackgroundReplacement TransformationType = "background_replacement"
	TransformationAgeProgression        TransformationType = "age_progression"
	TransformationAgeRegression         TransformationType = "age_regression"
	TransformationStyleTransfer         TransformationType = "style_transfer"
	TransformationObjectRemoval         TransformationType = "object_removal"
	TransformationObjectAddition        TransformationType = "object_addition"
	TransformationFaceEnhancement       TransformationType = "face_enhancement"
	TransformationFigurineCreation      TransformationType = "figurine_creation"
	TransformationFamilyTimeCapsule     TransformationType = "family_time_capsule"
	TransformationGenerationalBridge    TransformationType = "generational_bridge"
	TransformationFantasyCharacter      TransformationType = "fantasy_character"
	TransformationMemoryReconstruction  TransformationType = "memory_reconstruction"
	TransformationPoseManipulation      TransformationType = "pose_manipulation"
	TransformationTemporalTwins         TransformationType = "temporal_twins"
	TransformationStoryMode             TransformationType = "story_mode"
	TransformationDynastyPortraits      TransformationType = "dynasty_portraits"
	TransformationIdentityFusion        TransformationType = "identity_fusion"
	TransformationLifestyleTeleport     TransformationType = "lifestyle_teleport"
)

// TransformationTypes lists every supported kind, in schema order.
var TransformationTypes = []TransformationType{
	TransformationBackgroundRemoval,
	TransformationBackgroundReplacement,
	TransformationAgeProgression,
	TransformationAgeRegression,
	TransformationStyleTransfer,
	TransformationObjectRemoval,
	TransformationObjectAddition,
	TransformationFaceEnhancement,
	TransformationFigurineCreation,
	TransformationFamilyTimeCapsule,
	TransformationGenerationalBridge,
	TransformationFantasyCharacter,
	TransformationMemoryReconstruction,
	TransformationPoseManipulation,
	TransformationTemporalTwins,
	TransformationStoryMode,
	TransformationDynastyPortraits,
	TransformationIdentityFusion,
	TransformationLifestyleTeleport,
}

func (t TransformationType) Valid() bool {
	for _, known := range TransformationTypes {
		if t == known {
			return true
		}
	}
	return false
}

type TransformationStatus string

const (
	StatusPending    TransformationStatus = "pending"
	StatusProcessing TransformationStatus = "processing"
	StatusCompleted  TransformationStatus = "completed"
	StatusFailed     TransformationStatus = "failed"
	StatusCancelled  TransformationStatus = "cancelled"
)

var statusTransitions = map[TransformationStatus][]TransformationStatus{
	StatusPending:    {StatusProcessing, StatusFailed, StatusCancelled},
	StatusProcessing: {StatusCompleted, StatusFailed, StatusCancelled},
}

func (s TransformationStatus) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Terminal statuses never change again.
func (s TransformationStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

func (s TransformationStatus) CanTransitionTo(next TransformationStatus) bool {
	for _, allowed := range statusTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Transformation records a job handed to the external image worker.
type Transformation struct {
	ID               string               `db:"id" json:"id"`
	UserID           string               `db:"user_id" json:"user_id"`
	InputImageID     string               `db:"input_image_id" json:"input_image_id"`
	OutputImageID    *string              `db:"output_image_id" json:"output_image_id"`
	Type             TransformationType   `db:"transformation_type" json:"transformation_type"`
	Status           TransformationStatus `db:"status" json:"status"`
	Parameters       map[string]any       `db:"parameters" json:"parameters"`
	ResultMetadata   map[string]any       `db:"result_metadata" json:"result_metadata,omitempty"`
	ErrorMessage     *string              `db:"error_message" json:"error_message,omitempty"`
	ProcessingTimeMS *int                 `db:"processing_time_ms" json:"processing_time_ms,omitempty"`
	StartedAt        *time.Time           `db:"started_at" json:"started_at,omitempty"`
	CompletedAt      *time.Time           `db:"completed_at" json:"completed_at,omitempty"`
	CreatedAt        time.Time            `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time            `db:"updated_at" json:"updated_at"`
}

// TransformationStats summarises a user's transformation history.
type TransformationStats struct {
	Total               int     `json:"total"`
	Pending             int     `json:"pending"`
	Processing          int     `json:"processing"`
	Completed           int     `json:"completed"`
	Failed              int     `json:"failed"`
	Cancelled           int     `json:"cancelled"`
	AvgProcessingTimeMS float64 `json:"avg_processing_time_ms"`
}
