package dto

type CreateTransformationRequest struct {
	InputImageID       string         `json:"input_image_id" validate:"required,uuid"`
	TransformationType string         `json:"transformation_type" validate:"required"`
	Parameters         map[string]any `json:"parameters"`
}
