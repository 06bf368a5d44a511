package dto

import (
	"time"

	"morphflux/internal/model"
)

type UpdateProfileRequest struct {
	FirstName *string `json:"first_name" validate:"omitempty,min=2,max=50"`
	LastName  *string `json:"last_name" validate:"omitempty,min=2,max=50"`
	AvatarURL *string `json:"avatar_url" validate:"omitempty,url"`
}

type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password" validate:"required"`
	NewPassword     string `json:"new_password" validate:"required,password"`
}

type DeleteAccountRequest struct {
	Password string `json:"password" validate:"required"`
}

type UserData struct {
	Profile         *model.User            `json:"profile"`
	Images          []model.Image          `json:"images"`
	Transformations []model.Transformation `json:"transformations"`
}

type DataExport struct {
	ExportDate time.Time `json:"export_date"`
	UserData   UserData  `json:"user_data"`
}
