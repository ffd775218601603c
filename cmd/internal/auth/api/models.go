package authapi

import (
	"time"

	"parley/cmd/identity"
)

type registerRequest struct {
	Username    string  `json:"username"`
	DisplayName *string `json:"display_name"`
	Password    string  `json:"password"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type userResponse struct {
	ID          string    `json:"id"`
	Username    string    `json:"username"`
	DisplayName *string   `json:"display_name"`
	Role        string    `json:"role"`
	CreatedAt   time.Time `json:"created_at"`
}

type authResponse struct {
	User            userResponse `json:"user"`
	AccessExpiresAt time.Time    `json:"access_expires_at"`
}

type meResponse struct {
	User userResponse `json:"user"`
}

type updateProfileRequest struct {
	DisplayName *string `json:"display_name"`
}

type userSearchRequest struct {
	Query string `json:"query"`
	Limit int    `json:"limit"`
}

type userSearchResponse struct {
	Users []userResponse `json:"users"`
}

func toUserResponse(u identity.User) userResponse {
	return userResponse{
		ID:          u.ID,
		Username:    u.Username,
		DisplayName: u.DisplayName,
		Role:        u.Role,
		CreatedAt:   u.CreatedAt,
	}
}
