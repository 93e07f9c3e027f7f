package handlers

import (
	"time"

	"github.com/pribylovaa/clinic-auth/internal/models"
)

type loginRequest struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type logoutRequest struct {
	RefreshToken string `json:"refresh_token,omitempty"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

type issueTokenRequest struct {
	Access     models.AccessLevel `json:"access"`
	TTLSeconds int64              `json:"ttl_seconds,omitempty"`
}

type tokenResponse struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	TokenType        string    `json:"token_type"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

func tokenFromModel(p *models.TokenPair) tokenResponse {
	return tokenResponse{
		AccessToken:      p.AccessToken,
		RefreshToken:     p.RefreshToken,
		TokenType:        "Bearer",
		AccessExpiresAt:  p.AccessExpiresAt,
		RefreshExpiresAt: p.RefreshExpiresAt,
	}
}

type claimsResponse struct {
	Subject   string      `json:"subject"`
	Role      models.Role `json:"role"`
	ExpiresAt time.Time   `json:"expires_at"`
}

type resourceResponse struct {
	ID                   int64      `json:"id"`
	ResourceTokenActive  bool       `json:"resource_token_active"`
	ResourceTokenExpires *time.Time `json:"resource_token_expires_at,omitempty"`
}

// resourceFromModel показывает только состояние токена: хэш и выдавший не раскрываются.
func resourceFromModel(res *models.Resource, now time.Time) resourceResponse {
	out := resourceResponse{ID: res.ID}
	if res.TokenHash != "" && res.TokenExpiresAt != nil && !now.After(*res.TokenExpiresAt) {
		exp := res.TokenExpiresAt.UTC()
		out.ResourceTokenActive = true
		out.ResourceTokenExpires = &exp
	}
	return out
}

type resourceTokenResponse struct {
	ResourceID int64              `json:"resource_id"`
	Token      string             `json:"token"`
	Access     models.AccessLevel `json:"access"`
	ExpiresAt  time.Time          `json:"expires_at"`
}

type redemptionResponse struct {
	ResourceID int64              `json:"resource_id"`
	Access     models.AccessLevel `json:"access"`
	ExpiresAt  time.Time          `json:"expires_at"`
}
