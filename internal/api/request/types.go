package request

// RegisterRequest is the body for POST /accounts
type RegisterRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// UpdateProfileRequest is the body for PATCH /accounts/{id}.
// Omitted fields are left unchanged.
type UpdateProfileRequest struct {
	Email       *string           `json:"email,omitempty"`
	Password    *string           `json:"password,omitempty"`
	AvatarURL   *string           `json:"avatar_url,omitempty"`
	Status      *string           `json:"status,omitempty"`
	SocialLinks map[string]string `json:"social_links,omitempty"` // {} clears all links
}

// RenameRequest is the body for POST /accounts/{id}/rename
type RenameRequest struct {
	Username string `json:"username"`
}

// AdjustCoinsRequest is the body for POST /accounts/{id}/coins
type AdjustCoinsRequest struct {
	Delta int `json:"delta"`
}

// VerifyCredentialsRequest is the body for POST /credentials/verify
type VerifyCredentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Outcome is one account's share of a match result
type Outcome struct {
	AccountID   string `json:"account_id"`
	DeltaRating int    `json:"delta_rating"`
	DeltaCoins  int    `json:"delta_coins"`
	Result      string `json:"result"`
}

// ApplyMatchResultRequest is the body for POST /matches/results
type ApplyMatchResultRequest struct {
	Outcomes []Outcome `json:"outcomes"`
}
