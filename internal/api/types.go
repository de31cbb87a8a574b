package api

// Profile is a user's numerology profile as computed by the backend.
type Profile struct {
	UserID         string `json:"user_id"`
	FullName       string `json:"full_name"`
	BirthDate      string `json:"birth_date"`
	LifePathNumber int    `json:"life_path_number"`
	DestinyNumber  int    `json:"destiny_number"`
	SoulUrgeNumber int    `json:"soul_urge_number"`
}

// Reading is the numerology reading for a single day.
type Reading struct {
	Date         string `json:"date"`
	PersonalDay  int    `json:"personal_day"`
	UniversalDay int    `json:"universal_day"`
	Summary      string `json:"summary"`
}

// Compatibility is a pairwise compatibility report.
type Compatibility struct {
	UserID  string `json:"user_id"`
	OtherID string `json:"other_id"`
	Score   int    `json:"score"`
	Summary string `json:"summary"`
}

// Subscription is the user's current plan status.
type Subscription struct {
	Plan     string `json:"plan"`
	Active   bool   `json:"active"`
	RenewsAt string `json:"renews_at"`
}

// Notification is one entry of the user's notification feed.
type Notification struct {
	ID        string `json:"id"`
	Message   string `json:"message"`
	CreatedAt string `json:"created_at"`
	Read      bool   `json:"read"`
}

// Tokens holds a bearer access token and the refresh token used to renew it.
type Tokens struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}
