package scmsapi

// User is the canonical account record as the SCMS backend returns it.
type User struct {
	ID           string `json:"user_id"`
	Email        string `json:"email"`
	FullName     string `json:"full_name"`
	Role         string `json:"role"`
	Provider     string `json:"auth_provider,omitempty"`
	GoogleLinked bool   `json:"google_linked,omitempty"`
	ImageURL     string `json:"image_url,omitempty"`
}

// ProfileUpdate carries the fields of a partial profile edit. Nil fields are
// left untouched by the backend and by Apply.
type ProfileUpdate struct {
	FullName *string `json:"full_name,omitempty"`
	Email    *string `json:"email,omitempty"`
	ImageURL *string `json:"image_url,omitempty"`
}

// Apply returns a copy of u with the non-nil fields of p merged in. Fields
// the update does not mention keep their previous values.
func (u User) Apply(p ProfileUpdate) User {
	if p.FullName != nil {
		u.FullName = *p.FullName
	}
	if p.Email != nil {
		u.Email = *p.Email
	}
	if p.ImageURL != nil {
		u.ImageURL = *p.ImageURL
	}
	return u
}

// AccountType reports how an account may authenticate.
type AccountType string

const (
	AccountTypeLocal   AccountType = "local"
	AccountTypeGoogle  AccountType = "google"
	AccountTypeUnified AccountType = "unified"
)

// LoginResult is the outcome of a password login call. A rejected credential
// is not an error: OK is false and Message carries the backend's reason.
type LoginResult struct {
	OK      bool
	Message string
	Token   string
	User    User
}

// VerifyResult is the outcome of a two-factor code verification.
type VerifyResult struct {
	OK      bool
	Message string
	Token   string
	User    User
}

// GoogleAuthResult is the outcome of the backend's Google-auth exchange.
type GoogleAuthResult struct {
	OK      bool
	Message string
	Token   string
	User    User
}

// UpdateResult is the outcome of a profile update. Echo holds the fields the
// backend confirmed, which callers merge into their local copy.
type UpdateResult struct {
	OK      bool
	Message string
	Echo    ProfileUpdate
}

// LinkResult is the outcome of a Google account link or unlink call.
type LinkResult struct {
	OK      bool
	Message string
}
