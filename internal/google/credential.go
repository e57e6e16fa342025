package google

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"

	"github.com/openscms/auth-gateway/internal/serviceerr"
)

// Provider is the auth_provider value reported for Google identities.
const Provider = "google"

// Credential is a decoded Google identity.
type Credential struct {
	ID        string
	Email     string
	Name      string
	FirstName string
	LastName  string
	ImageURL  string
	IDToken   string
	Provider  string
}

type idTokenClaims struct {
	Subject    string `json:"sub"`
	Email      string `json:"email"`
	Name       string `json:"name"`
	GivenName  string `json:"given_name"`
	FamilyName string `json:"family_name"`
	Picture    string `json:"picture"`
}

// DecodeCredential maps the claims of a Google ID token to a Credential.
// The token must already be signature-verified; this only reads the payload
// segment. Any malformed token comes back as ErrInvalidCredential.
func DecodeCredential(idToken string) (Credential, error) {
	segments := strings.Split(idToken, ".")
	if len(segments) != 3 {
		return Credential{}, errors.Join(serviceerr.ErrInvalidCredential,
			errors.New("token does not have three segments"))
	}

	payload, err := base64.RawURLEncoding.DecodeString(segments[1])
	if err != nil {
		return Credential{}, errors.Join(serviceerr.ErrInvalidCredential, err)
	}

	var claims idTokenClaims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return Credential{}, errors.Join(serviceerr.ErrInvalidCredential, err)
	}

	if claims.Subject == "" {
		return Credential{}, errors.Join(serviceerr.ErrInvalidCredential,
			errors.New("token has no subject"))
	}

	cred := Credential{
		ID:        claims.Subject,
		Email:     claims.Email,
		Name:      claims.Name,
		FirstName: claims.GivenName,
		LastName:  claims.FamilyName,
		ImageURL:  claims.Picture,
		IDToken:   idToken,
		Provider:  Provider,
	}

	// older tokens carry only the combined name
	if cred.FirstName == "" && cred.Name != "" {
		cred.FirstName, cred.LastName, _ = strings.Cut(cred.Name, " ")
	}
	if cred.Name == "" {
		cred.Name = strings.TrimSpace(cred.FirstName + " " + cred.LastName)
	}

	return cred, nil
}
