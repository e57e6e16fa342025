package scmsapi

import "encoding/json"

// The backend has shipped three different login response shapes over time:
// the token flat at the top level, nested under data, or nested under
// data.user. Rather than sniffing with nested conditionals, extraction runs
// an ordered list of shape readers and the first non-empty token wins.

type loginShape struct {
	Token string `json:"token"`
	Data  *struct {
		Token string `json:"token"`
		User  *struct {
			Token string `json:"token"`
		} `json:"user"`
	} `json:"data"`
}

var tokenExtractors = []func(loginShape) string{
	func(s loginShape) string { return s.Token },
	func(s loginShape) string {
		if s.Data == nil {
			return ""
		}
		return s.Data.Token
	},
	func(s loginShape) string {
		if s.Data == nil || s.Data.User == nil {
			return ""
		}
		return s.Data.User.Token
	},
}

// ExtractToken locates a bearer token in a raw login response body. The
// second return value is false when no recognised shape yields a non-empty
// token.
func ExtractToken(raw []byte) (string, bool) {
	var shape loginShape
	if err := json.Unmarshal(raw, &shape); err != nil {
		return "", false
	}

	for _, extract := range tokenExtractors {
		if token := extract(shape); token != "" {
			return token, true
		}
	}

	return "", false
}

// extractUser reads the user record from a login response, accepting the
// same shape variants as ExtractToken: fields under data.user, or directly
// under data.
func extractUser(raw []byte) User {
	var nested struct {
		Data struct {
			User *User `json:"user"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &nested); err == nil && nested.Data.User != nil {
		return *nested.Data.User
	}

	var flat struct {
		Data User `json:"data"`
	}
	if err := json.Unmarshal(raw, &flat); err == nil {
		return flat.Data
	}

	return User{}
}
