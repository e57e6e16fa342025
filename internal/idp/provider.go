// Package idp is the registry of per-school identity-provider settings.
// Each school can bring its own Google OAuth client and Workspace domain;
// schools without an entry use the gateway's default client.
package idp

// Provider holds one school's Google sign-in settings.
type Provider struct {
	ClientID     string            `json:"client_id"`
	HostedDomain string            `json:"hosted_domain"`
	Blocked      bool              `json:"blocked"`
	Properties   map[string]string `json:"properties,omitempty"`
}
