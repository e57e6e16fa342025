// Package google obtains and validates Google identities for sign-in. The
// Adapter drives a Widget, the surface that actually talks to Google; in
// production that is the relay widget fed by the OAuth popup callback, in
// tests a scripted fake.
package google

import "context"

// PromptResult reports how the widget's sign-in prompt went. A prompt that
// was not displayed or was skipped does not end the flow; the adapter falls
// back to an explicit sign-in button.
type PromptResult struct {
	Displayed bool
	Skipped   bool
	Reason    string
}

// Widget is the sign-in surface. Credentials never come back from Prompt or
// RenderButton directly; the widget pushes the raw ID token through the
// callback registered with SetCredentialCallback, whenever the user finishes.
type Widget interface {
	// Load prepares the widget. Called once, before any other method.
	Load(ctx context.Context) error

	// SetCredentialCallback registers the sink for raw ID tokens.
	SetCredentialCallback(fn func(idToken string))

	// Prompt starts the unobtrusive sign-in flow.
	Prompt(ctx context.Context) (PromptResult, error)

	// RenderButton starts the explicit flow, used when Prompt was skipped.
	RenderButton(ctx context.Context) error

	// DisableAutoSelect forgets the picked account so the next sign-in
	// asks again.
	DisableAutoSelect(ctx context.Context) error
}
