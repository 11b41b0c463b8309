package llm

import "context"

// RequestProfile carries per-request execution preferences from the session
// settings down to the provider client, which sits below the settings layer
// and cannot read them itself.
type RequestProfile struct {
	ReasoningEffort string
}

type profileKey struct{}

// WithRequestProfile attaches a profile to the context.
func WithRequestProfile(ctx context.Context, profile RequestProfile) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, profileKey{}, profile)
}

// RequestProfileFromContext reads the profile back. ok is false when no
// profile was attached.
func RequestProfileFromContext(ctx context.Context) (profile RequestProfile, ok bool) {
	if ctx == nil {
		return RequestProfile{}, false
	}
	profile, ok = ctx.Value(profileKey{}).(RequestProfile)
	return profile, ok
}
