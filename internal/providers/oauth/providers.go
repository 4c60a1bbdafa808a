package oauth

import (
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"
)

// Provider identities used across the registry, stores and logs.
const (
	ProviderGoogle   = "google"
	ProviderFacebook = "facebook"
	ProviderLinkedIn = "linkedin"
	ProviderApple    = "apple"
)

// NewGoogle creates an adapter for Google's OAuth2 token endpoint.
func NewGoogle(clientID, clientSecret string, opts Options) *Adapter {
	return NewAdapter(ProviderGoogle, clientID, StaticSecret(clientSecret), endpoints.Google, opts)
}

// NewFacebook creates an adapter for Facebook's Graph API token endpoint.
func NewFacebook(clientID, clientSecret string, opts Options) *Adapter {
	return NewAdapter(ProviderFacebook, clientID, StaticSecret(clientSecret), endpoints.Facebook, opts)
}

// NewLinkedIn creates an adapter for LinkedIn's token endpoint. LinkedIn
// only accepts credentials in the request body.
func NewLinkedIn(clientID, clientSecret string, opts Options) *Adapter {
	endpoint := endpoints.LinkedIn
	endpoint.AuthStyle = oauth2.AuthStyleInParams
	return NewAdapter(ProviderLinkedIn, clientID, StaticSecret(clientSecret), endpoint, opts)
}
