// Package auth defines how the TieDie clients obtain credentials.
//
// An Authenticator decorates outgoing HTTP requests, supplies the TLS
// configuration used towards the gateway and configures MQTT connect options
// for the telemetry broker. Key management and trust-store construction live
// outside this package: callers hand in a ready *tls.Config.
package auth

import (
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// ErrMissingCredentials is returned when an authenticator is built without
// the values it needs.
var ErrMissingCredentials = errors.New("auth: missing credentials")

// Authenticator supplies credentials and transport options to the clients.
type Authenticator interface {
	// ClientID identifies the application towards the broker.
	ClientID() string

	// AuthorizeRequest adds credentials to an outgoing HTTP request.
	AuthorizeRequest(req *http.Request) error

	// TLSConfig returns the TLS settings for HTTPS calls, or nil.
	TLSConfig() *tls.Config

	// ConfigureMQTT applies credentials and TLS settings to broker options.
	ConfigureMQTT(opts *pahomqtt.ClientOptions) error
}

// APIKeyAuthenticator authenticates an application with its id and API key.
type APIKeyAuthenticator struct {
	appID  string
	apiKey string
	tls    *tls.Config
}

// NewAPIKeyAuthenticator creates an APIKeyAuthenticator. tlsConfig may be nil
// for plaintext deployments.
func NewAPIKeyAuthenticator(appID, apiKey string, tlsConfig *tls.Config) (*APIKeyAuthenticator, error) {
	if appID == "" || apiKey == "" {
		return nil, fmt.Errorf("%w: app id and api key are required", ErrMissingCredentials)
	}
	return &APIKeyAuthenticator{appID: appID, apiKey: apiKey, tls: tlsConfig}, nil
}

// ClientID returns the application id.
func (a *APIKeyAuthenticator) ClientID() string {
	return a.appID
}

// AuthorizeRequest sets the x-api-key header.
func (a *APIKeyAuthenticator) AuthorizeRequest(req *http.Request) error {
	req.Header.Set("x-api-key", a.apiKey)
	return nil
}

// TLSConfig returns the configured TLS settings.
func (a *APIKeyAuthenticator) TLSConfig() *tls.Config {
	return a.tls
}

// ConfigureMQTT uses the app id and API key as broker username and password.
func (a *APIKeyAuthenticator) ConfigureMQTT(opts *pahomqtt.ClientOptions) error {
	opts.SetUsername(a.appID)
	opts.SetPassword(a.apiKey)
	if a.tls != nil {
		opts.SetTLSConfig(a.tls.Clone())
	}
	return nil
}

// TokenSource returns a bearer token, fetching or refreshing it as needed.
type TokenSource func() (string, error)

// StaticToken returns a TokenSource that always yields token.
func StaticToken(token string) TokenSource {
	return func() (string, error) {
		return token, nil
	}
}

// BearerAuthenticator authenticates with an OAuth2-style bearer token.
type BearerAuthenticator struct {
	clientID string
	token    TokenSource
	tls      *tls.Config
}

// NewBearerAuthenticator creates a BearerAuthenticator.
func NewBearerAuthenticator(clientID string, token TokenSource, tlsConfig *tls.Config) (*BearerAuthenticator, error) {
	if clientID == "" || token == nil {
		return nil, fmt.Errorf("%w: client id and token source are required", ErrMissingCredentials)
	}
	return &BearerAuthenticator{clientID: clientID, token: token, tls: tlsConfig}, nil
}

// ClientID returns the client id.
func (a *BearerAuthenticator) ClientID() string {
	return a.clientID
}

// AuthorizeRequest sets the Authorization header.
func (a *BearerAuthenticator) AuthorizeRequest(req *http.Request) error {
	token, err := a.token()
	if err != nil {
		return fmt.Errorf("failed to obtain access token: %w", err)
	}
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", token))
	return nil
}

// TLSConfig returns the configured TLS settings.
func (a *BearerAuthenticator) TLSConfig() *tls.Config {
	return a.tls
}

// ConfigureMQTT sends the token as the broker password.
func (a *BearerAuthenticator) ConfigureMQTT(opts *pahomqtt.ClientOptions) error {
	token, err := a.token()
	if err != nil {
		return fmt.Errorf("failed to obtain access token: %w", err)
	}
	opts.SetUsername(a.clientID)
	opts.SetPassword(token)
	if a.tls != nil {
		opts.SetTLSConfig(a.tls.Clone())
	}
	return nil
}
