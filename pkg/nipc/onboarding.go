package nipc

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"tiedie-sdk/pkg/auth"
)

// MediaTypeSCIM is the content type of onboarding requests.
const MediaTypeSCIM = "application/scim+json"

// SCIM schema URNs.
const (
	SchemaDevice           = "urn:ietf:params:scim:schemas:core:2.0:Device"
	SchemaEndpointApp      = "urn:ietf:params:scim:schemas:core:2.0:EndpointApp"
	SchemaBLEExtension     = "urn:ietf:params:scim:schemas:extension:ble:2.0:Device"
	SchemaPairingNull      = "urn:ietf:params:scim:schemas:extension:pairingNull:2.0:Device"
	SchemaPairingJustWorks = "urn:ietf:params:scim:schemas:extension:pairingJustWorks:2.0:Device"
	SchemaPairingPassKey   = "urn:ietf:params:scim:schemas:extension:pairingPassKey:2.0:Device"
	SchemaPairingOOB       = "urn:ietf:params:scim:schemas:extension:pairingOOB:2.0:Device"
)

// ErrEndpointAppIDRequired is returned before any network call when an
// endpoint app identifier is missing or blank.
var ErrEndpointAppIDRequired = errors.New("nipc: endpoint app ID is required")

// HTTPResponse is the result of an onboarding call. Body is nil when the
// response had none or it could not be parsed; StatusCode tells the rest.
type HTTPResponse[T any] struct {
	StatusCode int    `json:"statusCode"`
	Message    string `json:"message"`
	Body       *T     `json:"body,omitempty"`
}

// IsSuccess reports a 2xx status.
func (r HTTPResponse[T]) IsSuccess() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// OnboardedDevice is a SCIM device resource.
type OnboardedDevice struct {
	Schemas     []string      `json:"schemas,omitempty"`
	ID          string        `json:"id,omitempty"`
	DisplayName string        `json:"displayName,omitempty"`
	Active      bool          `json:"active"`
	BLE         *BLEExtension `json:"urn:ietf:params:scim:schemas:extension:ble:2.0:Device,omitempty"`
}

// Device returns the control handle of an onboarded device.
func (d OnboardedDevice) Device() Device {
	return Device{ID: d.ID, DisplayName: d.DisplayName}
}

// BLEExtension carries the BLE identity and pairing data of a device.
// Set at most one pairing method.
type BLEExtension struct {
	VersionSupport           []string          `json:"versionSupport,omitempty"`
	DeviceMACAddress         string            `json:"deviceMacAddress"`
	IsRandom                 bool              `json:"isRandom"`
	SeparateBroadcastAddress []string          `json:"separateBroadcastAddress,omitempty"`
	IRK                      string            `json:"irk,omitempty"`
	PairingMethods           []string          `json:"pairingMethods,omitempty"`
	PairingNull              *struct{}         `json:"urn:ietf:params:scim:schemas:extension:pairingNull:2.0:Device,omitempty"`
	PairingJustWorks         *PairingJustWorks `json:"urn:ietf:params:scim:schemas:extension:pairingJustWorks:2.0:Device,omitempty"`
	PairingPassKey           *PairingPassKey   `json:"urn:ietf:params:scim:schemas:extension:pairingPassKey:2.0:Device,omitempty"`
	PairingOOB               *PairingOOB       `json:"urn:ietf:params:scim:schemas:extension:pairingOOB:2.0:Device,omitempty"`
}

// PairingJustWorks selects just-works pairing.
type PairingJustWorks struct {
	Key *int `json:"key"`
}

// PairingPassKey selects passkey pairing.
type PairingPassKey struct {
	Key int `json:"key"`
}

// PairingOOB selects out-of-band pairing.
type PairingOOB struct {
	Key        string `json:"key"`
	RandNumber int64  `json:"randNumber"`
}

// EndpointAppType is the role an endpoint app plays.
type EndpointAppType string

// Endpoint app roles.
const (
	EndpointAppTelemetry     EndpointAppType = "telemetry"
	EndpointAppDeviceControl EndpointAppType = "deviceControl"
)

// EndpointApp is a SCIM endpoint app resource. The gateway fills ID and
// ClientToken.
type EndpointApp struct {
	Schemas         []string            `json:"schemas,omitempty"`
	ID              string              `json:"id,omitempty"`
	ApplicationType EndpointAppType     `json:"applicationType"`
	ApplicationName string              `json:"applicationName"`
	CertificateInfo *AppCertificateInfo `json:"certificateInfo,omitempty"`
	ClientToken     string              `json:"clientToken,omitempty"`
}

// AppCertificateInfo identifies the certificate an endpoint app
// authenticates with.
type AppCertificateInfo struct {
	RootCA      string `json:"rootCA"`
	SubjectName string `json:"subjectName"`
}

// ListResponse is a SCIM list result.
type ListResponse[T any] struct {
	TotalResults int `json:"totalResults"`
	StartIndex   int `json:"startIndex"`
	ItemsPerPage int `json:"itemsPerPage"`
	Resources    []T `json:"Resources"`
}

// OnboardingClient manages devices and endpoint apps through the SCIM API
// of a TieDie gateway. It is safe for concurrent use.
type OnboardingClient struct {
	client *Client
}

// NewOnboardingClient creates a client for the SCIM API rooted at baseURL,
// e.g. "https://gateway.example.com/scim/v2". It takes the same options as
// NewClient.
func NewOnboardingClient(baseURL string, authenticator auth.Authenticator, opts ...Option) *OnboardingClient {
	c := NewClient(baseURL, authenticator, opts...)
	c.accept = MediaTypeSCIM
	return &OnboardingClient{client: c}
}

// CreateDevice onboards a device. Missing schema URNs and pairing methods
// are derived from the device.
func (o *OnboardingClient) CreateDevice(ctx context.Context, device OnboardedDevice) (HTTPResponse[OnboardedDevice], error) {
	return onboard[OnboardedDevice](ctx, o.client, http.MethodPost, "/Devices", device.withDefaults(), true)
}

// UpdateDevice replaces an onboarded device.
func (o *OnboardingClient) UpdateDevice(ctx context.Context, device OnboardedDevice) (HTTPResponse[OnboardedDevice], error) {
	if err := validateDeviceID(device.ID); err != nil {
		return HTTPResponse[OnboardedDevice]{}, err
	}
	return onboard[OnboardedDevice](ctx, o.client, http.MethodPut, scimDevicePath(device.ID), device.withDefaults(), true)
}

func (o *OnboardingClient) GetDevice(ctx context.Context, deviceID string) (HTTPResponse[OnboardedDevice], error) {
	if err := validateDeviceID(deviceID); err != nil {
		return HTTPResponse[OnboardedDevice]{}, err
	}
	return onboard[OnboardedDevice](ctx, o.client, http.MethodGet, scimDevicePath(deviceID), nil, true)
}

func (o *OnboardingClient) GetDevices(ctx context.Context) (HTTPResponse[ListResponse[OnboardedDevice]], error) {
	return onboard[ListResponse[OnboardedDevice]](ctx, o.client, http.MethodGet, "/Devices", nil, true)
}

// DeleteDevice offboards a device. The response never carries a body.
func (o *OnboardingClient) DeleteDevice(ctx context.Context, deviceID string) (HTTPResponse[NoContent], error) {
	if err := validateDeviceID(deviceID); err != nil {
		return HTTPResponse[NoContent]{}, err
	}
	return onboard[NoContent](ctx, o.client, http.MethodDelete, scimDevicePath(deviceID), nil, false)
}

func (o *OnboardingClient) CreateEndpointApp(ctx context.Context, app EndpointApp) (HTTPResponse[EndpointApp], error) {
	if len(app.Schemas) == 0 {
		app.Schemas = []string{SchemaEndpointApp}
	}
	return onboard[EndpointApp](ctx, o.client, http.MethodPost, "/EndpointApps", app, true)
}

func (o *OnboardingClient) GetEndpointApp(ctx context.Context, appID string) (HTTPResponse[EndpointApp], error) {
	if strings.TrimSpace(appID) == "" {
		return HTTPResponse[EndpointApp]{}, ErrEndpointAppIDRequired
	}
	return onboard[EndpointApp](ctx, o.client, http.MethodGet, "/EndpointApps/"+pathSegment(appID), nil, true)
}

func (o *OnboardingClient) GetEndpointApps(ctx context.Context) (HTTPResponse[ListResponse[EndpointApp]], error) {
	return onboard[ListResponse[EndpointApp]](ctx, o.client, http.MethodGet, "/EndpointApps", nil, true)
}

func (o *OnboardingClient) DeleteEndpointApp(ctx context.Context, appID string) (HTTPResponse[NoContent], error) {
	if strings.TrimSpace(appID) == "" {
		return HTTPResponse[NoContent]{}, ErrEndpointAppIDRequired
	}
	return onboard[NoContent](ctx, o.client, http.MethodDelete, "/EndpointApps/"+pathSegment(appID), nil, false)
}

func scimDevicePath(deviceID string) string {
	return "/Devices/" + pathSegment(deviceID)
}

func (d OnboardedDevice) withDefaults() OnboardedDevice {
	if len(d.Schemas) == 0 {
		d.Schemas = []string{SchemaDevice}
		if d.BLE != nil {
			d.Schemas = append(d.Schemas, SchemaBLEExtension)
		}
	}
	if d.BLE != nil && len(d.BLE.PairingMethods) == 0 {
		ble := *d.BLE
		ble.PairingMethods = ble.pairingMethods()
		d.BLE = &ble
	}
	return d
}

func (b BLEExtension) pairingMethods() []string {
	var methods []string
	if b.PairingNull != nil {
		methods = append(methods, SchemaPairingNull)
	}
	if b.PairingJustWorks != nil {
		methods = append(methods, SchemaPairingJustWorks)
	}
	if b.PairingPassKey != nil {
		methods = append(methods, SchemaPairingPassKey)
	}
	if b.PairingOOB != nil {
		methods = append(methods, SchemaPairingOOB)
	}
	return methods
}

// onboard issues one SCIM request. Write requests carry a SCIM body.
func onboard[T any](ctx context.Context, c *Client, method, path string, body any, decodeBody bool) (HTTPResponse[T], error) {
	contentType := ""
	if method == http.MethodPost || method == http.MethodPut {
		contentType = MediaTypeSCIM
	}

	resp, err := c.do(ctx, method, path, body, contentType)
	if err != nil {
		return HTTPResponse[T]{}, err
	}
	defer resp.Body.Close()

	return mapHTTPResponse[T](resp, decodeBody), nil
}

// mapHTTPResponse keeps the status line and whatever body parses as T,
// whatever the status. Read and parse failures leave Body nil.
func mapHTTPResponse[T any](resp *http.Response, decodeBody bool) HTTPResponse[T] {
	out := HTTPResponse[T]{
		StatusCode: resp.StatusCode,
		Message:    statusMessage(resp),
	}
	if !decodeBody || resp.Body == nil {
		return out
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil || len(raw) == 0 {
		return out
	}

	var body T
	if err := json.Unmarshal(raw, &body); err == nil {
		out.Body = &body
	}

	return out
}
