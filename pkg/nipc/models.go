package nipc

// Device identifies the endpoint a control operation targets.
type Device struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName,omitempty"`
}

// BondingOption selects the BLE pairing mode.
type BondingOption string

// BLE bonding modes.
const (
	BondingDefault   BondingOption = "default"
	BondingNone      BondingOption = "none"
	BondingJustWorks BondingOption = "justworks"
	BondingPasskey   BondingOption = "passkey"
	BondingOOB       BondingOption = "oob"
)

// BLEConnectOptions tunes a connect or discover call. The zero value asks
// the gateway for its defaults.
type BLEConnectOptions struct {
	Services       []Service     `json:"services,omitempty"`
	Cached         *bool         `json:"cached,omitempty"`
	CacheIdlePurge *int          `json:"cacheIdlePurge,omitempty"`
	AutoUpdate     *bool         `json:"autoUpdate,omitempty"`
	Bonding        BondingOption `json:"bonding,omitempty"`
}

type connectProtocolMap struct {
	BLE BLEConnectOptions `json:"ble"`
}

type connectRequest struct {
	ProtocolMap      connectProtocolMap `json:"sdfProtocolMap"`
	Retries          int                `json:"retries"`
	RetryMultipleAPs bool               `json:"retryMultipleAPs"`
}

type blePropertyMap struct {
	ServiceID        string `json:"serviceID"`
	CharacteristicID string `json:"characteristicID"`
}

type propertyProtocolMap struct {
	BLE blePropertyMap `json:"ble"`
}

type propertyRequest struct {
	Value       *string             `json:"value,omitempty"`
	ProtocolMap propertyProtocolMap `json:"sdfProtocolMap"`
}

// DeviceResponse echoes the device a call acted on.
type DeviceResponse struct {
	ID string `json:"id"`
}

// ValueResponse is the opaque value record returned by read and write.
type ValueResponse struct {
	Value string `json:"value,omitempty"`
}

type propertyWrite struct {
	Property string `json:"property"`
	Value    string `json:"value"`
}

// PropertyResult is one element of a property read or write batch. An
// element carries either a value or an embedded problem; a failed element
// does not fail the batch.
type PropertyResult struct {
	Property string `json:"property,omitempty"`
	Value    string `json:"value,omitempty"`

	Type   ProblemType `json:"type,omitempty"`
	Status int         `json:"status,omitempty"`
	Title  string      `json:"title,omitempty"`
	Detail string      `json:"detail,omitempty"`
}

// Failed reports whether this element carries a problem.
func (r PropertyResult) Failed() bool {
	return r.Status >= 400 || r.Title != "" || r.Detail != ""
}

// Problem returns the embedded problem, or nil for a successful element.
func (r PropertyResult) Problem() *ProblemDetails {
	if !r.Failed() {
		return nil
	}
	typ := r.Type
	if typ == "" {
		typ = ProblemAboutBlank
	}
	return &ProblemDetails{
		Type:   typ,
		Status: r.Status,
		Title:  r.Title,
		Detail: r.Detail,
	}
}

// SdfModel is a semantic device model document.
type SdfModel struct {
	Namespace        map[string]string    `json:"namespace,omitempty"`
	DefaultNamespace string               `json:"defaultNamespace,omitempty"`
	SdfThing         map[string]SdfThing  `json:"sdfThing,omitempty"`
	SdfObject        map[string]SdfObject `json:"sdfObject,omitempty"`
}

// SdfObject groups the affordances of one functional unit.
type SdfObject struct {
	Description string                 `json:"description,omitempty"`
	SdfProperty map[string]SdfProperty `json:"sdfProperty,omitempty"`
	SdfEvent    map[string]SdfEvent    `json:"sdfEvent,omitempty"`
	SdfAction   map[string]SdfAction   `json:"sdfAction,omitempty"`
}

// SdfThing is an SdfObject that may nest further objects.
type SdfThing struct {
	SdfObject
	NestedObjects map[string]SdfObject `json:"sdfObject,omitempty"`
}

// SdfProperty describes a readable or writable value.
type SdfProperty struct {
	Description string         `json:"description,omitempty"`
	Observable  *bool          `json:"observable,omitempty"`
	Readable    *bool          `json:"readable,omitempty"`
	Writable    *bool          `json:"writable,omitempty"`
	Type        string         `json:"type,omitempty"`
	Unit        string         `json:"unit,omitempty"`
	ProtocolMap map[string]any `json:"sdfProtocolMap,omitempty"`
}

// SdfEvent describes an event and the data it emits.
type SdfEvent struct {
	Description   string         `json:"description,omitempty"`
	SdfOutputData *SdfOutputData `json:"sdfOutputData,omitempty"`
}

// SdfOutputData binds event output to a protocol source.
type SdfOutputData struct {
	Type        string         `json:"type,omitempty"`
	ProtocolMap map[string]any `json:"sdfProtocolMap,omitempty"`
}

// SdfAction describes an invocable operation.
type SdfAction struct {
	Description string         `json:"description,omitempty"`
	ProtocolMap map[string]any `json:"sdfProtocolMap,omitempty"`
}

// ModelRegistration identifies a registered model.
type ModelRegistration struct {
	SdfName string `json:"sdfName"`
}

// EventRef names an event a data application receives.
type EventRef struct {
	Event string `json:"event"`
}

// MQTTBrokerConfig points the gateway at a data application's own broker.
type MQTTBrokerConfig struct {
	URI          string `json:"URI"`
	Username     string `json:"username,omitempty"`
	Password     string `json:"password,omitempty"`
	BrokerCACert string `json:"brokerCACert,omitempty"`
	CustomTopic  string `json:"customTopic,omitempty"`
}

// DataAppRegistration is the registration document of a data application.
type DataAppRegistration struct {
	Events     []EventRef        `json:"events"`
	MQTTClient *bool             `json:"mqttClient,omitempty"`
	MQTTBroker *MQTTBrokerConfig `json:"mqttBroker,omitempty"`
}

// EventRegistration is an active event subscription.
type EventRegistration struct {
	Event      string `json:"event"`
	InstanceID string `json:"instanceId"`
}
