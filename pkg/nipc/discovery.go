package nipc

// Service is a BLE GATT service as reported by the gateway.
type Service struct {
	ServiceID       string           `json:"serviceID"`
	Characteristics []Characteristic `json:"characteristics,omitempty"`
}

// Characteristic is a BLE GATT characteristic with its capability flags
// (read, write, notify, ...).
type Characteristic struct {
	CharacteristicID string       `json:"characteristicID"`
	Flags            []string     `json:"flags,omitempty"`
	Descriptors      []Descriptor `json:"descriptors,omitempty"`
}

// Descriptor is a BLE characteristic descriptor.
type Descriptor struct {
	DescriptorID string `json:"descriptorID"`
}

// ServiceProtocolMap nests the discovered services under the protocol key.
type ServiceProtocolMap struct {
	BLE []Service `json:"ble"`
}

// DiscoverResponse is the body of the connection endpoints. Gateways answer
// either with the protocol-keyed shape or with the legacy flat service list.
type DiscoverResponse struct {
	ProtocolMap *ServiceProtocolMap `json:"sdfProtocolMap,omitempty"`
	Services    []Service           `json:"services,omitempty"`
}

// DataParameter addresses one characteristic of a connected device.
type DataParameter struct {
	DeviceID         string   `json:"deviceId"`
	ServiceID        string   `json:"serviceID"`
	CharacteristicID string   `json:"characteristicID"`
	Flags            []string `json:"flags,omitempty"`
}

type discoveryShape int

const (
	shapeNone discoveryShape = iota
	shapeProtocolMap
	shapeLegacy
)

// shape resolves which of the two document shapes is authoritative.
// The protocol-keyed shape wins whenever its service list is present.
func (r *DiscoverResponse) shape() (discoveryShape, []Service) {
	if r == nil {
		return shapeNone, nil
	}
	if r.ProtocolMap != nil && r.ProtocolMap.BLE != nil {
		return shapeProtocolMap, r.ProtocolMap.BLE
	}
	if r.Services != nil {
		return shapeLegacy, r.Services
	}
	return shapeNone, nil
}

// Parameters flattens the discovered services into one DataParameter per
// characteristic, in service order then characteristic order. Services
// without a characteristics list are skipped.
func (r *DiscoverResponse) Parameters(deviceID string) []DataParameter {
	parameters := []DataParameter{}

	_, services := r.shape()
	for _, service := range services {
		if service.Characteristics == nil {
			continue
		}
		for _, characteristic := range service.Characteristics {
			parameters = append(parameters, DataParameter{
				DeviceID:         deviceID,
				ServiceID:        service.ServiceID,
				CharacteristicID: characteristic.CharacteristicID,
				Flags:            characteristic.Flags,
			})
		}
	}

	return parameters
}

// mapDiscovery carries the envelope over and replaces the body with the
// normalized parameter list.
func mapDiscovery(deviceID string, resp Response[DiscoverResponse]) Response[[]DataParameter] {
	mapped := Response[[]DataParameter]{
		HTTP:  resp.HTTP,
		Error: resp.Error,
	}
	if resp.IsSuccess() && resp.HasBody() {
		mapped.setBody(resp.Body.Parameters(deviceID))
	}
	return mapped
}
