package nipc

import (
	"context"
)

// Connect connects the device with default retry settings and returns the
// discovered characteristics. opts may be nil.
func (c *Client) Connect(ctx context.Context, device Device, opts *BLEConnectOptions) (Response[[]DataParameter], error) {
	return c.ConnectWithRetries(ctx, device, opts, DefaultRetries, true)
}

// ConnectWithRetries connects the device. retryMultipleAPs lets the gateway
// retry through other access points.
func (c *Client) ConnectWithRetries(ctx context.Context, device Device, opts *BLEConnectOptions, retries int, retryMultipleAPs bool) (Response[[]DataParameter], error) {
	if err := validateDeviceID(device.ID); err != nil {
		return Response[[]DataParameter]{}, err
	}

	resp, err := post[DiscoverResponse](ctx, c, devicePath(device.ID, "/connections"),
		newConnectRequest(opts, retries, retryMultipleAPs), MediaTypeNIPC)
	if err != nil {
		return Response[[]DataParameter]{}, err
	}

	return mapDiscovery(device.ID, resp), nil
}

// Discover re-runs service discovery on the device with default retry
// settings. Unlike Connect it is idempotent.
func (c *Client) Discover(ctx context.Context, device Device, opts *BLEConnectOptions) (Response[[]DataParameter], error) {
	return c.DiscoverWithRetries(ctx, device, opts, DefaultRetries, true)
}

// DiscoverWithRetries re-runs service discovery on the device.
func (c *Client) DiscoverWithRetries(ctx context.Context, device Device, opts *BLEConnectOptions, retries int, retryMultipleAPs bool) (Response[[]DataParameter], error) {
	if err := validateDeviceID(device.ID); err != nil {
		return Response[[]DataParameter]{}, err
	}

	resp, err := put[DiscoverResponse](ctx, c, devicePath(device.ID, "/connections"),
		newConnectRequest(opts, retries, retryMultipleAPs), MediaTypeNIPC)
	if err != nil {
		return Response[[]DataParameter]{}, err
	}

	return mapDiscovery(device.ID, resp), nil
}

// GetConnection returns the characteristics of an established connection.
func (c *Client) GetConnection(ctx context.Context, device Device) (Response[[]DataParameter], error) {
	if err := validateDeviceID(device.ID); err != nil {
		return Response[[]DataParameter]{}, err
	}

	resp, err := get[DiscoverResponse](ctx, c, devicePath(device.ID, "/connections"))
	if err != nil {
		return Response[[]DataParameter]{}, err
	}

	return mapDiscovery(device.ID, resp), nil
}

// Disconnect tears down the connection to the device.
func (c *Client) Disconnect(ctx context.Context, device Device) (Response[DeviceResponse], error) {
	if err := validateDeviceID(device.ID); err != nil {
		return Response[DeviceResponse]{}, err
	}

	return del[DeviceResponse](ctx, c, devicePath(device.ID, "/connections"))
}

// Read reads a characteristic of a connected device.
func (c *Client) Read(ctx context.Context, device Device, serviceID, characteristicID string) (Response[ValueResponse], error) {
	if err := validateDeviceID(device.ID); err != nil {
		return Response[ValueResponse]{}, err
	}

	req := propertyRequest{
		ProtocolMap: propertyProtocolMap{
			BLE: blePropertyMap{ServiceID: serviceID, CharacteristicID: characteristicID},
		},
	}

	return post[ValueResponse](ctx, c, "/extensions/"+pathSegment(device.ID)+"/properties/read", req, MediaTypeNIPC)
}

// Write writes value to a characteristic of a connected device.
func (c *Client) Write(ctx context.Context, device Device, serviceID, characteristicID, value string) (Response[ValueResponse], error) {
	if err := validateDeviceID(device.ID); err != nil {
		return Response[ValueResponse]{}, err
	}

	req := propertyRequest{
		Value: &value,
		ProtocolMap: propertyProtocolMap{
			BLE: blePropertyMap{ServiceID: serviceID, CharacteristicID: characteristicID},
		},
	}

	return post[ValueResponse](ctx, c, "/extensions/"+pathSegment(device.ID)+"/properties/write", req, MediaTypeNIPC)
}

// ReadProperty reads a model property, e.g.
// "https://example.com/heartrate#/sdfObject/healthsensor/sdfProperty/rate".
// Failed elements are reported per element; the response stays successful.
func (c *Client) ReadProperty(ctx context.Context, deviceID, propertyName string) (Response[[]PropertyResult], error) {
	if err := validateDeviceID(deviceID); err != nil {
		return Response[[]PropertyResult]{}, err
	}

	return get[[]PropertyResult](ctx, c, devicePath(deviceID, "/properties?propertyName="+encode(propertyName)))
}

// WriteProperty writes a model property.
// Failed elements are reported per element; the response stays successful.
func (c *Client) WriteProperty(ctx context.Context, deviceID, propertyName, value string) (Response[[]PropertyResult], error) {
	if err := validateDeviceID(deviceID); err != nil {
		return Response[[]PropertyResult]{}, err
	}

	body := []propertyWrite{{Property: propertyName, Value: value}}

	return put[[]PropertyResult](ctx, c, devicePath(deviceID, "/properties"), body, MediaTypeNIPC)
}

func newConnectRequest(opts *BLEConnectOptions, retries int, retryMultipleAPs bool) connectRequest {
	var ble BLEConnectOptions
	if opts != nil {
		ble = *opts
	}
	return connectRequest{
		ProtocolMap:      connectProtocolMap{BLE: ble},
		Retries:          retries,
		RetryMultipleAPs: retryMultipleAPs,
	}
}
