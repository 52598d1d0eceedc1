package nipc

import (
	"context"
	"net/http"
	"strings"
)

const instanceIDParam = "instanceId="

// EnableEvent enables eventName on the device. The gateway returns the new
// subscription's instance id in the Location header; when the header or the
// parameter is missing the response is still successful, without a body.
func (c *Client) EnableEvent(ctx context.Context, deviceID, eventName string) (Response[EventRegistration], error) {
	if err := validateDeviceID(deviceID); err != nil {
		return Response[EventRegistration]{}, err
	}

	resp, err := call[NoContent](ctx, c, http.MethodPost,
		devicePath(deviceID, "/events?eventName="+encode(eventName)), nil, MediaTypeNIPC, false)
	if err != nil {
		return Response[EventRegistration]{}, err
	}

	mapped := Response[EventRegistration]{
		HTTP:  resp.HTTP,
		Error: resp.Error,
	}
	if !resp.IsSuccess() || resp.HTTP == nil {
		return mapped, nil
	}

	location, ok := resp.HTTP.Header("Location")
	if !ok {
		return mapped, nil
	}
	if instanceID, ok := instanceIDFromLocation(location); ok {
		mapped.setBody(EventRegistration{Event: eventName, InstanceID: instanceID})
	}

	return mapped, nil
}

// instanceIDFromLocation scans a Location URI for the instanceId query
// parameter and returns its value up to the next '&'.
func instanceIDFromLocation(location string) (string, bool) {
	idx := strings.Index(location, instanceIDParam)
	if idx < 0 {
		return "", false
	}

	value := location[idx+len(instanceIDParam):]
	if amp := strings.IndexByte(value, '&'); amp >= 0 {
		value = value[:amp]
	}
	if value == "" {
		return "", false
	}

	return value, true
}

// DisableEvent disables the event subscription instanceID.
func (c *Client) DisableEvent(ctx context.Context, deviceID, instanceID string) (Response[NoContent], error) {
	if err := validateDeviceID(deviceID); err != nil {
		return Response[NoContent]{}, err
	}

	return call[NoContent](ctx, c, http.MethodDelete,
		devicePath(deviceID, "/events?instanceId="+encode(instanceID)), nil, "", false)
}

// GetEvent returns the event subscription instanceID.
func (c *Client) GetEvent(ctx context.Context, deviceID, instanceID string) (Response[[]EventRegistration], error) {
	if err := validateDeviceID(deviceID); err != nil {
		return Response[[]EventRegistration]{}, err
	}

	return get[[]EventRegistration](ctx, c, devicePath(deviceID, "/events?instanceId="+encode(instanceID)))
}

// GetAllEvents returns every event subscription of the device.
func (c *Client) GetAllEvents(ctx context.Context, deviceID string) (Response[[]EventRegistration], error) {
	if err := validateDeviceID(deviceID); err != nil {
		return Response[[]EventRegistration]{}, err
	}

	return get[[]EventRegistration](ctx, c, devicePath(deviceID, "/events"))
}
