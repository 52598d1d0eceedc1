package nipc

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInstanceIDFromLocation(t *testing.T) {
	tests := []struct {
		location string
		want     string
		ok       bool
	}{
		{"https://gw/nipc/devices/d/events?instanceId=ABC&other=1", "ABC", true},
		{"instanceId=ABC", "ABC", true},
		{"/events?eventName=x&instanceId=42", "42", true},
		{"/events?eventName=x", "", false},
		{"/events?instanceId=&other=1", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.location, func(t *testing.T) {
			got, ok := instanceIDFromLocation(tt.location)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestClient_EnableEvent(t *testing.T) {
	client, gw := newTestClient(t, cannedResponse{
		Status:  http.StatusCreated,
		Headers: map[string]string{"Location": "https://gw/nipc/devices/dev/events?instanceId=ABC&other=1"},
	})

	resp, err := client.EnableEvent(context.Background(), "dev", "https://example.com/heartrate#/sdfObject/healthsensor/sdfEvent/fallDetected")
	require.NoError(t, err)

	assert.True(t, resp.IsSuccess())
	require.True(t, resp.HasBody())
	assert.Equal(t, "ABC", resp.Body.InstanceID)
	assert.Equal(t, "https://example.com/heartrate#/sdfObject/healthsensor/sdfEvent/fallDetected", resp.Body.Event)

	req := gw.last(t)
	assert.Equal(t, http.MethodPost, req.Method)
	assert.Equal(t, MediaTypeNIPC, req.ContentType)
	assert.Empty(t, req.Body)
	assert.Equal(t,
		"/nipc/devices/dev/events?eventName=https%3A%2F%2Fexample.com%2Fheartrate%23%2FsdfObject%2Fhealthsensor%2FsdfEvent%2FfallDetected",
		req.URI)
}

func TestClient_EnableEventWithoutLocation(t *testing.T) {
	client, _ := newTestClient(t,
		cannedResponse{Status: http.StatusOK, Body: `{"ignored":true}`},
		cannedResponse{Status: http.StatusCreated, Headers: map[string]string{"Location": "/nipc/devices/dev/events"}},
	)

	for range 2 {
		resp, err := client.EnableEvent(context.Background(), "dev", "e")
		require.NoError(t, err)
		assert.True(t, resp.IsSuccess())
		assert.False(t, resp.HasBody())
		assert.Nil(t, resp.Error)
	}
}

func TestClient_EnableEventProblem(t *testing.T) {
	client, _ := newTestClient(t, cannedResponse{
		Status:  http.StatusConflict,
		Headers: map[string]string{"Content-Type": MediaTypeProblem, "Location": "/x?instanceId=ABC"},
		Body:    `{"type":"https://www.iana.org/assignments/nipc-problem-types#sdf-model-event-already-enabled","status":409,"title":"Event already enabled"}`,
	})

	resp, err := client.EnableEvent(context.Background(), "dev", "e")
	require.NoError(t, err)

	assert.True(t, resp.IsError())
	assert.False(t, resp.HasBody())
	require.NotNil(t, resp.Error)
	assert.Equal(t, "Event already enabled", resp.Error.Title)
}

func TestClient_DisableEvent(t *testing.T) {
	client, gw := newTestClient(t, cannedResponse{Status: http.StatusOK, Body: `not json at all`})

	resp, err := client.DisableEvent(context.Background(), "dev", "ABC")
	require.NoError(t, err)

	assert.True(t, resp.IsSuccess())
	req := gw.last(t)
	assert.Equal(t, http.MethodDelete, req.Method)
	assert.Equal(t, "/nipc/devices/dev/events?instanceId=ABC", req.URI)
}

func TestClient_GetEvents(t *testing.T) {
	client, gw := newTestClient(t,
		cannedResponse{Status: http.StatusOK, Body: `[{"event":"e1","instanceId":"1"}]`},
		cannedResponse{Status: http.StatusOK, Body: `[{"event":"e1","instanceId":"1"},{"event":"e2","instanceId":"2"}]`},
	)
	ctx := context.Background()

	one, err := client.GetEvent(ctx, "dev", "1")
	require.NoError(t, err)
	require.Len(t, one.Body, 1)
	assert.Equal(t, "/nipc/devices/dev/events?instanceId=1", gw.last(t).URI)

	all, err := client.GetAllEvents(ctx, "dev")
	require.NoError(t, err)
	assert.Equal(t, []EventRegistration{{Event: "e1", InstanceID: "1"}, {Event: "e2", InstanceID: "2"}}, all.Body)
	assert.Equal(t, "/nipc/devices/dev/events", gw.last(t).URI)
}
