package nipc

import (
	"context"
)

const (
	modelsPath   = "/registrations/models"
	dataAppsPath = "/registrations/data-apps"
)

// RegisterSdfModel registers a model document.
func (c *Client) RegisterSdfModel(ctx context.Context, model SdfModel) (Response[[]ModelRegistration], error) {
	return post[[]ModelRegistration](ctx, c, modelsPath, model, MediaTypeSDF)
}

// UpdateSdfModel replaces the model registered as sdfName.
func (c *Client) UpdateSdfModel(ctx context.Context, sdfName string, model SdfModel) (Response[ModelRegistration], error) {
	return put[ModelRegistration](ctx, c, modelsPath+"?sdfName="+encode(sdfName), model, MediaTypeSDF)
}

// GetSdfModels lists registered models.
func (c *Client) GetSdfModels(ctx context.Context) (Response[[]ModelRegistration], error) {
	return get[[]ModelRegistration](ctx, c, modelsPath)
}

// GetSdfModel fetches a registered model document.
func (c *Client) GetSdfModel(ctx context.Context, sdfName string) (Response[SdfModel], error) {
	return get[SdfModel](ctx, c, modelsPath+"?sdfName="+encode(sdfName))
}

// UnregisterSdfModel removes a registered model.
func (c *Client) UnregisterSdfModel(ctx context.Context, sdfName string) (Response[ModelRegistration], error) {
	return del[ModelRegistration](ctx, c, modelsPath+"?sdfName="+encode(sdfName))
}

// CreateDataApp registers a data application.
func (c *Client) CreateDataApp(ctx context.Context, dataAppID string, app DataAppRegistration) (Response[DataAppRegistration], error) {
	return post[DataAppRegistration](ctx, c, dataAppPath(dataAppID), app, MediaTypeNIPC)
}

// UpdateDataApp replaces a data application registration.
func (c *Client) UpdateDataApp(ctx context.Context, dataAppID string, app DataAppRegistration) (Response[DataAppRegistration], error) {
	return put[DataAppRegistration](ctx, c, dataAppPath(dataAppID), app, MediaTypeNIPC)
}

// GetDataApp fetches a data application registration.
func (c *Client) GetDataApp(ctx context.Context, dataAppID string) (Response[DataAppRegistration], error) {
	return get[DataAppRegistration](ctx, c, dataAppPath(dataAppID))
}

// DeleteDataApp removes a data application registration.
func (c *Client) DeleteDataApp(ctx context.Context, dataAppID string) (Response[DataAppRegistration], error) {
	return del[DataAppRegistration](ctx, c, dataAppPath(dataAppID))
}

func dataAppPath(dataAppID string) string {
	return dataAppsPath + "?dataAppId=" + encode(dataAppID)
}
