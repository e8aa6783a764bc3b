package metering

import (
	"context"
	"fmt"
	"net/url"

	"github.com/velum-io/appconfig-go/internal/transport"
)

// Usage is one aggregated usage record. Exactly one of FeatureID and
// PropertyID is set; EntityType names which. EvaluationTime is the latest
// evaluation in the window, RFC 3339 in UTC.
type Usage struct {
	FeatureID      string `json:"feature_id,omitempty"`
	PropertyID     string `json:"property_id,omitempty"`
	EntityType     string `json:"entity_type"`
	SegmentID      string `json:"segment_id"`
	Count          int64  `json:"count"`
	EvaluationTime string `json:"evaluation_time"`
}

// Batch is the usage upload payload.
type Batch struct {
	CollectionID  string  `json:"collection_id"`
	EnvironmentID string  `json:"environment_id"`
	Usages        []Usage `json:"usages"`
}

// Uploader delivers one usage batch.
type Uploader interface {
	UploadUsage(ctx context.Context, batch Batch) error
}

// HTTPUploader posts usage batches to the service usage endpoint.
type HTTPUploader struct {
	client *transport.Client
	guid   string
}

// NewHTTPUploader creates an uploader for the given instance.
func NewHTTPUploader(client *transport.Client, guid string) *HTTPUploader {
	return &HTTPUploader{client: client, guid: guid}
}

// UploadUsage posts the batch as JSON.
func (u *HTTPUploader) UploadUsage(ctx context.Context, batch Batch) error {
	path := fmt.Sprintf("/events/v1/instances/%s/usage", url.PathEscape(u.guid))
	if err := u.client.PostJSON(ctx, path, batch); err != nil {
		return fmt.Errorf("upload usage: %w", err)
	}
	return nil
}
