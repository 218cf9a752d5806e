package client

import (
	"context"
	"net/url"

	"github.com/google/uuid"

	"github.com/turtacn/KeyIP-MMP/pkg/errors"
	"github.com/turtacn/KeyIP-MMP/pkg/types/mmp"
)

// RunsClient reads the run archive.
type RunsClient struct {
	client *Client
}

// List returns the archived run ids.
func (r *RunsClient) List(ctx context.Context) (*mmp.RunList, error) {
	var resp APIResponse[mmp.RunList]
	if err := r.client.get(ctx, "/api/v1/runs", nil, &resp); err != nil {
		return nil, err
	}
	return &resp.Data, nil
}

// Get returns the artifacts of one run with download URLs.
func (r *RunsClient) Get(ctx context.Context, runID string) (*mmp.RunArtifacts, error) {
	if _, err := uuid.Parse(runID); err != nil {
		return nil, errors.New(errors.ErrCodeValidation, "run id must be a UUID")
	}
	var resp APIResponse[mmp.RunArtifacts]
	if err := r.client.get(ctx, "/api/v1/runs/"+url.PathEscape(runID), nil, &resp); err != nil {
		return nil, err
	}
	return &resp.Data, nil
}
