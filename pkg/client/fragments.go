package client

import (
	"context"
	"net/url"
	"strconv"
	"strings"

	"github.com/turtacn/KeyIP-MMP/pkg/errors"
	"github.com/turtacn/KeyIP-MMP/pkg/types/mmp"
)

// FragmentsClient fragments molecules and queries stored records.
type FragmentsClient struct {
	client *Client
}

// Fragment submits a batch.  Requests are validated locally first.
func (f *FragmentsClient) Fragment(ctx context.Context, req *mmp.FragmentRequest) (*mmp.FragmentResponse, error) {
	if req == nil {
		return nil, errors.New(errors.ErrCodeValidation, "request is required")
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	var resp APIResponse[mmp.FragmentResponse]
	if err := f.client.post(ctx, "/api/v1/fragments", req, &resp); err != nil {
		return nil, err
	}
	return &resp.Data, nil
}

// Pairs lists the stored records sharing core.  limit 0 uses the server
// default.
func (f *FragmentsClient) Pairs(ctx context.Context, core string, limit int) (*mmp.PairsResponse, error) {
	req := mmp.PairsRequest{Core: strings.TrimSpace(core), Limit: limit}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	q := url.Values{"core": {req.Core}}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var resp APIResponse[mmp.PairsResponse]
	if err := f.client.get(ctx, "/api/v1/pairs", q, &resp); err != nil {
		return nil, err
	}
	return &resp.Data, nil
}

// Neighbours lists the compounds sharing cores with compoundID.
func (f *FragmentsClient) Neighbours(ctx context.Context, compoundID string, limit int) (*mmp.NeighboursResponse, error) {
	if strings.TrimSpace(compoundID) == "" {
		return nil, errors.New(errors.ErrCodeValidation, "compound id is required")
	}
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var resp APIResponse[mmp.NeighboursResponse]
	path := "/api/v1/compounds/" + url.PathEscape(compoundID) + "/neighbours"
	if err := f.client.get(ctx, path, q, &resp); err != nil {
		return nil, err
	}
	return &resp.Data, nil
}

// Search queries the record index.
func (f *FragmentsClient) Search(ctx context.Context, req *mmp.SearchRequest) (*mmp.SearchResponse, error) {
	if req == nil {
		req = &mmp.SearchRequest{}
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	q := url.Values{}
	for k, v := range map[string]string{
		"run_id":      req.RunID,
		"core":        req.Core,
		"compound_id": req.CompoundID,
		"side_chain":  req.SideChain,
	} {
		if v != "" {
			q.Set(k, v)
		}
	}
	for k, v := range map[string]int{"max_cuts": req.MaxCuts, "from": req.From, "size": req.Size} {
		if v > 0 {
			q.Set(k, strconv.Itoa(v))
		}
	}
	var resp APIResponse[mmp.SearchResponse]
	if err := f.client.get(ctx, "/api/v1/records/search", q, &resp); err != nil {
		return nil, err
	}
	return &resp.Data, nil
}
