package opensearch

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strings"
	"time"

	"github.com/opensearch-project/opensearch-go/v2/opensearchapi"

	"github.com/turtacn/KeyIP-MMP/internal/domain/fragment"
	"github.com/turtacn/KeyIP-MMP/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/KeyIP-MMP/pkg/errors"
)

// SearcherConfig holds configuration for the Searcher.
type SearcherConfig struct {
	Index           string
	DefaultPageSize int
	MaxPageSize     int
}

// RecordQuery selects indexed records.  Empty fields do not filter.
type RecordQuery struct {
	RunID      string
	Core       string
	CompoundID string
	SideChain  string
	MaxCuts    int
	From       int
	Size       int
}

// RecordHit is one matching record.
type RecordHit struct {
	ID     string
	RunID  string
	Record fragment.Record
}

// RecordSearchResult holds one page of hits.
type RecordSearchResult struct {
	Total  int64
	Hits   []RecordHit
	TookMs int64
}

// Searcher queries the fragment index.
type Searcher struct {
	client *Client
	config SearcherConfig
	logger logging.Logger
}

// NewSearcher creates a new Searcher.
func NewSearcher(client *Client, cfg SearcherConfig, logger logging.Logger) *Searcher {
	if cfg.Index == "" {
		cfg.Index = "mmp-fragments"
	}
	if cfg.DefaultPageSize == 0 {
		cfg.DefaultPageSize = 20
	}
	if cfg.MaxPageSize == 0 {
		cfg.MaxPageSize = 500
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Searcher{client: client, config: cfg, logger: logger.Named("searcher")}
}

// Search returns records matching q, ordered by compound id.
func (s *Searcher) Search(ctx context.Context, q RecordQuery) (*RecordSearchResult, error) {
	if q.Size <= 0 {
		q.Size = s.config.DefaultPageSize
	}
	if q.Size > s.config.MaxPageSize {
		q.Size = s.config.MaxPageSize
	}
	if q.From < 0 {
		q.From = 0
	}

	dsl := map[string]any{
		"query": buildQuery(q),
		"from":  q.From,
		"size":  q.Size,
		"sort": []any{
			map[string]any{"compound_id": "asc"},
			map[string]any{"cut_count": "asc"},
		},
	}
	body, err := json.Marshal(dsl)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeSerialization, "failed to marshal query DSL")
	}

	start := time.Now()
	resp, err := opensearchapi.SearchRequest{
		Index: []string{s.config.Index},
		Body:  bytes.NewReader(body),
	}.Do(ctx, s.client.Underlying())
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, errors.New(errors.ErrCodeTimeout, "search request timed out")
		}
		return nil, errors.Wrap(err, errors.ErrCodeSearchError, "search request failed")
	}
	defer resp.Body.Close()
	if resp.IsError() {
		return nil, handleErrorResponse(resp)
	}

	result, err := parseSearchResponse(resp.Body)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("search executed",
		logging.String("index", s.config.Index),
		logging.Int64("took_ms", time.Since(start).Milliseconds()),
		logging.Int64("hits", result.Total))
	return result, nil
}

// Count returns the number of records matching q.  Paging fields are
// ignored.
func (s *Searcher) Count(ctx context.Context, q RecordQuery) (int64, error) {
	body, err := json.Marshal(map[string]any{"query": buildQuery(q)})
	if err != nil {
		return 0, errors.Wrap(err, errors.ErrCodeSerialization, "failed to marshal count query")
	}
	resp, err := opensearchapi.CountRequest{
		Index: []string{s.config.Index},
		Body:  bytes.NewReader(body),
	}.Do(ctx, s.client.Underlying())
	if err != nil {
		return 0, errors.Wrap(err, errors.ErrCodeSearchError, "count request failed")
	}
	defer resp.Body.Close()
	if resp.IsError() {
		return 0, handleErrorResponse(resp)
	}
	var out struct {
		Count int64 `json:"count"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, errors.Wrap(err, errors.ErrCodeSerialization, "failed to decode count response")
	}
	return out.Count, nil
}

func buildQuery(q RecordQuery) map[string]any {
	var filters []any
	term := func(field, value string) {
		if v := strings.TrimSpace(value); v != "" {
			filters = append(filters, map[string]any{"term": map[string]any{field: v}})
		}
	}
	term("run_id", q.RunID)
	term("core", q.Core)
	term("compound_id", q.CompoundID)
	term("side_chains", q.SideChain)
	if q.MaxCuts > 0 {
		filters = append(filters, map[string]any{"range": map[string]any{"cut_count": map[string]any{"lte": q.MaxCuts}}})
	}
	if len(filters) == 0 {
		return map[string]any{"match_all": map[string]any{}}
	}
	return map[string]any{"bool": map[string]any{"filter": filters}}
}

func parseSearchResponse(body io.Reader) (*RecordSearchResult, error) {
	var resp struct {
		Took int64 `json:"took"`
		Hits struct {
			Total struct {
				Value int64 `json:"value"`
			} `json:"total"`
			Hits []struct {
				ID     string           `json:"_id"`
				Source FragmentDocument `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(body).Decode(&resp); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeSerialization, "failed to decode search response")
	}

	result := &RecordSearchResult{Total: resp.Hits.Total.Value, TookMs: resp.Took}
	for _, h := range resp.Hits.Hits {
		result.Hits = append(result.Hits, RecordHit{
			ID:     h.ID,
			RunID:  h.Source.RunID,
			Record: h.Source.Record(),
		})
	}
	return result, nil
}

func handleErrorResponse(resp *opensearchapi.Response) error {
	data, _ := io.ReadAll(resp.Body)
	var errResp struct {
		Error struct {
			Type   string `json:"type"`
			Reason string `json:"reason"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &errResp); err == nil && errResp.Error.Reason != "" {
		if errResp.Error.Type == "index_not_found_exception" {
			return errors.New(errors.ErrCodeNotFound, errResp.Error.Reason)
		}
		return errors.Newf(errors.ErrCodeSearchError, "opensearch error: %s - %s", errResp.Error.Type, errResp.Error.Reason)
	}
	return errors.Newf(errors.ErrCodeSearchError, "opensearch error status: %d", resp.StatusCode)
}
