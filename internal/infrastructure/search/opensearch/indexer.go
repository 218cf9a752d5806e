package opensearch

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/opensearch-project/opensearch-go/v2/opensearchapi"

	"github.com/turtacn/KeyIP-MMP/internal/domain/fragment"
	"github.com/turtacn/KeyIP-MMP/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/KeyIP-MMP/pkg/errors"
)

var (
	ErrIndexCreationFailed = errors.New(errors.ErrCodeSearchError, "index creation failed")
	ErrBulkFailed          = errors.New(errors.ErrCodeSearchError, "bulk request failed")
)

// documentNamespace seeds the deterministic document ids.
var documentNamespace = uuid.MustParse("6f1c4c1e-6b1e-4b9e-9a53-2c0f5d1e7a10")

// FragmentDocument is the indexed form of a record.
type FragmentDocument struct {
	RunID              string    `json:"run_id"`
	OriginalIdentifier string    `json:"original_identifier"`
	CompoundID         string    `json:"compound_id"`
	Core               string    `json:"core"`
	SideChains         []string  `json:"side_chains"`
	CutCount           int       `json:"cut_count"`
	IndexedAt          time.Time `json:"indexed_at"`
}

// NewFragmentDocument converts rec.
func NewFragmentDocument(runID uuid.UUID, rec fragment.Record, at time.Time) FragmentDocument {
	return FragmentDocument{
		RunID:              runID.String(),
		OriginalIdentifier: rec.OriginalIdentifier,
		CompoundID:         rec.CompoundID,
		Core:               rec.Core,
		SideChains:         rec.SideChainList(),
		CutCount:           rec.CutCount(),
		IndexedAt:          at.UTC(),
	}
}

// Record converts the document back.
func (d FragmentDocument) Record() fragment.Record {
	return fragment.Record{
		OriginalIdentifier: d.OriginalIdentifier,
		CompoundID:         d.CompoundID,
		Core:               d.Core,
		SideChains:         strings.Join(d.SideChains, "."),
	}
}

// DocumentID is stable for a record within a run, so re-indexing a run
// overwrites instead of duplicating.
func DocumentID(runID uuid.UUID, rec fragment.Record) string {
	return uuid.NewSHA1(documentNamespace, []byte(runID.String()+"\n"+rec.String())).String()
}

// BulkItemError reports one rejected document.
type BulkItemError struct {
	DocID     string
	ErrorType string
	Reason    string
}

// BulkResult summarizes BulkIndex.
type BulkResult struct {
	Succeeded int
	Failed    int
	Errors    []BulkItemError
}

// IndexerConfig holds configuration for the Indexer.
type IndexerConfig struct {
	Index         string
	BulkBatchSize int
	RefreshPolicy string // "false" | "true" | "wait_for"
	Shards        int
	Replicas      int
}

// Indexer writes fragment documents.
type Indexer struct {
	client *Client
	config IndexerConfig
	logger logging.Logger
	now    func() time.Time
}

// NewIndexer creates an Indexer.
func NewIndexer(client *Client, cfg IndexerConfig, logger logging.Logger) *Indexer {
	if cfg.Index == "" {
		cfg.Index = "mmp-fragments"
	}
	if cfg.BulkBatchSize <= 0 {
		cfg.BulkBatchSize = 500
	}
	if cfg.RefreshPolicy == "" {
		cfg.RefreshPolicy = "false"
	}
	if cfg.Shards == 0 {
		cfg.Shards = 1
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Indexer{client: client, config: cfg, logger: logger.Named("indexer"), now: time.Now}
}

// Index is the target index name.
func (i *Indexer) Index() string { return i.config.Index }

// FragmentIndexMapping is the mapping of the fragment index.  Structure
// strings are keywords: lookups are exact.
func FragmentIndexMapping(shards, replicas int) map[string]any {
	keyword := map[string]any{"type": "keyword"}
	return map[string]any{
		"settings": map[string]any{
			"number_of_shards":   shards,
			"number_of_replicas": replicas,
		},
		"mappings": map[string]any{
			"dynamic": "strict",
			"properties": map[string]any{
				"run_id":              keyword,
				"original_identifier": keyword,
				"compound_id":         keyword,
				"core":                keyword,
				"side_chains":         keyword,
				"cut_count":           map[string]any{"type": "short"},
				"indexed_at":          map[string]any{"type": "date"},
			},
		},
	}
}

// EnsureIndex creates the index unless it exists.
func (i *Indexer) EnsureIndex(ctx context.Context) error {
	exists, err := i.IndexExists(ctx)
	if err != nil || exists {
		return err
	}
	body, err := json.Marshal(FragmentIndexMapping(i.config.Shards, i.config.Replicas))
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeSerialization, "failed to marshal index mapping")
	}
	resp, err := opensearchapi.IndicesCreateRequest{Index: i.config.Index, Body: bytes.NewReader(body)}.Do(ctx, i.client.Underlying())
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeSearchError, "create index request failed")
	}
	defer resp.Body.Close()
	if resp.IsError() {
		if resp.StatusCode == 400 && errorType(resp.Body) == "resource_already_exists_exception" {
			return nil
		}
		return ErrIndexCreationFailed.WithDetail(resp.Status())
	}
	i.logger.Info("index created", logging.String("index", i.config.Index))
	return nil
}

// IndexExists checks if the index exists.
func (i *Indexer) IndexExists(ctx context.Context) (bool, error) {
	resp, err := opensearchapi.IndicesExistsRequest{Index: []string{i.config.Index}}.Do(ctx, i.client.Underlying())
	if err != nil {
		return false, errors.Wrap(err, errors.ErrCodeSearchError, "index exists request failed")
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case 200:
		return true, nil
	case 404:
		return false, nil
	}
	return false, errors.Newf(errors.ErrCodeSearchError, "index exists returned status %d", resp.StatusCode)
}

type bulkAction struct {
	Index struct {
		Index string `json:"_index"`
		ID    string `json:"_id"`
	} `json:"index"`
}

type bulkResponse struct {
	Errors bool `json:"errors"`
	Items  []map[string]struct {
		ID     string `json:"_id"`
		Status int    `json:"status"`
		Error  struct {
			Type   string `json:"type"`
			Reason string `json:"reason"`
		} `json:"error"`
	} `json:"items"`
}

// BulkIndex indexes recs of runID in batches of BulkBatchSize.  Rejected
// documents are reported in the result; transport failures abort.
func (i *Indexer) BulkIndex(ctx context.Context, runID uuid.UUID, recs []fragment.Record) (*BulkResult, error) {
	result := &BulkResult{}
	at := i.now()
	for start := 0; start < len(recs); start += i.config.BulkBatchSize {
		end := start + i.config.BulkBatchSize
		if end > len(recs) {
			end = len(recs)
		}
		if err := i.bulkBatch(ctx, runID, recs[start:end], at, result); err != nil {
			return result, err
		}
	}
	i.logger.Debug("bulk index completed",
		logging.Int("total", len(recs)),
		logging.Int("succeeded", result.Succeeded),
		logging.Int("failed", result.Failed))
	return result, nil
}

func (i *Indexer) bulkBatch(ctx context.Context, runID uuid.UUID, recs []fragment.Record, at time.Time, result *BulkResult) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, rec := range recs {
		var action bulkAction
		action.Index.Index = i.config.Index
		action.Index.ID = DocumentID(runID, rec)
		if err := enc.Encode(action); err != nil {
			return errors.Wrap(err, errors.ErrCodeSerialization, "failed to encode bulk action")
		}
		if err := enc.Encode(NewFragmentDocument(runID, rec, at)); err != nil {
			return errors.Wrap(err, errors.ErrCodeSerialization, "failed to encode document")
		}
	}

	resp, err := opensearchapi.BulkRequest{Body: &buf, Refresh: i.config.RefreshPolicy}.Do(ctx, i.client.Underlying())
	if err != nil {
		return ErrBulkFailed.WithCause(err)
	}
	defer resp.Body.Close()
	if resp.IsError() {
		return ErrBulkFailed.WithDetail(resp.Status())
	}

	var br bulkResponse
	if err := json.NewDecoder(resp.Body).Decode(&br); err != nil {
		return errors.Wrap(err, errors.ErrCodeSerialization, "failed to decode bulk response")
	}
	for _, item := range br.Items {
		for _, v := range item {
			if v.Status >= 200 && v.Status < 300 {
				result.Succeeded++
				continue
			}
			result.Failed++
			result.Errors = append(result.Errors, BulkItemError{DocID: v.ID, ErrorType: v.Error.Type, Reason: v.Error.Reason})
		}
	}
	return nil
}

// DeleteRun removes every document of runID and returns how many were
// deleted.
func (i *Indexer) DeleteRun(ctx context.Context, runID uuid.UUID) (int64, error) {
	body, _ := json.Marshal(map[string]any{
		"query": map[string]any{"term": map[string]any{"run_id": runID.String()}},
	})
	refresh := true
	resp, err := opensearchapi.DeleteByQueryRequest{
		Index:   []string{i.config.Index},
		Body:    bytes.NewReader(body),
		Refresh: &refresh,
	}.Do(ctx, i.client.Underlying())
	if err != nil {
		return 0, errors.Wrap(err, errors.ErrCodeSearchError, "delete by query failed")
	}
	defer resp.Body.Close()
	if resp.IsError() {
		return 0, errors.Newf(errors.ErrCodeSearchError, "delete by query returned status %d", resp.StatusCode)
	}
	var out struct {
		Deleted int64 `json:"deleted"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, errors.Wrap(err, errors.ErrCodeSerialization, "failed to decode delete response")
	}
	return out.Deleted, nil
}

// errorType reads the "error.type" of an error body.
func errorType(body io.Reader) string {
	var e struct {
		Error struct {
			Type string `json:"type"`
		} `json:"error"`
	}
	if err := json.NewDecoder(body).Decode(&e); err != nil {
		return ""
	}
	return e.Error.Type
}
