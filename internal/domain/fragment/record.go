package fragment

import (
	"context"
	"regexp"
	"sort"
	"strconv"
	"strings"

	pkgerrors "github.com/turtacn/KeyIP-MMP/pkg/errors"
)

// Record is one emitted decomposition of a molecule.  Core and SideChains
// are empty when not applicable; several side chains are dot-joined.
type Record struct {
	OriginalIdentifier string `json:"original_identifier"`
	CompoundID         string `json:"compound_id"`
	Core               string `json:"core"`
	SideChains         string `json:"side_chains"`
}

// String renders the record as the CSV line "smiles,id,core,side_chains".
func (r Record) String() string {
	return r.OriginalIdentifier + "," + r.CompoundID + "," + r.Core + "," + r.SideChains
}

// SideChainList splits SideChains into its fragments.
func (r Record) SideChainList() []string {
	if r.SideChains == "" {
		return nil
	}
	return strings.Split(r.SideChains, ".")
}

// CutCount is the number of bonds cut to produce the record: 0 for a
// molecule without cuttable bonds, 1 for a record without a core, else the
// number of side chains.
func (r Record) CutCount() int {
	switch {
	case r.SideChains == "":
		return 0
	case r.Core == "":
		return 1
	}
	return len(r.SideChainList())
}

var attachmentLabel = regexp.MustCompile(`\[\*:(\d+)\]`)

// AttachmentLabels returns the sorted atom-map labels written in s.
func AttachmentLabels(s string) []int {
	var labels []int
	for _, m := range attachmentLabel.FindAllStringSubmatch(s, -1) {
		n, err := strconv.Atoi(m[1])
		if err == nil {
			labels = append(labels, n)
		}
	}
	sort.Ints(labels)
	return labels
}

// Failure marks a molecule that produced no records.
type Failure struct {
	OriginalIdentifier string              `json:"original_identifier"`
	CompoundID         string              `json:"compound_id"`
	Code               pkgerrors.ErrorCode `json:"code"`
	Reason             string              `json:"reason"`
}

// NewFailure builds a Failure from the error that stopped a molecule.
func NewFailure(identifier, compoundID string, err error) Failure {
	code := pkgerrors.GetCode(err)
	return Failure{
		OriginalIdentifier: identifier,
		CompoundID:         compoundID,
		Code:               code,
		Reason:             err.Error(),
	}
}

// RecordSink receives records and failure markers.  Calls for one batch are
// made from a single goroutine in input order.
type RecordSink interface {
	Accept(ctx context.Context, r Record) error
	AcceptFailure(ctx context.Context, f Failure) error
}

// Flusher is implemented by sinks that buffer.
type Flusher interface {
	Flush(ctx context.Context) error
}
