package molecule

import (
	"sort"
	"strings"

	"github.com/turtacn/KeyIP-MMP/pkg/errors"
)

// Encoding identifies the textual form of an input molecule.
type Encoding string

const (
	EncodingSMILES  Encoding = "smiles"
	EncodingMolfile Encoding = "molfile"
	EncodingInChI   Encoding = "inchi"
)

// DetectEncoding sniffs the textual form of text.
func DetectEncoding(text string) Encoding {
	trimmed := strings.TrimSpace(text)
	switch {
	case strings.HasPrefix(trimmed, "InChI="):
		return EncodingInChI
	case strings.Contains(text, "\n") && IsMolfile(text):
		return EncodingMolfile
	default:
		return EncodingSMILES
	}
}

// Provider reads and writes molecule graphs.
type Provider interface {
	// Parse reads SMILES or a V2000 connection table.  InChI is recognised
	// and rejected.
	Parse(text string) (*Graph, error)

	// Serialize writes canonical SMILES with attachment points unlabeled.
	Serialize(g *Graph) string

	// SerializeWithIsotopes writes canonical SMILES with attachment points
	// rendered as [n*].
	SerializeWithIsotopes(g *Graph) string

	// SerializeLabeled writes canonical SMILES with atom-map numbers kept and
	// ranked, so [*:1] and [*:2] are told apart.
	SerializeLabeled(g *Graph) string
}

// GraphProvider is the in-process Provider.
type GraphProvider struct{}

// NewProvider returns the default Provider.
func NewProvider() *GraphProvider { return &GraphProvider{} }

// Parse implements Provider.
func (GraphProvider) Parse(text string) (*Graph, error) {
	switch DetectEncoding(text) {
	case EncodingInChI:
		return nil, errors.New(errors.ErrCodeMoleculeInvalidInChI, "unsupported input encoding: InChI")
	case EncodingMolfile:
		return ParseMolfile(text)
	default:
		return ParseSMILES(text)
	}
}

// Serialize implements Provider.
func (GraphProvider) Serialize(g *Graph) string {
	return WriteSMILES(g)
}

// SerializeWithIsotopes implements Provider.
func (GraphProvider) SerializeWithIsotopes(g *Graph) string {
	return WriteSMILES(g, WithAttachmentIsotopes())
}

// SerializeLabeled implements Provider.
func (GraphProvider) SerializeLabeled(g *Graph) string {
	return WriteSMILES(g, WithMapNumRanking())
}

// CanonicalSMILES parses SMILES text and writes it back canonically.
func CanonicalSMILES(text string, opts ...WriteOption) (string, error) {
	g, err := ParseSMILES(text)
	if err != nil {
		return "", err
	}
	return WriteSMILES(g, opts...), nil
}

// LargestComponent returns the component with the most heavy atoms; ties go
// to the lexicographically smallest canonical SMILES.  A connected graph is
// returned unchanged.
func LargestComponent(g *Graph) *Graph {
	comps := g.Components()
	if len(comps) <= 1 {
		return g
	}
	type candidate struct {
		sub    *Graph
		heavy  int
		smiles string
	}
	cands := make([]candidate, 0, len(comps))
	for _, c := range comps {
		sub := g.Subgraph(c)
		cands = append(cands, candidate{sub: sub, heavy: sub.HeavyAtomCount(), smiles: WriteSMILES(sub)})
	}
	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].heavy != cands[j].heavy {
			return cands[i].heavy > cands[j].heavy
		}
		return cands[i].smiles < cands[j].smiles
	})
	return cands[0].sub
}
