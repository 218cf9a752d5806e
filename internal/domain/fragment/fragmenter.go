package fragment

import (
	"context"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/turtacn/KeyIP-MMP/internal/domain/molecule"
	"github.com/turtacn/KeyIP-MMP/internal/infrastructure/monitoring/logging"
	pkgerrors "github.com/turtacn/KeyIP-MMP/pkg/errors"
)

// Molecule is one input: a structure in any encoding the provider reads and
// a caller-assigned compound id.
type Molecule struct {
	Text       string `json:"smiles"`
	CompoundID string `json:"compound_id"`
}

// Stats counts what happened while fragmenting one molecule.
type Stats struct {
	Candidates    int `json:"candidates"`
	Combinations  int `json:"combinations"`
	Emitted       int `json:"emitted"`
	Duplicates    int `json:"duplicates"`
	InvalidTriple int `json:"invalid_triple"`
	Unparsable    int `json:"unparsable"`
}

// Result is the deduplicated output for one molecule, in enumeration order.
type Result struct {
	Records []Record `json:"records"`
	Stats   Stats    `json:"stats"`
}

// Fragmenter runs the engine for one molecule at a time.  It holds no
// per-molecule state and is safe for concurrent use.
type Fragmenter struct {
	provider      molecule.Provider
	matcher       molecule.Matcher
	maxCuts       int
	maxCandidates int
	parallelism   int
	logger        logging.Logger
}

// Option configures a Fragmenter.
type Option func(*Fragmenter)

// WithMaxCuts bounds the cut-set size; values outside [1, 3] are clamped.
func WithMaxCuts(n int) Option {
	return func(f *Fragmenter) { f.maxCuts = clampCuts(n) }
}

// WithMaxCandidates fails molecules with more than n cuttable bonds.  Zero
// disables the bound.
func WithMaxCandidates(n int) Option {
	return func(f *Fragmenter) { f.maxCandidates = n }
}

// WithParallelism spreads the combinations of one molecule over n goroutines.
func WithParallelism(n int) Option {
	return func(f *Fragmenter) {
		if n > 0 {
			f.parallelism = n
		}
	}
}

// WithLogger sets the logger; skipped combinations are logged at debug.
func WithLogger(l logging.Logger) Option {
	return func(f *Fragmenter) {
		if l != nil {
			f.logger = l
		}
	}
}

// NewFragmenter returns a Fragmenter using the given collaborators.
func NewFragmenter(p molecule.Provider, m molecule.Matcher, opts ...Option) *Fragmenter {
	f := &Fragmenter{
		provider:    p,
		matcher:     m,
		maxCuts:     DefaultMaxCuts,
		parallelism: 1,
		logger:      logging.NewNopLogger(),
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

// MaxCuts reports the configured cut-set bound.
func (f *Fragmenter) MaxCuts() int { return f.maxCuts }

type outcome struct {
	record Record
	skip   pkgerrors.ErrorCode
}

// Fragment parses m, enumerates every cut set over its cuttable bonds and
// returns the unique records.  A molecule without cuttable bonds yields one
// record with empty core and side chains.  Parse failures and the candidate
// bound are returned as errors; failing combinations are skipped.  When ctx
// expires the error carries ErrCodeMMPMoleculeTimeout.
func (f *Fragmenter) Fragment(ctx context.Context, m Molecule) (*Result, error) {
	g, err := f.provider.Parse(m.Text)
	if err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.CodeUnknown, "cannot read molecule")
	}
	if err := checkInput(g); err != nil {
		return nil, err
	}
	identifier := strings.TrimSpace(m.Text)
	if molecule.DetectEncoding(m.Text) == molecule.EncodingMolfile {
		identifier = f.provider.Serialize(g)
	}
	g = molecule.LargestComponent(g)

	cands, err := FindCandidates(g, f.matcher)
	if err != nil {
		return nil, err
	}
	res := &Result{Stats: Stats{Candidates: len(cands)}}
	if len(cands) == 0 {
		res.Records = []Record{{OriginalIdentifier: identifier, CompoundID: m.CompoundID}}
		res.Stats.Emitted = 1
		return res, nil
	}
	if f.maxCandidates > 0 && len(cands) > f.maxCandidates {
		return nil, pkgerrors.Newf(pkgerrors.ErrCodeMMPTooManyCutBonds,
			"%d cuttable bonds exceeds limit %d", len(cands), f.maxCandidates)
	}

	combos := Combinations(len(cands), f.maxCuts)
	res.Stats.Combinations = len(combos)
	outcomes := make([]outcome, len(combos))

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(f.parallelism)
	for i, idx := range combos {
		if err := egCtx.Err(); err != nil {
			break
		}
		i, cuts := i, Select(cands, idx)
		eg.Go(func() error {
			if err := egCtx.Err(); err != nil {
				return err
			}
			outcomes[i] = f.cut(g, cuts, identifier, m.CompoundID)
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, timeoutError(err)
	}
	if err := ctx.Err(); err != nil {
		return nil, timeoutError(err)
	}

	seen := make(map[Record]struct{}, len(outcomes))
	for _, o := range outcomes {
		switch o.skip {
		case "":
		case pkgerrors.ErrCodeMMPInvalidTripleCut:
			res.Stats.InvalidTriple++
			continue
		default:
			res.Stats.Unparsable++
			continue
		}
		if _, dup := seen[o.record]; dup {
			res.Stats.Duplicates++
			continue
		}
		seen[o.record] = struct{}{}
		res.Records = append(res.Records, o.record)
	}
	res.Stats.Emitted = len(res.Records)
	return res, nil
}

// checkInput rejects graphs the engine cannot label: no atoms at all, or
// wildcard atoms, which would be indistinguishable from attachment points.
func checkInput(g *molecule.Graph) error {
	if g.NumAtoms() == 0 {
		return pkgerrors.New(pkgerrors.ErrCodeMoleculeEmpty, "molecule has no atoms")
	}
	for i := 0; i < g.NumAtoms(); i++ {
		if g.Atom(i).IsAttachment() {
			return pkgerrors.Newf(pkgerrors.ErrCodeMoleculeInvalidFormat,
				"wildcard atom %d in input; attachment points are reserved for cuts", i)
		}
	}
	return nil
}

// cut runs one combination: cut, filter, canonicalize.
func (f *Fragmenter) cut(g *molecule.Graph, cuts CutSet, identifier, compoundID string) outcome {
	w, err := ApplyCuts(g, cuts)
	if err != nil {
		return f.skip(err, cuts)
	}
	if len(cuts) == 3 && !ValidTripleCut(f.provider.Serialize(w)) {
		return outcome{skip: pkgerrors.ErrCodeMMPInvalidTripleCut}
	}
	core, sides, err := Canonicalize(f.provider, w, len(cuts))
	if err != nil {
		return f.skip(err, cuts)
	}
	return outcome{record: Record{
		OriginalIdentifier: identifier,
		CompoundID:         compoundID,
		Core:               core,
		SideChains:         strings.Join(sides, "."),
	}}
}

func (f *Fragmenter) skip(err error, cuts CutSet) outcome {
	f.logger.Debug("combination skipped",
		logging.Err(err),
		logging.Int("cuts", len(cuts)),
		logging.Any("bonds", cuts))
	code := pkgerrors.GetCode(err)
	if code == pkgerrors.CodeOK || code == pkgerrors.CodeUnknown {
		code = pkgerrors.ErrCodeMMPUnparsableFragment
	}
	return outcome{skip: code}
}

func timeoutError(err error) error {
	if pkgerrors.Is(err, context.DeadlineExceeded) {
		return pkgerrors.Wrap(err, pkgerrors.ErrCodeMMPMoleculeTimeout, "fragmentation time budget exceeded")
	}
	return pkgerrors.Wrap(err, pkgerrors.CodeInternal, "fragmentation cancelled")
}
