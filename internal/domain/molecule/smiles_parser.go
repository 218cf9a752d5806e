package molecule

import (
	"strconv"
	"strings"
	"unicode"

	"github.com/turtacn/KeyIP-MMP/pkg/errors"
)

type ringOpening struct {
	atom     int
	order    BondOrder
	explicit bool
}

type smilesParser struct {
	s   string
	pos int
	g   *Graph

	prev     int
	branches []int

	bond         BondOrder
	bondExplicit bool

	rings map[int]ringOpening

	organic         []bool
	implicitAromBds []int
}

// ParseSMILES reads a SMILES string.  Parsing stops at the first whitespace
// so "CCO ethanol" reads as ethanol.  Stereo marks (@, /, \) are accepted and
// dropped.
func ParseSMILES(text string) (*Graph, error) {
	text = strings.TrimSpace(text)
	if i := strings.IndexAny(text, " \t\r\n"); i >= 0 {
		text = text[:i]
	}
	if text == "" {
		return nil, errors.New(errors.ErrCodeMoleculeEmpty, "empty SMILES")
	}
	p := &smilesParser{
		s:     text,
		g:     NewGraph(),
		prev:  -1,
		rings: make(map[int]ringOpening),
	}
	if err := p.parse(); err != nil {
		return nil, err
	}
	p.finish()
	return p.g, nil
}

func (p *smilesParser) fail(format string, args ...interface{}) error {
	return errors.Newf(errors.CodeMoleculeInvalidSMILES, format, args...).
		WithDetail("smiles=" + p.s + " pos=" + strconv.Itoa(p.pos))
}

func (p *smilesParser) parse() error {
	for p.pos < len(p.s) {
		c := p.s[p.pos]
		switch {
		case c == '(':
			if p.prev < 0 {
				return p.fail("branch opened before any atom")
			}
			p.branches = append(p.branches, p.prev)
			p.pos++
		case c == ')':
			if len(p.branches) == 0 {
				return p.fail("unbalanced ')'")
			}
			if p.bondExplicit {
				return p.fail("bond symbol before ')'")
			}
			p.prev = p.branches[len(p.branches)-1]
			p.branches = p.branches[:len(p.branches)-1]
			p.pos++
		case c == '.':
			if p.bondExplicit {
				return p.fail("bond symbol before '.'")
			}
			if len(p.branches) > 0 {
				return p.fail("'.' inside a branch")
			}
			p.prev = -1
			p.pos++
		case c == '-' || c == '/' || c == '\\':
			if err := p.setBond(BondSingle); err != nil {
				return err
			}
		case c == '=':
			if err := p.setBond(BondDouble); err != nil {
				return err
			}
		case c == '#':
			if err := p.setBond(BondTriple); err != nil {
				return err
			}
		case c == ':':
			if err := p.setBond(BondAromatic); err != nil {
				return err
			}
		case c == '%' || (c >= '0' && c <= '9'):
			if err := p.ringClosure(); err != nil {
				return err
			}
		case c == '[':
			if err := p.bracketAtom(); err != nil {
				return err
			}
		default:
			if err := p.organicAtom(); err != nil {
				return err
			}
		}
	}
	if len(p.branches) > 0 {
		return p.fail("unclosed branch")
	}
	if p.bondExplicit {
		return p.fail("dangling bond symbol")
	}
	if len(p.rings) > 0 {
		for n := range p.rings {
			return p.fail("unclosed ring bond %d", n)
		}
	}
	return nil
}

func (p *smilesParser) setBond(o BondOrder) error {
	if p.bondExplicit {
		return p.fail("two consecutive bond symbols")
	}
	if p.prev < 0 {
		return p.fail("bond symbol without a preceding atom")
	}
	p.bond = o
	p.bondExplicit = true
	p.pos++
	return nil
}

func (p *smilesParser) ringClosure() error {
	if p.prev < 0 {
		return p.fail("ring bond without a preceding atom")
	}
	var num int
	if p.s[p.pos] == '%' {
		if p.pos+2 >= len(p.s) || !isDigit(p.s[p.pos+1]) || !isDigit(p.s[p.pos+2]) {
			return p.fail("'%%' must be followed by two digits")
		}
		num = int(p.s[p.pos+1]-'0')*10 + int(p.s[p.pos+2]-'0')
		p.pos += 3
	} else {
		num = int(p.s[p.pos] - '0')
		p.pos++
	}

	open, ok := p.rings[num]
	if !ok {
		p.rings[num] = ringOpening{atom: p.prev, order: p.bond, explicit: p.bondExplicit}
		p.bondExplicit = false
		return nil
	}
	delete(p.rings, num)

	order, explicit := p.bond, p.bondExplicit
	if open.explicit {
		if explicit && order != open.order {
			return p.fail("conflicting bond orders on ring bond %d", num)
		}
		order, explicit = open.order, true
	}
	p.bondExplicit = false
	if open.atom == p.prev {
		return p.fail("ring bond %d closes on its own atom", num)
	}
	return p.connect(open.atom, p.prev, order, explicit)
}

// connect bonds a and b; an unmarked bond between two aromatic atoms is
// aromatic until ring perception proves otherwise.
func (p *smilesParser) connect(a, b int, order BondOrder, explicit bool) error {
	aromaticPair := p.g.atoms[a].Aromatic && p.g.atoms[b].Aromatic
	if !explicit {
		order = BondSingle
		if aromaticPair {
			order = BondAromatic
		}
	}
	idx, err := p.g.AddBond(a, b, order)
	if err != nil {
		return p.fail("%s", err.Error())
	}
	if !explicit && aromaticPair {
		p.implicitAromBds = append(p.implicitAromBds, idx)
	}
	return nil
}

func (p *smilesParser) addAtom(a Atom, organic bool) error {
	idx := p.g.AddAtom(a)
	p.organic = append(p.organic, organic)
	if p.prev >= 0 {
		if err := p.connect(p.prev, idx, p.bond, p.bondExplicit); err != nil {
			return err
		}
	} else if p.bondExplicit {
		return p.fail("bond symbol without a preceding atom")
	}
	p.bondExplicit = false
	p.prev = idx
	return nil
}

func (p *smilesParser) organicAtom() error {
	c := p.s[p.pos]
	if c == '*' {
		p.pos++
		return p.addAtom(Atom{Symbol: "*", AtomicNum: 0}, true)
	}
	if p.pos+1 < len(p.s) {
		two := p.s[p.pos : p.pos+2]
		if two == "Cl" || two == "Br" {
			e, _ := lookupElement(two)
			p.pos += 2
			return p.addAtom(Atom{Symbol: e.Symbol, AtomicNum: e.Number}, true)
		}
	}
	switch c {
	case 'B', 'C', 'N', 'O', 'P', 'S', 'F', 'I':
		e, _ := lookupElement(string(c))
		p.pos++
		return p.addAtom(Atom{Symbol: e.Symbol, AtomicNum: e.Number}, true)
	case 'b', 'c', 'n', 'o', 'p', 's':
		e, _ := lookupElement(strings.ToUpper(string(c)))
		p.pos++
		return p.addAtom(Atom{Symbol: e.Symbol, AtomicNum: e.Number, Aromatic: true}, true)
	}
	return p.fail("unexpected character %q", c)
}

func (p *smilesParser) bracketAtom() error {
	end := strings.IndexByte(p.s[p.pos:], ']')
	if end < 0 {
		return p.fail("unclosed '['")
	}
	body := p.s[p.pos+1 : p.pos+end]
	a, err := parseBracketBody(body)
	if err != nil {
		return p.fail("bracket atom [%s]: %s", body, err.Error())
	}
	p.pos += end + 1
	return p.addAtom(a, false)
}

type bracketError string

func (e bracketError) Error() string { return string(e) }

func parseBracketBody(body string) (Atom, error) {
	var a Atom
	i := 0

	start := i
	for i < len(body) && isDigit(body[i]) {
		i++
	}
	if i > start {
		a.Isotope, _ = strconv.Atoi(body[start:i])
	}

	if i >= len(body) {
		return a, bracketError("missing element symbol")
	}
	switch {
	case body[i] == '*':
		a.Symbol, a.AtomicNum = "*", 0
		i++
	case unicode.IsLower(rune(body[i])):
		sym := ""
		if i+1 < len(body) {
			two := body[i : i+2]
			if two == "se" || two == "as" || two == "te" {
				sym = two
			}
		}
		if sym == "" {
			sym = body[i : i+1]
		}
		e, ok := lookupElement(strings.ToUpper(sym[:1]) + sym[1:])
		if !ok || !e.Aromatic {
			return a, bracketError("unknown aromatic symbol " + sym)
		}
		a.Symbol, a.AtomicNum, a.Aromatic = e.Symbol, e.Number, true
		i += len(sym)
	case unicode.IsUpper(rune(body[i])):
		var e *element
		if i+1 < len(body) && unicode.IsLower(rune(body[i+1])) {
			if two, ok := lookupElement(body[i : i+2]); ok {
				e = two
				i += 2
			}
		}
		if e == nil {
			one, ok := lookupElement(body[i : i+1])
			if !ok {
				return a, bracketError("unknown element " + body[i:i+1])
			}
			e = one
			i++
		}
		a.Symbol, a.AtomicNum = e.Symbol, e.Number
	default:
		return a, bracketError("missing element symbol")
	}

	// chirality is dropped
	chiral := false
	for i < len(body) && body[i] == '@' {
		chiral = true
		i++
	}
	if chiral && i+1 < len(body) && isChiralClass(body[i:i+2]) {
		i += 2
		for i < len(body) && isDigit(body[i]) {
			i++
		}
	}

	if i < len(body) && body[i] == 'H' {
		i++
		a.Hydrogens = 1
		start = i
		for i < len(body) && isDigit(body[i]) {
			i++
		}
		if i > start {
			a.Hydrogens, _ = strconv.Atoi(body[start:i])
		}
	}

	if i < len(body) && (body[i] == '+' || body[i] == '-') {
		sign := 1
		if body[i] == '-' {
			sign = -1
		}
		ch := body[i]
		i++
		start = i
		for i < len(body) && isDigit(body[i]) {
			i++
		}
		if i > start {
			n, _ := strconv.Atoi(body[start:i])
			a.Charge = sign * n
		} else {
			n := 1
			for i < len(body) && body[i] == ch {
				n++
				i++
			}
			a.Charge = sign * n
		}
	}

	if i < len(body) && body[i] == ':' {
		i++
		start = i
		for i < len(body) && isDigit(body[i]) {
			i++
		}
		if i == start {
			return a, bracketError("atom class without digits")
		}
		a.MapNum, _ = strconv.Atoi(body[start:i])
	}

	if i != len(body) {
		return a, bracketError("unexpected trailing text " + body[i:])
	}
	return a, nil
}

// finish perceives rings, demotes aromatic notation outside rings and
// derives implicit hydrogens for organic-subset atoms.
func (p *smilesParser) finish() {
	p.g.perceiveRings()
	for _, bi := range p.implicitAromBds {
		if !p.g.bonds[bi].InRing {
			p.g.bonds[bi].Order = BondSingle
		}
	}
	for i := range p.g.atoms {
		if !p.organic[i] {
			continue
		}
		a := &p.g.atoms[i]
		e, _ := lookupElement(a.Symbol)
		a.Hydrogens = defaultHydrogens(e, a.Aromatic, p.g.bondSum(i))
	}
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isChiralClass(s string) bool {
	switch s {
	case "TH", "AL", "SP", "TB", "OH":
		return true
	}
	return false
}
