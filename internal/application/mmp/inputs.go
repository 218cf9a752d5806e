package mmp

import (
	"encoding/csv"
	"io"
	"strconv"
	"strings"

	"github.com/samber/lo"

	"github.com/turtacn/KeyIP-MMP/internal/domain/fragment"
	"github.com/turtacn/KeyIP-MMP/internal/domain/molecule"
	"github.com/turtacn/KeyIP-MMP/pkg/errors"
)

// sdSeparator ends one record of an SD file.
const sdSeparator = "$$$$"

// Format is the detected layout of an input stream.
type Format string

const (
	FormatSD    Format = "sd"
	FormatTable Format = "table"
)

// Inputs is the result of ReadInputs.
type Inputs struct {
	Format    Format
	Delimiter string // table only; "" for a single column
	HasHeader bool
	Molecules []fragment.Molecule
}

// ReadInputs reads a molecule list.  A stream containing "$$$$" lines is an
// SD file whose records take their compound id from the title line, else
// the 1-based record number.  Anything else is a line table: the delimiter
// is taken from the first line (tab, comma, space, else one column), the
// structure column is the first column that parses, the id column the next
// one, else the 1-based line number.  A first line whose structure column
// does not parse is a header.  InChI tables are rejected.
func ReadInputs(r io.Reader, p molecule.Provider) (*Inputs, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeMMPInputUnreadable, "cannot read input")
	}
	text := strings.ReplaceAll(string(data), "\r\n", "\n")
	lines := strings.Split(text, "\n")
	if lo.ContainsBy(lines, func(l string) bool { return strings.TrimSpace(l) == sdSeparator }) {
		return &Inputs{Format: FormatSD, Molecules: readSD(lines)}, nil
	}
	return readTable(lines, p)
}

func readSD(lines []string) []fragment.Molecule {
	var (
		out    []fragment.Molecule
		record []string
	)
	flush := func() {
		if len(lo.Compact(lo.Map(record, func(l string, _ int) string { return strings.TrimSpace(l) }))) == 0 {
			record = record[:0]
			return
		}
		id := strings.TrimSpace(record[0])
		if id == "" {
			id = strconv.Itoa(len(out) + 1)
		}
		out = append(out, fragment.Molecule{Text: strings.Join(record, "\n") + "\n", CompoundID: id})
		record = record[:0]
	}
	for _, l := range lines {
		if strings.TrimSpace(l) == sdSeparator {
			flush()
			continue
		}
		record = append(record, l)
	}
	flush()
	return out
}

// delimiters in detection order.
var delimiters = []string{"\t", ",", " "}

func detectDelimiter(line string) string {
	for _, d := range delimiters {
		if strings.Contains(strings.TrimSpace(line), d) {
			return d
		}
	}
	return ""
}

func splitColumns(line, delim string) []string {
	if delim == "" {
		return []string{strings.TrimSpace(line)}
	}
	var cols []string
	if delim == " " {
		cols = strings.Fields(line)
	} else {
		cols = readDelimited(line, delim)
	}
	return lo.Map(cols, func(c string, _ int) string { return strings.TrimSpace(c) })
}

// readDelimited splits one tab or comma separated line, honouring quoted
// fields.  A line the CSV reader rejects is split on the bare delimiter.
func readDelimited(line, delim string) []string {
	r := csv.NewReader(strings.NewReader(line))
	r.Comma = rune(delim[0])
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.TrimLeadingSpace = true
	cols, err := r.Read()
	if err != nil {
		return strings.Split(line, delim)
	}
	return cols
}

// structureColumn returns the index of the first column that parses, or -1.
func structureColumn(cols []string, p molecule.Provider) int {
	for i, c := range cols {
		if c == "" {
			continue
		}
		if _, err := p.Parse(c); err == nil {
			return i
		}
	}
	return -1
}

// locateStructure finds the structure column of line; an InChI line is an
// error.
func locateStructure(line, delim string, p molecule.Provider) (int, error) {
	cols := splitColumns(line, delim)
	if col := structureColumn(cols, p); col >= 0 {
		return col, nil
	}
	if lo.ContainsBy(cols, func(c string) bool { return molecule.DetectEncoding(c) == molecule.EncodingInChI }) {
		return -1, errors.New(errors.ErrCodeMoleculeInvalidInChI, "unsupported input encoding: InChI")
	}
	return -1, nil
}

func readTable(lines []string, p molecule.Provider) (*Inputs, error) {
	type numbered struct {
		no   int
		text string
	}
	var rows []numbered
	for i, l := range lines {
		if strings.TrimSpace(l) != "" {
			rows = append(rows, numbered{no: i + 1, text: l})
		}
	}
	in := &Inputs{Format: FormatTable}
	if len(rows) == 0 {
		return in, nil
	}
	in.Delimiter = detectDelimiter(rows[0].text)

	col, err := locateStructure(rows[0].text, in.Delimiter, p)
	if err != nil {
		return nil, err
	}
	if col < 0 {
		in.HasHeader = true
		rows = rows[1:]
		if len(rows) == 0 {
			return in, nil
		}
		if col, err = locateStructure(rows[0].text, in.Delimiter, p); err != nil {
			return nil, err
		}
	}
	if col < 0 {
		col = 0
	}

	in.Molecules = make([]fragment.Molecule, 0, len(rows))
	for _, row := range rows {
		cols := splitColumns(row.text, in.Delimiter)
		m := fragment.Molecule{CompoundID: strconv.Itoa(row.no)}
		if col < len(cols) {
			m.Text = cols[col]
		}
		if col+1 < len(cols) && cols[col+1] != "" {
			m.CompoundID = cols[col+1]
		}
		in.Molecules = append(in.Molecules, m)
	}
	return in, nil
}
