package nrgconfig

import (
	"bufio"
	"encoding/csv"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// DataFile is the decoded input `data` file of spec.md §6: an ASCII
// header (channels, symmetry name, chain length) followed by per-site
// chain-coefficient tables, in the tabular layout grounded on
// exactdiag/mat/mat.go's ReadCOO/NewCOOReader CSV-adjacent parsing.
// Only `table` sections are read; the file carries no starting
// operator blocks.
type DataFile struct {
	Channels int
	Symmetry string
	Sites    int
	// Coefficients maps a table name (zeta, xi, kappa, ...) to its
	// rows: one row per site, one column per channel.
	Coefficients map[string][][]complex128
}

// ReadDataFile parses path: a plain-text header (three whitespace-
// separated fields on the first non-blank, non-comment line) followed
// by zero or more "table <name>" sections, each a CSV block of
// "re,im" pairs.
func ReadDataFile(path string) (*DataFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "nrgconfig: path=%s", path)
	}
	defer f.Close()

	df := &DataFile{Coefficients: make(map[string][][]complex128)}
	scanner := bufio.NewScanner(f)

	headerParsed := false
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if !headerParsed {
			fields := strings.Fields(line)
			if len(fields) != 3 {
				return nil, errors.Errorf("nrgconfig: malformed header %q in path=%s", line, path)
			}
			channels, err := strconv.Atoi(fields[0])
			if err != nil {
				return nil, errors.Wrapf(err, "nrgconfig: parsing channel count in path=%s", path)
			}
			sites, err := strconv.Atoi(fields[2])
			if err != nil {
				return nil, errors.Wrapf(err, "nrgconfig: parsing site count in path=%s", path)
			}
			df.Channels = channels
			df.Symmetry = fields[1]
			df.Sites = sites
			headerParsed = true
			continue
		}
		const tablePrefix = "table "
		if strings.HasPrefix(line, tablePrefix) {
			name := strings.TrimSpace(line[len(tablePrefix):])
			rows, err := readTable(scanner, df.Sites)
			if err != nil {
				return nil, errors.Wrapf(err, "nrgconfig: table %q in path=%s", name, path)
			}
			df.Coefficients[name] = rows
			continue
		}
		return nil, errors.Errorf("nrgconfig: unexpected line %q in path=%s", line, path)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, "nrgconfig: path=%s", path)
	}
	if !headerParsed {
		return nil, errors.Errorf("nrgconfig: missing header in path=%s", path)
	}
	return df, nil
}

func readTable(scanner *bufio.Scanner, sites int) ([][]complex128, error) {
	rows := make([][]complex128, 0, sites)
	for len(rows) < sites && scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		r := csv.NewReader(strings.NewReader(line))
		rec, err := r.Read()
		if err != nil && err != io.EOF {
			return nil, errors.Wrap(err, "nrgconfig: parsing table row")
		}
		row := make([]complex128, 0, len(rec)/2)
		for i := 0; i+1 < len(rec); i += 2 {
			re, err := strconv.ParseFloat(strings.TrimSpace(rec[i]), 64)
			if err != nil {
				return nil, errors.Wrap(err, "nrgconfig: parsing real part")
			}
			im, err := strconv.ParseFloat(strings.TrimSpace(rec[i+1]), 64)
			if err != nil {
				return nil, errors.Wrap(err, "nrgconfig: parsing imaginary part")
			}
			row = append(row, complex(re, im))
		}
		rows = append(rows, row)
	}
	if len(rows) != sites {
		return nil, errors.Errorf("nrgconfig: table has %d rows, expected %d", len(rows), sites)
	}
	return rows, nil
}
