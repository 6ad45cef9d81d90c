package variants

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/brentp/xopen"
)

// Call is the carrier state of one sample at one site.
type Call int8

const (
	Missing Call = iota
	NonCarrier
	Carrier
)

// Site is one VCF record reduced to carrier states. Alts holds only the
// concrete alleles; symbolic ones such as <*> or <NON_REF> are dropped.
type Site struct {
	Contig string
	Pos    int
	Ref    string
	Alts   []string
	Calls  []Call
}

// Reader streams sites from a plain or gzipped VCF.
type Reader struct {
	Samples []string

	rdr  *xopen.Reader
	br   *bufio.Reader
	line int
}

func Open(path string) (*Reader, error) {
	rdr, err := xopen.Ropen(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open VCF %s: %w", path, err)
	}
	r := &Reader{rdr: rdr, br: bufio.NewReaderSize(rdr, 1<<16)}

	for {
		line, err := r.readLine()
		if err != nil {
			rdr.Close()
			if errors.Is(err, io.EOF) {
				return nil, fmt.Errorf("VCF %s has no #CHROM header", path)
			}
			return nil, err
		}
		if strings.HasPrefix(line, "##") {
			continue
		}
		if !strings.HasPrefix(line, "#CHROM") {
			rdr.Close()
			return nil, fmt.Errorf("VCF %s line %d: expected #CHROM header", path, r.line)
		}
		fields := strings.Split(line, "\t")
		if len(fields) > 9 {
			r.Samples = fields[9:]
		}
		return r, nil
	}
}

func (r *Reader) readLine() (string, error) {
	line, err := r.br.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", err
	}
	r.line++
	return strings.TrimRight(line, "\r\n"), nil
}

// Next returns the next site holding at least one concrete alternate allele
// and passing filters. It returns io.EOF after the last one.
func (r *Reader) Next() (Site, error) {
	for {
		line, err := r.readLine()
		if err != nil {
			return Site{}, err
		}
		if line == "" || line[0] == '#' {
			continue
		}
		site, ok, err := r.parse(line)
		if err != nil {
			return Site{}, err
		}
		if ok {
			return site, nil
		}
	}
}

func (r *Reader) Close() error {
	return r.rdr.Close()
}

func (r *Reader) parse(line string) (Site, bool, error) {
	fields := strings.Split(line, "\t")
	if len(fields) < 8 {
		return Site{}, false, fmt.Errorf("VCF line %d: %d columns", r.line, len(fields))
	}
	pos, err := strconv.Atoi(fields[1])
	if err != nil {
		return Site{}, false, fmt.Errorf("VCF line %d: bad position %q", r.line, fields[1])
	}
	if filter := fields[6]; filter != "." && filter != "PASS" {
		return Site{}, false, nil
	}

	// allele index -> concrete alternate
	alleles := strings.Split(fields[4], ",")
	concrete := make([]bool, len(alleles)+1)
	site := Site{Contig: fields[0], Pos: pos, Ref: fields[3]}
	for i, a := range alleles {
		if a == "." || a == "*" || strings.HasPrefix(a, "<") {
			continue
		}
		concrete[i+1] = true
		site.Alts = append(site.Alts, a)
	}
	if len(site.Alts) == 0 {
		return Site{}, false, nil
	}

	site.Calls = make([]Call, len(r.Samples))
	if len(fields) < 10 {
		return site, true, nil
	}
	gtIdx := -1
	for i, key := range strings.Split(fields[8], ":") {
		if key == "GT" {
			gtIdx = i
			break
		}
	}
	if gtIdx < 0 {
		return site, true, nil
	}
	for i := range r.Samples {
		if 9+i >= len(fields) {
			break
		}
		parts := strings.Split(fields[9+i], ":")
		if gtIdx >= len(parts) {
			continue
		}
		site.Calls[i] = parseGT(parts[gtIdx], concrete)
	}
	return site, true, nil
}

func parseGT(gt string, concrete []bool) Call {
	call := Missing
	for _, a := range strings.FieldsFunc(gt, func(r rune) bool { return r == '/' || r == '|' }) {
		if a == "." {
			continue
		}
		idx, err := strconv.Atoi(a)
		if err != nil || idx < 0 || idx >= len(concrete) {
			continue
		}
		if concrete[idx] {
			return Carrier
		}
		call = NonCarrier
	}
	return call
}

// ReadSites loads every site of a VCF.
func ReadSites(path string) ([]string, []Site, error) {
	r, err := Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer r.Close()

	var sites []Site
	for {
		site, err := r.Next()
		if errors.Is(err, io.EOF) {
			return r.Samples, sites, nil
		}
		if err != nil {
			return nil, nil, fmt.Errorf("reading %s: %w", path, err)
		}
		sites = append(sites, site)
	}
}
