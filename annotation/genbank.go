package annotation

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"

	"github.com/brentp/xopen"
)

// Gene is a gene feature of a GenBank record. Start and End are 1-based and
// inclusive. A gene spanning the origin of a circular record has Start > End
// and two or more Segments.
type Gene struct {
	Contig   string
	LocusTag string
	Name     string
	Start    int
	End      int
	Strand   byte
	Segments []Segment
}

// Segment is one a..b part of a location, 1-based and inclusive.
type Segment struct {
	Start int
	End   int
}

type feature struct {
	key        string
	location   string
	qualifiers map[string]string
}

type record struct {
	locus    string
	version  string
	features []feature
}

func (r record) contig() string {
	if r.version != "" {
		return r.version
	}
	return r.locus
}

// ReadGenBank returns the genes of every record of a (optionally gzipped)
// GenBank flat file. Records without gene features fall back to their CDS
// features.
func ReadGenBank(path string) ([]Gene, error) {
	rdr, err := xopen.Ropen(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open GenBank file: %w", err)
	}
	defer rdr.Close()

	records, err := parseRecords(bufio.NewScanner(rdr))
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%s has no GenBank records", path)
	}

	var genes []Gene
	for _, rec := range records {
		recGenes, err := rec.genes("gene")
		if err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
		if len(recGenes) == 0 {
			if recGenes, err = rec.genes("CDS"); err != nil {
				return nil, fmt.Errorf("parsing %s: %w", path, err)
			}
		}
		genes = append(genes, recGenes...)
	}
	return genes, nil
}

func (r record) genes(key string) ([]Gene, error) {
	var genes []Gene
	for _, f := range r.features {
		if f.key != key {
			continue
		}
		tag := f.qualifiers["locus_tag"]
		if tag == "" {
			tag = f.qualifiers["gene"]
		}
		if tag == "" {
			continue
		}
		segments, strand, err := parseLocation(f.location)
		if err != nil {
			return nil, fmt.Errorf("%s %s: %w", r.contig(), tag, err)
		}
		start, end := span(segments)
		genes = append(genes, Gene{
			Contig:   r.contig(),
			LocusTag: tag,
			Name:     f.qualifiers["gene"],
			Start:    start,
			End:      end,
			Strand:   strand,
			Segments: segments,
		})
	}
	return genes, nil
}

func parseRecords(sc *bufio.Scanner) ([]record, error) {
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var (
		records  []record
		cur      *record
		inFeats  bool
		feat     *feature
		qualKey  string
		inQuoted bool
		lineNum  int
	)
	flush := func() {
		if cur != nil && feat != nil {
			cur.features = append(cur.features, *feat)
		}
		feat = nil
		qualKey = ""
		inQuoted = false
	}

	for sc.Scan() {
		lineNum++
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "LOCUS"):
			flush()
			records = append(records, record{})
			cur = &records[len(records)-1]
			if fields := strings.Fields(line); len(fields) > 1 {
				cur.locus = fields[1]
			}
			inFeats = false
			continue
		case cur == nil:
			continue
		case strings.HasPrefix(line, "//"):
			flush()
			cur = nil
			inFeats = false
			continue
		case strings.HasPrefix(line, "VERSION"):
			if fields := strings.Fields(line); len(fields) > 1 {
				cur.version = fields[1]
			}
			continue
		case strings.HasPrefix(line, "FEATURES"):
			inFeats = true
			continue
		case len(line) > 0 && line[0] != ' ':
			// ORIGIN, CONTIG and the other top level keywords end the table
			flush()
			inFeats = false
			continue
		}
		if !inFeats {
			continue
		}

		// feature key in columns 6-20, qualifiers and locations from column 22
		if len(line) > 5 && line[5] != ' ' {
			flush()
			fields := strings.Fields(line)
			if len(fields) < 2 {
				return nil, fmt.Errorf("line %d: feature without location", lineNum)
			}
			feat = &feature{key: fields[0], location: fields[1], qualifiers: make(map[string]string)}
			continue
		}
		if feat == nil {
			continue
		}
		body := strings.TrimSpace(line)
		if inQuoted {
			if qualKey != "/" {
				feat.qualifiers[qualKey] += " " + strings.TrimSuffix(body, `"`)
			}
			inQuoted = !strings.HasSuffix(body, `"`)
			continue
		}
		if !strings.HasPrefix(body, "/") {
			// location continued over several lines
			if qualKey == "" {
				feat.location += body
			}
			continue
		}
		key, value, _ := strings.Cut(body[1:], "=")
		if strings.HasPrefix(value, `"`) {
			value = value[1:]
			inQuoted = !strings.HasSuffix(value, `"`)
			value = strings.TrimSuffix(value, `"`)
		}
		// first occurrence wins for repeated qualifiers
		qualKey = "/"
		if _, seen := feat.qualifiers[key]; !seen {
			qualKey = key
			feat.qualifiers[key] = value
		}
	}
	flush()
	return records, sc.Err()
}

// parseLocation splits a GenBank location into its local a..b segments in
// the order they are listed. Operators such as join, order and complement,
// the partial markers < and > and a^b sites are accepted; segments on other
// accessions (ACC:a..b) are skipped.
func parseLocation(loc string) (segments []Segment, strand byte, err error) {
	strand = '+'
	if strings.Contains(loc, "complement(") {
		strand = '-'
	}
	clean := strings.NewReplacer("<", "", ">", "").Replace(loc)
	tokens := strings.FieldsFunc(clean, func(r rune) bool {
		return r == '(' || r == ')' || r == ',' || r == ' '
	})
	for _, tok := range tokens {
		switch tok {
		case "join", "order", "complement":
			continue
		}
		if strings.Contains(tok, ":") {
			continue
		}
		from, to, found := strings.Cut(tok, "..")
		if !found {
			from, to, found = strings.Cut(tok, "^")
		}
		if !found {
			to = from
		}
		a, aErr := strconv.Atoi(from)
		b, bErr := strconv.Atoi(to)
		if aErr != nil || bErr != nil || a < 1 || b < a {
			return nil, 0, fmt.Errorf("bad location %q", loc)
		}
		segments = append(segments, Segment{Start: a, End: b})
	}
	if len(segments) == 0 {
		return nil, 0, fmt.Errorf("bad location %q", loc)
	}
	return segments, strand, nil
}

// span is the extent of a gene: the outer bounds, or for segments listed
// across the origin, the first start and the last end.
func span(segments []Segment) (start, end int) {
	start, end = segments[0].Start, segments[0].End
	wrapped := false
	for i, seg := range segments {
		if i > 0 && seg.Start < segments[i-1].Start {
			wrapped = true
		}
		start = min(start, seg.Start)
		end = max(end, seg.End)
	}
	if wrapped {
		return segments[0].Start, segments[len(segments)-1].End
	}
	return start, end
}
