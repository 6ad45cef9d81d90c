package annotation

import (
	"sort"

	"github.com/biogo/store/interval"
)

// geneInterval stores one segment of a gene in the tree as the half-open
// [Start, End+1).
type geneInterval struct {
	gene *Gene
	seg  Segment
	uid  uintptr
}

func (g geneInterval) Overlap(b interval.IntRange) bool {
	return g.seg.Start < b.End && g.seg.End+1 > b.Start
}

func (g geneInterval) ID() uintptr {
	return g.uid
}

func (g geneInterval) Range() interval.IntRange {
	return interval.IntRange{Start: g.seg.Start, End: g.seg.End + 1}
}

type position int

func (p position) Overlap(b interval.IntRange) bool {
	return b.Start <= int(p) && int(p) < b.End
}

// GeneIndex answers which genes cover a position, one interval tree per contig.
type GeneIndex struct {
	genes []Gene
	trees map[string]*interval.IntTree
}

func NewGeneIndex(genes []Gene) (*GeneIndex, error) {
	idx := &GeneIndex{
		genes: make([]Gene, len(genes)),
		trees: make(map[string]*interval.IntTree),
	}
	copy(idx.genes, genes)
	sort.SliceStable(idx.genes, func(i, j int) bool {
		a, b := idx.genes[i], idx.genes[j]
		if a.Contig != b.Contig {
			return a.Contig < b.Contig
		}
		return a.Start < b.Start
	})

	var uid uintptr
	for i := range idx.genes {
		g := &idx.genes[i]
		tree, ok := idx.trees[g.Contig]
		if !ok {
			tree = &interval.IntTree{}
			idx.trees[g.Contig] = tree
		}
		segments := g.Segments
		if len(segments) == 0 {
			segments = []Segment{{Start: g.Start, End: g.End}}
		}
		for _, seg := range segments {
			if err := tree.Insert(geneInterval{gene: g, seg: seg, uid: uid}, true); err != nil {
				return nil, err
			}
			uid++
		}
	}
	for _, tree := range idx.trees {
		tree.AdjustRanges()
	}
	return idx, nil
}

// LoadGeneIndex reads a GenBank file and indexes its genes.
func LoadGeneIndex(path string) (*GeneIndex, error) {
	genes, err := ReadGenBank(path)
	if err != nil {
		return nil, err
	}
	return NewGeneIndex(genes)
}

// Genes returns every indexed gene ordered by contig then start, or nil for
// a nil index.
func (idx *GeneIndex) Genes() []Gene {
	if idx == nil {
		return nil
	}
	return idx.genes
}

// Overlapping returns the genes covering the 1-based pos ordered by start.
func (idx *GeneIndex) Overlapping(contig string, pos int) []*Gene {
	if idx == nil {
		return nil
	}
	tree, ok := idx.trees[contig]
	if !ok {
		return nil
	}
	hits := tree.Get(position(pos))
	genes := make([]*Gene, 0, len(hits))
	seen := make(map[*Gene]bool, len(hits))
	for _, h := range hits {
		g := h.(geneInterval).gene
		if !seen[g] {
			seen[g] = true
			genes = append(genes, g)
		}
	}
	sort.Slice(genes, func(i, j int) bool {
		if genes[i].Start != genes[j].Start {
			return genes[i].Start < genes[j].Start
		}
		return genes[i].LocusTag < genes[j].LocusTag
	})
	return genes
}

// Lookup returns the locus tag of the first gene covering pos, or "" when the
// position is intergenic or the index is nil.
func (idx *GeneIndex) Lookup(contig string, pos int) string {
	genes := idx.Overlapping(contig, pos)
	if len(genes) == 0 {
		return ""
	}
	return genes[0].LocusTag
}
