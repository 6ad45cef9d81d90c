// Package bamtest writes small BAM files for tests.
package bamtest

import (
	"bytes"
	"fmt"
	"os"

	"github.com/biogo/hts/bam"
	"github.com/biogo/hts/sam"
)

type Ref struct {
	Name   string
	Length int
}

// Read is a single alignment. Ref is an index into the refs passed to Write;
// a negative Ref writes an unmapped read.
type Read struct {
	Name  string
	Ref   int
	Pos   int
	Len   int
	Flags sam.Flags
	// Deletion, when positive, splits the alignment with a D operation of
	// that length in the middle of the read.
	Deletion int
}

// Write creates a BAM file at path holding reads in the given order.
func Write(path string, refs []Ref, reads []Read) error {
	var samRefs []*sam.Reference
	for _, r := range refs {
		ref, err := sam.NewReference(r.Name, "", "", r.Length, nil, nil)
		if err != nil {
			return err
		}
		samRefs = append(samRefs, ref)
	}
	h, err := sam.NewHeader(nil, samRefs)
	if err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w, err := bam.NewWriter(f, h, 1)
	if err != nil {
		return err
	}
	for _, rd := range reads {
		seq := bytes.Repeat([]byte("A"), rd.Len)
		qual := bytes.Repeat([]byte{30}, rd.Len)

		var ref *sam.Reference
		var cigar []sam.CigarOp
		pos := -1
		if rd.Ref >= 0 {
			ref = samRefs[rd.Ref]
			pos = rd.Pos
			if rd.Deletion > 0 {
				half := rd.Len / 2
				cigar = []sam.CigarOp{
					sam.NewCigarOp(sam.CigarMatch, half),
					sam.NewCigarOp(sam.CigarDeletion, rd.Deletion),
					sam.NewCigarOp(sam.CigarMatch, rd.Len-half),
				}
			} else {
				cigar = []sam.CigarOp{sam.NewCigarOp(sam.CigarMatch, rd.Len)}
			}
		}
		rec, err := sam.NewRecord(rd.Name, ref, nil, pos, -1, 0, 60, cigar, seq, qual, nil)
		if err != nil {
			return fmt.Errorf("building read %s: %w", rd.Name, err)
		}
		rec.Flags = rd.Flags
		if ref == nil {
			rec.Flags |= sam.Unmapped
		}
		if err := w.Write(rec); err != nil {
			return err
		}
	}
	if err := w.Close(); err != nil {
		return err
	}
	return f.Close()
}

// Names returns the read names of a BAM file in file order.
func Names(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	br, err := bam.NewReader(f, 1)
	if err != nil {
		return nil, err
	}
	defer br.Close()

	var names []string
	for {
		rec, err := br.Read()
		if err != nil {
			break
		}
		names = append(names, rec.Name)
	}
	return names, nil
}
