// Package analysis computes the line, word and character counts returned to
// clients for every received file.
package analysis

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"time"
	"unicode"
	"unicode/utf8"
)

// Counts holds the statistics for one file.
//
// LineCount is the number of newline bytes, so content without a trailing
// newline has one line fewer than a text editor would show ("Hello world!"
// has zero lines). WordCount is the number of maximal runs of non-space runes.
// CharCount is the number of UTF-8 runes; each invalid byte counts as one.
type Counts struct {
	LineCount uint32
	WordCount uint32
	CharCount uint32
}

// Result is the outcome of analyzing one received file. It is built once per
// session and never modified afterwards.
type Result struct {
	FileName   string    `json:"fileName"`
	LineCount  uint32    `json:"lineCount"`
	WordCount  uint32    `json:"wordCount"`
	CharCount  uint32    `json:"charCount"`
	AnalyzedAt time.Time `json:"analyzedAt"`
}

// New builds a Result for fileName. The timestamp is normalized to UTC so the
// wire form round-trips exactly.
func New(fileName string, c Counts, at time.Time) Result {
	return Result{
		FileName:   fileName,
		LineCount:  c.LineCount,
		WordCount:  c.WordCount,
		CharCount:  c.CharCount,
		AnalyzedAt: at.UTC(),
	}
}

// Counts returns the statistics part of r.
func (r Result) Counts() Counts {
	return Counts{LineCount: r.LineCount, WordCount: r.WordCount, CharCount: r.CharCount}
}

// Count computes the statistics of p.
func Count(p []byte) Counts {
	var c counter
	for len(p) > 0 {
		r, size := utf8.DecodeRune(p)
		c.add(r)
		p = p[size:]
	}
	return c.counts()
}

// CountReader computes the statistics of everything readable from r without
// holding the whole content in memory.
func CountReader(r io.Reader) (Counts, error) {
	br := bufio.NewReaderSize(r, 32*1024)

	var c counter
	for {
		ru, _, err := br.ReadRune()
		if err == io.EOF {
			return c.counts(), nil
		}
		if err != nil {
			return Counts{}, fmt.Errorf("read content: %w", err)
		}
		c.add(ru)
	}
}

type counter struct {
	lines, words, chars uint64
	inWord              bool
}

func (c *counter) add(r rune) {
	c.chars++
	if r == '\n' {
		c.lines++
	}
	if unicode.IsSpace(r) {
		c.inWord = false
		return
	}
	if !c.inWord {
		c.words++
		c.inWord = true
	}
}

// counts clamps to uint32; payloads are bounded by the uint32 size prefix so
// this only matters for direct callers.
func (c *counter) counts() Counts {
	return Counts{
		LineCount: clamp(c.lines),
		WordCount: clamp(c.words),
		CharCount: clamp(c.chars),
	}
}

func clamp(n uint64) uint32 {
	if n > math.MaxUint32 {
		return math.MaxUint32
	}
	return uint32(n)
}
