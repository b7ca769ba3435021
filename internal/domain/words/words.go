// Package words is the word-chain dictionary: existence checks, next-word
// selection and start words. It treats words as plain strings and applies no
// linguistic rules beyond matching the first character to the previous last one.
package words

import (
	"bufio"
	"context"
	_ "embed"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"sort"
	"strings"
	"sync"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"github.com/okian/wordchain/pkg/metrics"
)

//go:embed words.tsv
var defaultList string

// Entry is a dictionary word with its definition.
type Entry struct {
	Word       string
	Definition string
}

// Dictionary answers word-chain queries.
type Dictionary interface {
	// Lookup reports whether word exists and returns its entry.
	Lookup(ctx context.Context, word string) (Entry, bool, error)
	// Next picks a word starting with the last character of endWith that is not in used.
	Next(ctx context.Context, endWith string, used []string) (Entry, bool, error)
	// Start picks a word to open a game with.
	Start(ctx context.Context) (Entry, error)
	// Size returns the number of words.
	Size() int
}

// Clean normalizes a word to NFC and strips the markers dictionary sources
// put inside words (hyphens, carets and spaces).
func Clean(word string) string {
	word = norm.NFC.String(strings.TrimSpace(word))
	return strings.Map(func(r rune) rune {
		switch r {
		case '-', '^', ' ', '\t':
			return -1
		}
		return r
	}, word)
}

func firstRune(s string) rune {
	r, _ := utf8.DecodeRuneInString(s)
	return r
}

func lastRune(s string) rune {
	r, _ := utf8.DecodeLastRuneInString(s)
	return r
}

// Parse reads "word<TAB>definition" lines. Blank lines and lines starting with # are skipped.
func Parse(r io.Reader) ([]Entry, error) {
	var entries []Entry
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		word, def, ok := strings.Cut(text, "\t")
		word = Clean(word)
		if !ok || word == "" {
			return nil, fmt.Errorf("%w: line %d", ErrMalformedEntry, line)
		}
		entries = append(entries, Entry{Word: word, Definition: strings.TrimSpace(def)})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read dictionary: %w", err)
	}
	return entries, nil
}

// Memory is an in-memory Dictionary.
type Memory struct {
	byWord  map[string]Entry
	byFirst map[rune][]Entry
	starts  []Entry

	mu   sync.Mutex
	intn func(n int) int
}

var _ Dictionary = (*Memory)(nil)

// Option configures a Memory dictionary.
type Option func(*Memory)

// WithIntn replaces the random index source, mainly for deterministic tests.
func WithIntn(intn func(n int) int) Option {
	return func(m *Memory) {
		if intn != nil {
			m.intn = intn
		}
	}
}

// NewMemory builds a dictionary from entries. Later duplicates are ignored.
func NewMemory(entries []Entry, opts ...Option) (*Memory, error) {
	m := &Memory{
		byWord:  make(map[string]Entry, len(entries)),
		byFirst: make(map[rune][]Entry),
		intn:    rand.IntN,
	}
	for _, opt := range opts {
		opt(m)
	}
	for _, e := range entries {
		e.Word = Clean(e.Word)
		if e.Word == "" {
			continue
		}
		if _, dup := m.byWord[e.Word]; dup {
			continue
		}
		m.byWord[e.Word] = e
		first := firstRune(e.Word)
		m.byFirst[first] = append(m.byFirst[first], e)
	}
	for _, e := range m.byWord {
		if utf8.RuneCountInString(e.Word) >= 2 && len(m.byFirst[lastRune(e.Word)]) > 0 {
			m.starts = append(m.starts, e)
		}
	}
	if len(m.byWord) == 0 {
		return nil, ErrEmptyDictionary
	}
	if len(m.starts) == 0 {
		for _, e := range m.byWord {
			m.starts = append(m.starts, e)
		}
	}
	sortEntries(m.starts)
	return m, nil
}

// Default returns the dictionary built from the embedded word list.
func Default(opts ...Option) (*Memory, error) {
	entries, err := Parse(strings.NewReader(defaultList))
	if err != nil {
		return nil, err
	}
	return NewMemory(entries, opts...)
}

// LoadFile builds a dictionary from a TSV file.
func LoadFile(path string, opts ...Option) (*Memory, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open dictionary: %w", err)
	}
	defer f.Close()
	entries, err := Parse(f)
	if err != nil {
		return nil, err
	}
	return NewMemory(entries, opts...)
}

func (m *Memory) pick(n int) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.intn(n)
}

// Size implements Dictionary.
func (m *Memory) Size() int { return len(m.byWord) }

// Lookup implements Dictionary.
func (m *Memory) Lookup(_ context.Context, word string) (Entry, bool, error) {
	word = Clean(word)
	if word == "" {
		return Entry{}, false, fmt.Errorf("%w: word is required", ErrInvalidWord)
	}
	e, ok := m.byWord[word]
	metrics.RecordWordLookup("lookup", hitOrMiss(ok))
	return e, ok, nil
}

// Next implements Dictionary.
func (m *Memory) Next(_ context.Context, endWith string, used []string) (Entry, bool, error) {
	endWith = Clean(endWith)
	if endWith == "" {
		return Entry{}, false, fmt.Errorf("%w: endWith is required", ErrInvalidWord)
	}
	skip := make(map[string]struct{}, len(used))
	for _, u := range used {
		skip[Clean(u)] = struct{}{}
	}

	candidates := make([]Entry, 0)
	for _, e := range m.byFirst[lastRune(endWith)] {
		if _, seen := skip[e.Word]; !seen {
			candidates = append(candidates, e)
		}
	}
	if len(candidates) == 0 {
		metrics.RecordWordLookup("next", "miss")
		return Entry{}, false, nil
	}
	sortEntries(candidates)
	metrics.RecordWordLookup("next", "hit")
	return candidates[m.pick(len(candidates))], true, nil
}

// Start implements Dictionary.
func (m *Memory) Start(_ context.Context) (Entry, error) {
	metrics.RecordWordLookup("start", "hit")
	return m.starts[m.pick(len(m.starts))], nil
}

// sortEntries orders entries by word so random picks are reproducible under a fixed source.
func sortEntries(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool { return entries[i].Word < entries[j].Word })
}

func hitOrMiss(ok bool) string {
	if ok {
		return "hit"
	}
	return "miss"
}
