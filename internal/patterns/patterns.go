// Package patterns holds the text-matching rules that drive signal
// extraction. Patterns are admin-edited configuration; the extractor only
// ever sees an immutable compiled snapshot of the active set.
package patterns

import (
	"fmt"
	"regexp"
	"sort"
	"time"
)

// Category classifies what a pattern extracts from a message
type Category string

const (
	CategoryTicker      Category = "ticker"
	CategoryLong        Category = "long"
	CategoryShort       Category = "short"
	CategoryExit        Category = "exit"
	CategoryKeyword     Category = "keyword"
	CategoryAuthor      Category = "author"
	CategoryTargetPrice Category = "target_price"
	CategoryStopPrice   Category = "stop_price"
	CategoryTakePrice   Category = "take_price"
	CategoryGarbage     Category = "garbage"
)

// Categories lists every valid category in extractor pipeline order
var Categories = []Category{
	CategoryTicker,
	CategoryLong,
	CategoryShort,
	CategoryExit,
	CategoryKeyword,
	CategoryAuthor,
	CategoryTargetPrice,
	CategoryStopPrice,
	CategoryTakePrice,
	CategoryGarbage,
}

// Valid reports whether c is a known category
func (c Category) Valid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// Pattern is a named, categorized text-matching rule. For ticker patterns
// Name carries the canonical symbol and Expression lists its spellings.
type Pattern struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Category    Category  `json:"category"`
	Expression  string    `json:"expression"`
	Priority    int       `json:"priority"`
	IsActive    bool      `json:"is_active"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Validate checks the pattern before it is persisted, so a bad expression
// is rejected at write time instead of surfacing at the next reload.
func (p Pattern) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("pattern name is required")
	}
	if !p.Category.Valid() {
		return fmt.Errorf("unknown category %q", p.Category)
	}
	if _, err := regexp.Compile(p.Expression); err != nil {
		return fmt.Errorf("expression does not compile: %w", err)
	}
	return nil
}

// Compiled is one pattern with its compiled expression
type Compiled struct {
	Pattern
	re *regexp.Regexp
}

// Match runs the compiled expression against text and returns the first
// capture group when present, otherwise the whole match.
func (c *Compiled) Match(text string) (string, bool) {
	groups := c.re.FindStringSubmatch(text)
	if groups == nil {
		return "", false
	}
	if len(groups) > 1 && groups[1] != "" {
		return groups[1], true
	}
	return groups[0], true
}

// CompileError reports a pattern whose expression failed to compile.
// Attributed to the pattern ID so an operator can fix configuration.
type CompileError struct {
	PatternID int64  `json:"pattern_id"`
	Name      string `json:"name"`
	Reason    string `json:"reason"`
}

func (e CompileError) Error() string {
	return "pattern " + e.Name + ": " + e.Reason
}

// Snapshot is an immutable compiled view of the active pattern set,
// grouped by category and ordered by descending priority within each.
type Snapshot struct {
	byCategory map[Category][]*Compiled
	total      int
}

// CompileSnapshot compiles every active pattern once. A pattern that fails
// to compile is reported and skipped; it never aborts the rest of the set.
func CompileSnapshot(patterns []Pattern) (*Snapshot, []CompileError) {
	snap := &Snapshot{byCategory: make(map[Category][]*Compiled)}
	var errs []CompileError

	for _, p := range patterns {
		if !p.IsActive {
			continue
		}
		if !p.Category.Valid() {
			errs = append(errs, CompileError{PatternID: p.ID, Name: p.Name, Reason: "unknown category " + string(p.Category)})
			continue
		}
		re, err := regexp.Compile(p.Expression)
		if err != nil {
			errs = append(errs, CompileError{PatternID: p.ID, Name: p.Name, Reason: err.Error()})
			continue
		}
		snap.byCategory[p.Category] = append(snap.byCategory[p.Category], &Compiled{Pattern: p, re: re})
		snap.total++
	}

	for cat := range snap.byCategory {
		list := snap.byCategory[cat]
		sort.SliceStable(list, func(i, j int) bool { return list[i].Priority > list[j].Priority })
	}

	return snap, errs
}

// Category returns the compiled patterns for one category, highest priority first
func (s *Snapshot) Category(cat Category) []*Compiled {
	return s.byCategory[cat]
}

// Len returns the number of compiled patterns in the snapshot
func (s *Snapshot) Len() int {
	return s.total
}

// FirstMatch tries the category's patterns in priority order and returns
// the first match; first match wins within a category.
func (s *Snapshot) FirstMatch(cat Category, text string) (*Compiled, string, bool) {
	for _, c := range s.byCategory[cat] {
		if val, ok := c.Match(text); ok {
			return c, val, true
		}
	}
	return nil, "", false
}
