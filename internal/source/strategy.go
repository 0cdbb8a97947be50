package source

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"github.com/shopspring/decimal"

	"github.com/sawpanic/moverun/internal/domain/market"
)

// StrategyKind tags the variant held by a Strategy
type StrategyKind int

const (
	// StructuredData captures an embedded JSON fragment and walks Path into it
	StructuredData StrategyKind = iota
	// Selector reads the text (or Attr) of elements matching a CSS selector
	Selector
	// Pattern captures group 1 of a regular expression over the raw body
	Pattern
)

func (k StrategyKind) String() string {
	switch k {
	case StructuredData:
		return "structured"
	case Selector:
		return "selector"
	case Pattern:
		return "pattern"
	default:
		return fmt.Sprintf("strategy(%d)", int(k))
	}
}

// SymbolPlaceholder is substituted in Pattern and Selector templates
const SymbolPlaceholder = "{{symbol}}"

// maxCandidates caps how many matches one strategy offers for validation
const maxCandidates = 5

// Strategy is one way of pulling a price out of a page. Only the fields
// relevant to Kind are read.
type Strategy struct {
	Kind     StrategyKind
	Name     string
	Pattern  string   // StructuredData, Pattern
	Path     []string // StructuredData
	Selector string   // Selector
	Attr     string   // Selector; empty reads element text
}

// Structured, CSS and Regex are shorthand constructors used by adapter tables
func Structured(name, pattern string, path ...string) Strategy {
	return Strategy{Kind: StructuredData, Name: name, Pattern: pattern, Path: path}
}

func CSS(name, selector, attr string) Strategy {
	return Strategy{Kind: Selector, Name: name, Selector: selector, Attr: attr}
}

func Regex(name, pattern string) Strategy {
	return Strategy{Kind: Pattern, Name: name, Pattern: pattern}
}

var (
	reCacheMu sync.Mutex
	reCache   = map[string]*regexp.Regexp{}
)

func compile(tmpl string, symbol market.Symbol) (*regexp.Regexp, error) {
	expr := strings.ReplaceAll(tmpl, SymbolPlaceholder, regexp.QuoteMeta(string(symbol)))

	reCacheMu.Lock()
	defer reCacheMu.Unlock()
	if re, ok := reCache[expr]; ok {
		return re, nil
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, err
	}
	if len(reCache) > 1024 {
		reCache = map[string]*regexp.Regexp{}
	}
	reCache[expr] = re
	return re, nil
}

// Extract returns raw candidate values in document order. doc may be nil
// for strategies that do not need a parsed tree.
func (s Strategy) Extract(doc *goquery.Document, body []byte, symbol market.Symbol) ([]string, error) {
	switch s.Kind {
	case StructuredData:
		return s.extractStructured(body, symbol)
	case Selector:
		if doc == nil {
			return nil, nil
		}
		sel := strings.ReplaceAll(s.Selector, SymbolPlaceholder, string(symbol))
		var out []string
		doc.Find(sel).EachWithBreak(func(_ int, el *goquery.Selection) bool {
			var v string
			if s.Attr != "" {
				v, _ = el.Attr(s.Attr)
			} else {
				v = el.Text()
			}
			if v = strings.TrimSpace(v); v != "" {
				out = append(out, v)
			}
			return len(out) < maxCandidates
		})
		return out, nil
	case Pattern:
		re, err := compile(s.Pattern, symbol)
		if err != nil {
			return nil, fmt.Errorf("strategy %s: %w", s.Name, err)
		}
		var out []string
		for _, m := range re.FindAllSubmatch(body, maxCandidates) {
			if len(m) > 1 {
				out = append(out, string(m[1]))
			}
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unknown strategy kind %v", s.Kind)
	}
}

func (s Strategy) extractStructured(body []byte, symbol market.Symbol) ([]string, error) {
	re, err := compile(s.Pattern, symbol)
	if err != nil {
		return nil, fmt.Errorf("strategy %s: %w", s.Name, err)
	}
	m := re.FindSubmatch(body)
	if len(m) < 2 {
		return nil, nil
	}

	dec := json.NewDecoder(bytes.NewReader(m[1]))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return nil, nil // fragment matched but is not JSON; treat as no value
	}
	for _, key := range s.Path {
		obj, ok := v.(map[string]interface{})
		if !ok {
			return nil, nil
		}
		if v, ok = obj[key]; !ok {
			return nil, nil
		}
	}
	// Yahoo style {"raw": 1.2, "fmt": "1.20"}
	if obj, ok := v.(map[string]interface{}); ok {
		v = obj["raw"]
	}
	switch t := v.(type) {
	case json.Number:
		return []string{t.String()}, nil
	case string:
		return []string{t}, nil
	default:
		return nil, nil
	}
}

var numberRe = regexp.MustCompile(`\d[\d,]*(?:\.\d+)?`)

// ParsePrice reads a plain numeric string, exponent notation included,
// and otherwise pulls the first number out of a display string like
// "$1,234.50"
func ParsePrice(raw string) (decimal.Decimal, error) {
	if d, err := decimal.NewFromString(strings.TrimSpace(raw)); err == nil {
		return d, nil
	}
	m := numberRe.FindString(raw)
	if m == "" {
		return decimal.Zero, fmt.Errorf("no number in %q", raw)
	}
	return decimal.NewFromString(strings.ReplaceAll(m, ",", ""))
}

// Cascade tries strategies in order against one response and returns the
// first candidate that passes the price invariant. The winning strategy
// name is returned for diagnostics.
func Cascade(strategies []Strategy, body []byte, symbol market.Symbol) (decimal.Decimal, string, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return decimal.Zero, "", Errorf(KindMalformed, "empty body")
	}

	var doc *goquery.Document
	for _, s := range strategies {
		if s.Kind == Selector && doc == nil {
			d, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
			if err != nil {
				return decimal.Zero, "", &FetchError{Kind: KindMalformed, Err: fmt.Errorf("parse html: %w", err)}
			}
			doc = d
		}

		candidates, err := s.Extract(doc, body, symbol)
		if err != nil {
			return decimal.Zero, "", &FetchError{Kind: KindMalformed, Err: err}
		}
		for _, c := range candidates {
			price, err := ParsePrice(c)
			if err != nil {
				continue
			}
			if market.ValidPrice(price) {
				return price, s.Name, nil
			}
		}
	}
	return decimal.Zero, "", Errorf(KindNotFound, "no strategy produced a valid price")
}
