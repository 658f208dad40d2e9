package reconcile

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/Spok95/binledger/internal/textnorm"
)

// RawRow: строка загрузки как пришла, заголовок колонки -> значение.
type RawRow map[string]any

// Row: строка после нормализации. В картах только присутствующие поля.
type Row struct {
	Index int               `json:"index"`
	Text  map[string]string `json:"text,omitempty"`
	Num   map[string]int64  `json:"numbers,omitempty"`
}

func (r Row) Str(name string) string { return r.Text[name] }

func (r Row) Int(name string) (int64, bool) {
	v, ok := r.Num[name]
	return v, ok
}

func (r Row) Has(name string) bool {
	if _, ok := r.Text[name]; ok {
		return true
	}
	_, ok := r.Num[name]
	return ok
}

type Headers struct {
	Raw             []string `json:"raw"`
	Normalized      []string `json:"normalized"`
	MissingKeyCount int      `json:"missingKeyCount"`
	Unknown         []string `json:"unknown"`
}

// Normalize приводит строки к каноническим полям схемы. Заголовки перебираются
// в отсортированном порядке: при двух колонках на одно поле побеждает первая,
// и результат не зависит от порядка обхода map.
func (s *Schema) Normalize(raw []RawRow) ([]Row, Headers) {
	rawSet := map[string]struct{}{}
	normSet := map[string]struct{}{}
	unknownSet := map[string]struct{}{}

	rows := make([]Row, 0, len(raw))
	for i, rr := range raw {
		row := Row{Index: i, Text: map[string]string{}, Num: map[string]int64{}}
		for _, h := range sortedKeys(rr) {
			rawSet[h] = struct{}{}
			f, ok := s.Lookup(h)
			if !ok {
				if slug := textnorm.Slug(h); slug != "" {
					unknownSet[slug] = struct{}{}
				}
				continue
			}
			normSet[f.Name] = struct{}{}
			if row.Has(f.Name) {
				continue
			}
			switch f.Kind {
			case Number:
				if n, ok := coerceNumber(rr[h]); ok {
					row.Num[f.Name] = n
				}
			case Identifier:
				if v, ok := coerceText(rr[h], true); ok {
					row.Text[f.Name] = v
				}
			default:
				if v, ok := coerceText(rr[h], false); ok {
					row.Text[f.Name] = v
				}
			}
		}
		rows = append(rows, row)
	}

	return rows, Headers{
		Raw:        setToSorted(rawSet),
		Normalized: setToSorted(normSet),
		Unknown:    setToSorted(unknownSet),
	}
}

var nonNumeric = regexp.MustCompile(`[^0-9.\-]`)

// coerceNumber: пустое значение означает отсутствие поля, мусор даёт 0, дробное округляется.
func coerceNumber(v any) (int64, bool) {
	switch x := v.(type) {
	case nil:
		return 0, false
	case int:
		return int64(x), true
	case int64:
		return x, true
	case float64:
		return decimal.NewFromFloat(x).Round(0).IntPart(), true
	case json.Number:
		return parseNumber(x.String())
	case string:
		return parseNumber(x)
	case bool:
		return 0, true
	default:
		return parseNumber(fmt.Sprint(x))
	}
}

func parseNumber(s string) (int64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	d, err := decimal.NewFromString(nonNumeric.ReplaceAllString(s, ""))
	if err != nil {
		return 0, true
	}
	return d.Round(0).IntPart(), true
}

func coerceText(v any, ident bool) (string, bool) {
	var s string
	switch x := v.(type) {
	case nil:
		return "", false
	case string:
		s = x
	case float64:
		if ident && x == float64(int64(x)) {
			s = strconv.FormatInt(int64(x), 10)
		} else {
			s = strconv.FormatFloat(x, 'f', -1, 64)
		}
	default:
		s = fmt.Sprint(x)
	}
	s = strings.TrimSpace(s)
	return s, s != ""
}

func sortedKeys(m RawRow) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func setToSorted(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// escapeKey не даёт значениям сломать разделитель "::" ключа решения.
func escapeKey(s string) string {
	return strings.ReplaceAll(s, "::", "__")
}
