package store

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Expr is a filter expression tree. Leaves compare one field against one
// value; composites combine children with && or ||. The same tree both
// serializes to the store's wire filter syntax and evaluates records
// locally, so memstore and pocketbase agree on semantics.
type Expr struct {
	op    string // "=", "!=", "<", "<=", ">", ">=", "~" for leaves; "&&", "||" for composites
	field string
	value any
	parts []*Expr
}

// Eq matches records whose field equals value.
func Eq(field string, value any) *Expr {
	return &Expr{op: "=", field: field, value: value}
}

// Ne matches records whose field differs from value.
func Ne(field string, value any) *Expr {
	return &Expr{op: "!=", field: field, value: value}
}

// Lt matches records whose field sorts before value.
func Lt(field string, value any) *Expr {
	return &Expr{op: "<", field: field, value: value}
}

// Lte matches records whose field sorts at or before value.
func Lte(field string, value any) *Expr {
	return &Expr{op: "<=", field: field, value: value}
}

// Gt matches records whose field sorts after value.
func Gt(field string, value any) *Expr {
	return &Expr{op: ">", field: field, value: value}
}

// Gte matches records whose field sorts at or after value.
func Gte(field string, value any) *Expr {
	return &Expr{op: ">=", field: field, value: value}
}

// Like matches records whose field contains value, case-insensitively.
func Like(field string, value string) *Expr {
	return &Expr{op: "~", field: field, value: value}
}

// And combines expressions; all must match. Nil children are dropped.
func And(exprs ...*Expr) *Expr {
	return composite("&&", exprs)
}

// Or combines expressions; at least one must match. Nil children are dropped.
func Or(exprs ...*Expr) *Expr {
	return composite("||", exprs)
}

func composite(op string, exprs []*Expr) *Expr {
	parts := make([]*Expr, 0, len(exprs))
	for _, e := range exprs {
		if e != nil {
			parts = append(parts, e)
		}
	}
	switch len(parts) {
	case 0:
		return nil
	case 1:
		return parts[0]
	}
	return &Expr{op: op, parts: parts}
}

// String renders the expression in the wire filter syntax. Values are
// escaped so user-supplied text cannot alter the filter structure.
func (e *Expr) String() string {
	if e == nil {
		return ""
	}
	if len(e.parts) > 0 {
		rendered := make([]string, len(e.parts))
		for i, p := range e.parts {
			if len(p.parts) > 0 {
				rendered[i] = "(" + p.String() + ")"
			} else {
				rendered[i] = p.String()
			}
		}
		return strings.Join(rendered, " "+e.op+" ")
	}
	return fmt.Sprintf("%s %s %s", e.field, e.op, renderValue(e.value))
}

func renderValue(v any) string {
	switch val := v.(type) {
	case nil:
		return "''"
	case string:
		return "'" + escapeValue(val) + "'"
	case bool:
		return strconv.FormatBool(val)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case time.Time:
		return "'" + FormatTime(val) + "'"
	default:
		return "'" + escapeValue(fmt.Sprintf("%v", val)) + "'"
	}
}

// escapeValue escapes backslashes first, then single quotes, so already
// escaped sequences are not double-processed.
func escapeValue(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `'`, `\'`)
	return s
}

// Match evaluates the expression against a record.
func (e *Expr) Match(rec *Record) bool {
	if e == nil {
		return true
	}
	switch e.op {
	case "&&":
		for _, p := range e.parts {
			if !p.Match(rec) {
				return false
			}
		}
		return true
	case "||":
		for _, p := range e.parts {
			if p.Match(rec) {
				return true
			}
		}
		return false
	}

	actual := rec.Value(e.field)
	switch e.op {
	case "=":
		return CompareValues(actual, e.value) == 0
	case "!=":
		return CompareValues(actual, e.value) != 0
	case "<":
		return CompareValues(actual, e.value) < 0
	case "<=":
		return CompareValues(actual, e.value) <= 0
	case ">":
		return CompareValues(actual, e.value) > 0
	case ">=":
		return CompareValues(actual, e.value) >= 0
	case "~":
		return strings.Contains(
			strings.ToLower(toString(actual)),
			strings.ToLower(toString(e.value)),
		)
	}
	return false
}

// CompareValues orders two values: numerically when both are numeric,
// otherwise as strings. Datetimes format to a lexicographically ordered
// layout, so string comparison is correct for them.
func CompareValues(a, b any) int {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		}
		return 0
	}
	return strings.Compare(toString(a), toString(b))
}

func toFloat(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int64:
		return float64(val), true
	case bool:
		if val {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

func toString(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case time.Time:
		return FormatTime(val)
	case bool:
		return strconv.FormatBool(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case int:
		return strconv.Itoa(val)
	default:
		return fmt.Sprintf("%v", val)
	}
}
