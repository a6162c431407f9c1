package alerts

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Expr is a parsed threshold expression over stored samples
type Expr struct {
	Metric    string
	Selector  map[string]string
	Op        string // ">", ">=", "<", "<="
	Threshold float64
}

// exprRe matches `metric_name{k="v",...} > 90` with the label block optional
var exprRe = regexp.MustCompile(`^\s*([a-zA-Z_:][a-zA-Z0-9_:]*)\s*(\{[^}]*\})?\s*(>=|<=|>|<)\s*(-?[0-9.]+)\s*$`)

var labelRe = regexp.MustCompile(`^([a-zA-Z_][a-zA-Z0-9_]*)="([^"]*)"$`)

// ParseExpr parses a rule expression of the form
//
//	metric_name{label="value",...} OP threshold
//
// where OP is one of >, >=, <, <=. The label block is optional.
func ParseExpr(expr string) (*Expr, error) {
	m := exprRe.FindStringSubmatch(expr)
	if m == nil {
		return nil, fmt.Errorf("malformed expression %q", expr)
	}

	threshold, err := strconv.ParseFloat(m[4], 64)
	if err != nil {
		return nil, fmt.Errorf("malformed threshold %q: %w", m[4], err)
	}

	parsed := &Expr{
		Metric:    m[1],
		Selector:  make(map[string]string),
		Op:        m[3],
		Threshold: threshold,
	}

	if m[2] != "" {
		body := strings.TrimSuffix(strings.TrimPrefix(m[2], "{"), "}")
		if strings.TrimSpace(body) != "" {
			for _, pair := range strings.Split(body, ",") {
				lm := labelRe.FindStringSubmatch(strings.TrimSpace(pair))
				if lm == nil {
					return nil, fmt.Errorf("malformed label matcher %q", pair)
				}
				parsed.Selector[lm[1]] = lm[2]
			}
		}
	}

	return parsed, nil
}

// Holds reports whether the value satisfies the expression's condition
func (e *Expr) Holds(value float64) bool {
	switch e.Op {
	case ">":
		return value > e.Threshold
	case ">=":
		return value >= e.Threshold
	case "<":
		return value < e.Threshold
	case "<=":
		return value <= e.Threshold
	default:
		return false
	}
}
