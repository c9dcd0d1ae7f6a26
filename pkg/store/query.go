package store

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultPageSize = 100
	MaxPageSize     = 1000
	DefaultOrdering = "-build_time_iso"
)

type FilterOp string

const (
	OpExact     FilterOp = "exact"
	OpIContains FilterOp = "icontains"
)

type Filter struct {
	Field string
	Op    FilterOp
	Value string
}

// BuildQuery is a parsed build listing request.
type BuildQuery struct {
	Filters    []Filter
	StreamOnly bool
	Ordering   []string
	Page       int
	PageSize   int
}

// filterable maps API field names to the lookups they support.
var filterable = map[string][]FilterOp{
	"build_0_id":                         {OpExact, OpIContains},
	"build_0_nvr":                        {OpExact, OpIContains},
	"dg_name":                            {OpExact, OpIContains},
	"brew_task_state":                    {OpExact},
	"brew_task_id":                       {OpExact, OpIContains},
	"group":                              {OpExact, OpIContains},
	"dg_commit":                          {OpExact, OpIContains},
	"label_io_openshift_build_commit_id": {OpExact, OpIContains},
	"time_iso":                           {OpExact},
	"jenkins_build_url":                  {OpExact, OpIContains},
}

var orderable = map[string]string{
	"id":              "id",
	"build_0_id":      "build_0_id",
	"build_0_nvr":     "build_0_nvr",
	"dg_name":         "dg_name",
	"brew_task_id":    "brew_task_id",
	"brew_task_state": "brew_task_state",
	"group":           `"group"`,
	"time_iso":        "time_iso",
	"build_time_iso":  "build_time_iso",
}

// ParseBuildQuery reads filter, ordering and pagination parameters the way
// the dashboard frontend sends them: `field` or `field__lookup` for filters,
// `ordering=-a,b`, `page`, `page_size` and `stream_only`.
func ParseBuildQuery(values url.Values) (BuildQuery, error) {
	q := BuildQuery{Page: 1, PageSize: DefaultPageSize}

	for key, vals := range values {
		if len(vals) == 0 || vals[0] == "" {
			continue
		}
		value := vals[0]
		switch key {
		case "page":
			n, err := strconv.Atoi(value)
			if err != nil || n < 1 {
				return q, fmt.Errorf("invalid page %q", value)
			}
			q.Page = n
			continue
		case "page_size":
			n, err := strconv.Atoi(value)
			if err != nil || n < 1 {
				return q, fmt.Errorf("invalid page_size %q", value)
			}
			if n > MaxPageSize {
				n = MaxPageSize
			}
			q.PageSize = n
			continue
		case "ordering":
			for _, part := range strings.Split(value, ",") {
				part = strings.TrimSpace(part)
				if _, ok := orderable[strings.TrimPrefix(part, "-")]; !ok {
					return q, fmt.Errorf("cannot order by %q", part)
				}
				q.Ordering = append(q.Ordering, part)
			}
			continue
		case "stream_only":
			b, err := strconv.ParseBool(value)
			if err != nil {
				return q, fmt.Errorf("invalid stream_only %q", value)
			}
			q.StreamOnly = b
			continue
		}

		field, op := key, OpExact
		if i := strings.Index(key, "__"); i >= 0 {
			field, op = key[:i], FilterOp(key[i+2:])
		}
		ops, ok := filterable[field]
		if !ok {
			// unknown parameters are ignored, as with any DRF filterset
			continue
		}
		if !supports(ops, op) {
			return q, fmt.Errorf("lookup %q not supported on %s", op, field)
		}
		if field == "time_iso" {
			if _, err := time.Parse(time.RFC3339, value); err != nil {
				return q, fmt.Errorf("invalid time_iso %q", value)
			}
		}
		q.Filters = append(q.Filters, Filter{Field: field, Op: op, Value: value})
	}

	if len(q.Ordering) == 0 {
		q.Ordering = []string{DefaultOrdering}
	}
	return q, nil
}

func supports(ops []FilterOp, op FilterOp) bool {
	for _, o := range ops {
		if o == op {
			return true
		}
	}
	return false
}

// where renders the filters as a SQL predicate and its arguments.
func (q BuildQuery) where() (string, []interface{}) {
	var clauses []string
	var args []interface{}

	for _, f := range q.Filters {
		col := f.Field
		if col == "group" {
			col = `"group"`
		}
		switch f.Op {
		case OpIContains:
			clauses = append(clauses, fmt.Sprintf(`CAST(%s AS TEXT) LIKE ? ESCAPE '\'`, col))
			args = append(args, "%"+escapeLike(f.Value)+"%")
		default:
			if f.Field == "time_iso" {
				t, _ := time.Parse(time.RFC3339, f.Value)
				clauses = append(clauses, col+" = ?")
				args = append(args, t.UTC())
				continue
			}
			clauses = append(clauses, fmt.Sprintf("CAST(%s AS TEXT) = ?", col))
			args = append(args, f.Value)
		}
	}
	if q.StreamOnly {
		clauses = append(clauses, "build_0_nvr LIKE ?")
		args = append(args, "%.assembly.stream")
	}

	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func (q BuildQuery) orderBy() string {
	var parts []string
	for _, o := range q.Ordering {
		dir := "ASC"
		if strings.HasPrefix(o, "-") {
			dir = "DESC"
			o = o[1:]
		}
		if col, ok := orderable[o]; ok {
			parts = append(parts, col+" "+dir)
		}
	}
	parts = append(parts, "id ASC")
	return " ORDER BY " + strings.Join(parts, ", ")
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
