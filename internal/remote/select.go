package remote

import (
	"net/url"
	"strconv"
	"strings"
)

// Select builds marketplace filters of the form field__operation=value.
type Select struct {
	values url.Values
}

// NewSelect returns an empty filter.
func NewSelect() *Select {
	return &Select{values: url.Values{}}
}

func (s *Select) add(field, op, value string) *Select {
	s.values.Set(field+"__"+op, value)
	return s
}

func (s *Select) Equals(field, value string) *Select {
	return s.add(field, "eq", value)
}

func (s *Select) NotEquals(field, value string) *Select {
	return s.add(field, "noteq", value)
}

func (s *Select) GreaterThan(field string, value int64) *Select {
	return s.add(field, "gt", strconv.FormatInt(value, 10))
}

func (s *Select) GreaterThanOrEquals(field string, value int64) *Select {
	return s.add(field, "gte", strconv.FormatInt(value, 10))
}

func (s *Select) LessThanOrEquals(field string, value string) *Select {
	return s.add(field, "lte", value)
}

// In renders values as a JSON-style string list: ["a","b"].
func (s *Select) In(field string, values ...string) *Select {
	return s.add(field, "in", `["`+strings.Join(values, `","`)+`"]`)
}

// Apply copies the filters into q.
func (s *Select) Apply(q url.Values) {
	if s == nil {
		return
	}
	for k, v := range s.values {
		q[k] = append([]string(nil), v...)
	}
}
