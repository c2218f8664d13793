package repository

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/rpattn/mora/internal/domain"
	"github.com/rpattn/mora/internal/paged"
)

type sqlBuilder struct {
	args []any
}

func newSQLBuilder() *sqlBuilder {
	return &sqlBuilder{args: make([]any, 0)}
}

func (b *sqlBuilder) addArg(value any) int {
	b.args = append(b.args, value)
	return len(b.args)
}

func (b *sqlBuilder) placeholder(idx int) string {
	return fmt.Sprintf("$%d", idx)
}

// arg adds value and returns its placeholder.
func (b *sqlBuilder) arg(value any) string {
	return b.placeholder(b.addArg(value))
}

// page renders LIMIT/OFFSET for p; an unbounded page only gets an OFFSET.
func (b *sqlBuilder) page(p paged.Params) string {
	clause := ""
	if p.Limit != nil {
		clause = "LIMIT " + b.arg(*p.Limit) + " "
	}
	return clause + "OFFSET " + b.arg(p.Offset)
}

// similarPattern builds an anchored regex union matching any of values exactly.
func similarPattern(values []string) string {
	escaped := make([]string, len(values))
	for i, v := range values {
		escaped[i] = regexp.QuoteMeta(v)
	}
	return "^(?:" + strings.Join(escaped, "|") + ")$"
}

// appendPredicate renders one predicate against column alias.field.
func appendPredicate(alias string, p domain.Predicate, builder *sqlBuilder, where *[]string) error {
	column := fmt.Sprintf("%s.%s", alias, p.Field)

	switch p.Op {
	case domain.OpAnyUUID:
		if len(p.UUIDs) == 0 {
			*where = append(*where, "FALSE")
			return nil
		}
		*where = append(*where, fmt.Sprintf("%s = ANY(%s::uuid[])", column, builder.arg(p.UUIDs)))
	case domain.OpAnyString:
		if len(p.Strings) == 0 {
			*where = append(*where, "FALSE")
			return nil
		}
		*where = append(*where, fmt.Sprintf("%s = ANY(%s::text[])", column, builder.arg(p.Strings)))
	case domain.OpSimilar:
		if len(p.Strings) == 0 {
			*where = append(*where, "FALSE")
			return nil
		}
		*where = append(*where, fmt.Sprintf("%s ~ %s", column, builder.arg(similarPattern(p.Strings))))
	case domain.OpIsNull:
		*where = append(*where, fmt.Sprintf("%s IS NULL", column))
	default:
		return fmt.Errorf("unsupported predicate operator %d", p.Op)
	}
	return nil
}

func whereClause(where []string) string {
	if len(where) == 0 {
		return ""
	}
	return "WHERE " + strings.Join(where, " AND ") + " "
}
