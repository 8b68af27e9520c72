// Package conflict decides which of two divergent versions of a record to
// keep, or how to merge them, when both a local and a remote update exist.
// Strategies are configured per table, optionally per field.
package conflict

import (
	"reflect"

	"github.com/ddanilov/podvault/internal/syncwire"
)

// Kind enumerates the built-in strategies.
type Kind int

const (
	// KindServerWins keeps the remote record unchanged. Correct for
	// read-mostly catalog data the client never originates.
	KindServerWins Kind = iota
	// KindClientWins keeps the local record unchanged. Correct for purely
	// device-local state with no server equivalent.
	KindClientWins
	// KindLatestTimestamp keeps whichever side has the larger updated_at.
	KindLatestTimestamp
	// KindMaxValue keeps the remote record with the guarded field replaced
	// by the numeric max of both sides. For monotonic counters.
	KindMaxValue
	// KindCustom delegates entirely to a supplied pure function.
	KindCustom
)

// ResolveFunc merges two divergent records into one.
type ResolveFunc func(local, remote syncwire.Record) syncwire.Record

// Strategy is a tagged union: Custom is set only for KindCustom.
type Strategy struct {
	Kind   Kind
	Custom ResolveFunc
}

func ServerWins() Strategy      { return Strategy{Kind: KindServerWins} }
func ClientWins() Strategy      { return Strategy{Kind: KindClientWins} }
func LatestTimestamp() Strategy { return Strategy{Kind: KindLatestTimestamp} }
func MaxValue() Strategy        { return Strategy{Kind: KindMaxValue} }
func Custom(fn ResolveFunc) Strategy {
	return Strategy{Kind: KindCustom, Custom: fn}
}

// Rule binds a table (and optionally one field) to a strategy. Rules for a
// table are evaluated in registration order; the first rule whose guarded
// field actually differs between local and remote applies. A rule without a
// field always applies.
type Rule struct {
	Table    string
	Field    string
	Strategy Strategy
}

// Resolver resolves conflicts using per-table rules. Tables without rules
// fall back to server-wins rather than failing: a misconfigured table must
// not break a pull.
type Resolver struct {
	rules map[string][]Rule
}

func NewResolver(rules ...Rule) *Resolver {
	r := &Resolver{rules: make(map[string][]Rule)}
	for _, rule := range rules {
		r.rules[rule.Table] = append(r.rules[rule.Table], rule)
	}
	return r
}

// HasConflict is a cheap pre-check: it compares version and updated_at
// before the heavier resolve path is invoked.
func HasConflict(local, remote syncwire.Record) bool {
	return local.Version != remote.Version || local.UpdatedAt != remote.UpdatedAt
}

// Resolve returns the record to keep for table.
func (r *Resolver) Resolve(table string, local, remote syncwire.Record) syncwire.Record {
	for _, rule := range r.rules[table] {
		if rule.Field != "" && reflect.DeepEqual(local.Fields[rule.Field], remote.Fields[rule.Field]) {
			// no conflict on the guarded field
			continue
		}
		return apply(rule, local, remote)
	}
	return remote
}

func apply(rule Rule, local, remote syncwire.Record) syncwire.Record {
	switch rule.Strategy.Kind {
	case KindServerWins:
		return remote
	case KindClientWins:
		return local
	case KindLatestTimestamp:
		if local.UpdatedAt > remote.UpdatedAt {
			return local
		}
		return remote
	case KindMaxValue:
		merged := remote
		merged.Fields = cloneFields(remote.Fields)
		lv, lok := numeric(local.Fields[rule.Field])
		rv, rok := numeric(remote.Fields[rule.Field])
		if lok && rok && lv > rv {
			merged.Fields[rule.Field] = lv
		}
		return merged
	case KindCustom:
		return rule.Strategy.Custom(local, remote)
	default:
		return remote
	}
}

func cloneFields(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	return out
}

// numeric coerces the JSON-decoded field representations we can compare.
func numeric(v any) (float64, bool) {
	switch value := v.(type) {
	case float64:
		return value, true
	case int64:
		return float64(value), true
	case int:
		return float64(value), true
	default:
		return 0, false
	}
}
