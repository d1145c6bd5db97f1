package engine

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/josephrichard7/proxmox-mpc-sub010/internal/rules"
)

// pass carries the per-call traversal state. Each Anonymize invocation gets
// a fresh pass; only the pseudonym table and engine counters are shared.
type pass struct {
	engine   *Engine
	ctx      context.Context
	opts     Options
	deadline time.Time

	// seen holds container pointers on the current containment chain.
	// Entries are removed on the way back up so shared (non-cyclic)
	// references traverse normally.
	seen map[uintptr]struct{}

	applied    map[rules.Type]int
	pseudonyms int
	errs       int
	truncated  bool
	checks     int
}

// expired checks the time budget and caller cancellation. The check is
// opportunistic: it runs between nodes, not inside a regex scan.
func (p *pass) expired() bool {
	if p.truncated {
		return true
	}
	p.checks++
	if p.checks%32 != 0 {
		return false
	}
	if p.ctx != nil && p.ctx.Err() != nil {
		p.truncated = true
		return true
	}
	if time.Now().After(p.deadline) {
		p.truncated = true
		return true
	}
	return false
}

// visit anonymizes one node. Faults on a node are absorbed into the error
// count and replaced with a safe marker; sibling traversal continues.
func (p *pass) visit(v interface{}) interface{} {
	if p.expired() {
		return v
	}

	switch val := v.(type) {
	case nil:
		return nil
	case string:
		return p.scanString(val)
	case bool, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return v
	case map[string]interface{}:
		ptr := reflect.ValueOf(val).Pointer()
		if p.entered(ptr) {
			p.errs++
			return CycleMarker
		}
		out := make(map[string]interface{}, len(val))
		for key, child := range val {
			out[key] = p.visit(child)
		}
		p.left(ptr)
		return out
	case []interface{}:
		ptr := reflect.ValueOf(val).Pointer()
		if p.entered(ptr) {
			p.errs++
			return CycleMarker
		}
		out := make([]interface{}, len(val))
		for i, child := range val {
			out[i] = p.visit(child)
		}
		p.left(ptr)
		return out
	case []string:
		out := make([]string, len(val))
		for i, s := range val {
			out[i] = p.scanString(s)
		}
		return out
	case map[string]string:
		out := make(map[string]string, len(val))
		for key, s := range val {
			out[key] = p.scanString(s)
		}
		return out
	case time.Time:
		return val
	}

	return p.visitReflect(reflect.ValueOf(v))
}

// visitReflect handles typed values the concrete switch does not cover:
// pointers, structs, typed maps and slices.
func (p *pass) visitReflect(rv reflect.Value) interface{} {
	switch rv.Kind() {
	case reflect.Ptr:
		if rv.IsNil() {
			return nil
		}
		ptr := rv.Pointer()
		if p.entered(ptr) {
			p.errs++
			return CycleMarker
		}
		out := p.visit(rv.Elem().Interface())
		p.left(ptr)
		return out

	case reflect.Interface:
		if rv.IsNil() {
			return nil
		}
		return p.visit(rv.Elem().Interface())

	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			p.errs++
			return UnprocessableMarker
		}
		if rv.IsNil() {
			return nil
		}
		ptr := rv.Pointer()
		if p.entered(ptr) {
			p.errs++
			return CycleMarker
		}
		out := make(map[string]interface{}, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out[iter.Key().String()] = p.visit(iter.Value().Interface())
		}
		p.left(ptr)
		return out

	case reflect.Slice:
		if rv.IsNil() {
			return nil
		}
		ptr := rv.Pointer()
		if p.entered(ptr) {
			p.errs++
			return CycleMarker
		}
		out := make([]interface{}, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			out[i] = p.visit(rv.Index(i).Interface())
		}
		p.left(ptr)
		return out

	case reflect.Array:
		out := make([]interface{}, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			out[i] = p.visit(rv.Index(i).Interface())
		}
		return out

	case reflect.Struct:
		typ := rv.Type()
		out := make(map[string]interface{}, typ.NumField())
		for i := 0; i < typ.NumField(); i++ {
			field := typ.Field(i)
			if field.PkgPath != "" {
				continue
			}
			out[field.Name] = p.visit(rv.Field(i).Interface())
		}
		return out

	case reflect.String:
		return p.scanString(rv.String())

	case reflect.Func, reflect.Chan, reflect.UnsafePointer:
		p.errs++
		return UnprocessableMarker

	default:
		return rv.Interface()
	}
}

func (p *pass) entered(ptr uintptr) bool {
	if ptr == 0 {
		return false
	}
	if _, ok := p.seen[ptr]; ok {
		return true
	}
	p.seen[ptr] = struct{}{}
	return false
}

func (p *pass) left(ptr uintptr) {
	delete(p.seen, ptr)
}

type span struct {
	start, end int
	text       string
}

// scanString applies the rule set to one string. Rules run in descending
// priority; a byte range consumed by an earlier match is skipped by every
// later rule, so a value is rewritten at most once per pass.
func (p *pass) scanString(s string) string {
	if s == "" {
		return s
	}

	var consumed []span
	var replacements []span

	for _, rule := range p.engine.registry.All() {
		if p.expired() {
			break
		}
		matches := rule.Pattern.FindAllStringSubmatchIndex(s, -1)
		for _, m := range matches {
			full := span{start: m[0], end: m[1]}
			if overlapsAny(consumed, full) {
				continue
			}
			// A capture group narrows the rewritten range (e.g. only the
			// identifier in "username: root"), but the full match is still
			// consumed so lower-priority rules cannot re-match the context.
			target := full
			if len(m) > 2 && m[2] >= 0 {
				target.start, target.end = m[2], m[3]
			}

			target.text = RedactionMarker
			if rule.Replacement == rules.ReplacePseudonym && p.opts.EnablePseudonyms {
				value, err := p.engine.pseudonyms.PseudonymWithSalt(s[target.start:target.end], rule.Type, rule.Category, p.opts.HashSalt)
				if err != nil {
					p.errs++
				} else {
					target.text = value
					p.pseudonyms++
				}
			}

			consumed = append(consumed, full)
			replacements = append(replacements, target)
			p.applied[rule.Type]++
		}
	}

	if len(replacements) == 0 {
		return s
	}

	sort.Slice(replacements, func(i, j int) bool { return replacements[i].start > replacements[j].start })
	out := s
	for _, r := range replacements {
		out = out[:r.start] + r.text + out[r.end:]
	}
	return out
}

func overlapsAny(spans []span, candidate span) bool {
	for _, s := range spans {
		if candidate.start < s.end && s.start < candidate.end {
			return true
		}
	}
	return false
}

// flatten renders nested data as a single scannable string, sacrificing
// per-field typing. Used when PreserveStructure is disabled.
func (p *pass) flatten(v interface{}) string {
	var b strings.Builder
	p.flattenInto(&b, v)
	return b.String()
}

func (p *pass) flattenInto(b *strings.Builder, v interface{}) {
	if p.expired() {
		return
	}

	switch val := v.(type) {
	case nil:
		b.WriteString("null")
	case string:
		b.WriteString(val)
	case map[string]interface{}:
		ptr := reflect.ValueOf(val).Pointer()
		if p.entered(ptr) {
			p.errs++
			b.WriteString(CycleMarker)
			return
		}
		keys := make([]string, 0, len(val))
		for key := range val {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for i, key := range keys {
			if i > 0 {
				b.WriteByte(' ')
			}
			b.WriteString(key)
			b.WriteByte('=')
			p.flattenInto(b, val[key])
		}
		p.left(ptr)
	case []interface{}:
		ptr := reflect.ValueOf(val).Pointer()
		if p.entered(ptr) {
			p.errs++
			b.WriteString(CycleMarker)
			return
		}
		for i, child := range val {
			if i > 0 {
				b.WriteByte(' ')
			}
			p.flattenInto(b, child)
		}
		p.left(ptr)
	default:
		fmt.Fprintf(b, "%v", val)
	}
}
