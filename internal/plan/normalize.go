package plan

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

const defaultDurationMin = 10

// Normalize coerces arbitrary backend output into a valid ContentPlan.
// It accepts a JSON object with an "options" list, a bare list, or a
// mapping keyed by option label, possibly wrapped in prose or code fences.
// It never fails: unusable output yields the deterministic fallback plan.
func Normalize(raw, goal, contextText string) *ContentPlan {
	items, ok := extractOptionItems(raw)
	if !ok {
		return Fallback(goal, contextText)
	}

	p := &ContentPlan{Goal: goal, Context: contextText}
	for i, id := range OptionIDs {
		var item any
		if i < len(items) {
			item = items[i]
		}
		p.Options = append(p.Options, coerceOption(item, id))
	}
	return p
}

// extractOptionItems digs the option list out of whatever JSON shape the
// backend produced.
func extractOptionItems(raw string) ([]any, bool) {
	seg := jsonSegment(raw)
	if seg == "" {
		return nil, false
	}

	var decoded any
	if err := json.Unmarshal([]byte(seg), &decoded); err != nil {
		return nil, false
	}

	switch v := decoded.(type) {
	case []any:
		return v, len(v) > 0
	case map[string]any:
		if opts, ok := v["options"].([]any); ok && len(opts) > 0 {
			return opts, true
		}
		// Keyed mapping: {"A": {...}, "B": {...}, "C": {...}}
		var items []any
		found := false
		for _, id := range OptionIDs {
			item, ok := v[id]
			if !ok {
				item, ok = v[strings.ToLower(id)]
			}
			if ok {
				found = true
			}
			items = append(items, item)
		}
		if found {
			return items, true
		}
	}
	return nil, false
}

// jsonSegment strips code fences and surrounding prose, returning the
// first JSON object or array in the text.
func jsonSegment(raw string) string {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if i := strings.LastIndex(s, "```"); i >= 0 {
			s = s[:i]
		}
		s = strings.TrimSpace(s)
	}

	objStart := strings.IndexByte(s, '{')
	arrStart := strings.IndexByte(s, '[')
	start := objStart
	end := strings.LastIndexByte(s, '}')
	if objStart < 0 || (arrStart >= 0 && arrStart < objStart) {
		start = arrStart
		end = strings.LastIndexByte(s, ']')
	}
	if start < 0 || end <= start {
		return ""
	}
	return s[start : end+1]
}

// coerceOption fills one option slot from arbitrary decoded JSON, applying
// safe generic defaults for anything missing or malformed.
func coerceOption(item any, id string) Option {
	opt := Option{
		ID:          id,
		Action:      fmt.Sprintf("目標に向けて%d分だけ取り組む", defaultDurationMin),
		DurationMin: defaultDurationMin,
		Steps:       []string{"取り組む内容を決める", "短い時間で試す"},
		Reason:      "小さく始めることで負担を抑えられるため",
	}

	m, ok := item.(map[string]any)
	if !ok {
		return opt
	}

	if action, ok := m["action"].(string); ok && strings.TrimSpace(action) != "" {
		opt.Action = strings.TrimSpace(action)
	}
	opt.DurationMin = coerceDuration(m["duration_min"])
	if steps := coerceSteps(m["steps"]); len(steps) > 0 {
		opt.Steps = steps
	}
	if reason, ok := m["reason"].(string); ok && strings.TrimSpace(reason) != "" {
		opt.Reason = strings.TrimSpace(reason)
	}
	return opt
}

// coerceDuration turns whatever the backend put in duration_min into a
// positive integer, defaulting on failure.
func coerceDuration(v any) int {
	switch d := v.(type) {
	case float64:
		if d > 0 {
			return int(d)
		}
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(d)); err == nil && n > 0 {
			return n
		}
	}
	return defaultDurationMin
}

// coerceSteps extracts up to 3 non-empty step strings.
func coerceSteps(v any) []string {
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	var steps []string
	for _, s := range list {
		str, ok := s.(string)
		if !ok || strings.TrimSpace(str) == "" {
			continue
		}
		steps = append(steps, strings.TrimSpace(str))
		if len(steps) == 3 {
			break
		}
	}
	return steps
}
