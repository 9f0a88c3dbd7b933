package plan

import "testing"

func checkInvariants(t *testing.T, p *ContentPlan) {
	t.Helper()
	if err := p.Validate(); err != nil {
		t.Fatalf("normalized plan violates invariants: %v", err)
	}
}

func TestNormalize_WellFormed(t *testing.T) {
	raw := `{"options":[
		{"action":"10分だけ歩く","duration_min":10,"steps":["靴を履く","外に出る"],"reason":"気分転換になる"},
		{"action":"ストレッチをする","duration_min":5,"steps":["マットを敷く","首と肩を回す"],"reason":"体がほぐれる"},
		{"action":"水を一杯飲む","duration_min":1,"steps":["コップを用意する"],"reason":"区切りになる"}
	]}`

	p := Normalize(raw, "運動の習慣をつける", "")
	checkInvariants(t, p)

	if p.Options[0].Action != "10分だけ歩く" {
		t.Errorf("action lost in normalization: %q", p.Options[0].Action)
	}
	if p.Options[0].DurationMin != 10 {
		t.Errorf("duration lost: %d", p.Options[0].DurationMin)
	}
	if len(p.Options[1].Steps) != 2 || p.Options[1].Steps[0] != "マットを敷く" {
		t.Errorf("steps lost: %v", p.Options[1].Steps)
	}
}

func TestNormalize_CodeFencedAndProse(t *testing.T) {
	raw := "以下が行動案です。\n```json\n{\"options\":[{\"action\":\"散歩する\",\"duration_min\":15,\"steps\":[\"靴を履く\"],\"reason\":\"手軽\"}]}\n```\nご確認ください。"
	p := Normalize(raw, "g", "c")
	checkInvariants(t, p)
	if p.Options[0].Action != "散歩する" {
		t.Errorf("expected action to survive code fence, got %q", p.Options[0].Action)
	}
	// Missing options B and C are filled with defaults.
	if p.Options[1].Action == "" || p.Options[2].Action == "" {
		t.Error("missing option slots should get non-empty default actions")
	}
}

func TestNormalize_BareList(t *testing.T) {
	raw := `[{"action":"読書する","duration_min":20,"steps":["本を開く"],"reason":"落ち着く"},
	        {"action":"片付ける","duration_min":10,"steps":["机の上だけやる"],"reason":"達成感"},
	        {"action":"休む","duration_min":5,"steps":["目を閉じる"],"reason":"回復"},
	        {"action":"4つ目は捨てられる","duration_min":5,"steps":["x"],"reason":"y"}]`
	p := Normalize(raw, "g", "")
	checkInvariants(t, p)
	if p.Options[2].Action != "休む" {
		t.Errorf("expected third option kept, got %q", p.Options[2].Action)
	}
}

func TestNormalize_KeyedMapping(t *testing.T) {
	raw := `{"A":{"action":"走る","duration_min":10,"steps":["着替える"],"reason":"r"},
	        "b":{"action":"歩く","duration_min":10,"steps":["靴を履く"],"reason":"r"}}`
	p := Normalize(raw, "g", "")
	checkInvariants(t, p)
	if p.Options[0].Action != "走る" {
		t.Errorf("A slot lost: %q", p.Options[0].Action)
	}
	if p.Options[1].Action != "歩く" {
		t.Errorf("lowercase keyed slot should be accepted: %q", p.Options[1].Action)
	}
	if p.Options[2].ID != "C" {
		t.Errorf("missing C slot should still carry id C, got %q", p.Options[2].ID)
	}
}

func TestNormalize_MalformedFields(t *testing.T) {
	raw := `{"options":[
		{"action":"  ","duration_min":-3,"steps":[],"reason":""},
		{"action":"書く","duration_min":"25","steps":["a","b","c","d","e"],"reason":"r"},
		{"action":"読む","duration_min":"not a number","steps":[1,2,"手を動かす"],"reason":"r"}
	]}`
	p := Normalize(raw, "g", "")
	checkInvariants(t, p)

	if p.Options[0].DurationMin <= 0 {
		t.Error("negative duration should be defaulted to a positive integer")
	}
	if p.Options[1].DurationMin != 25 {
		t.Errorf("string duration should be coerced, got %d", p.Options[1].DurationMin)
	}
	if len(p.Options[1].Steps) != 3 {
		t.Errorf("steps should be truncated to 3, got %d", len(p.Options[1].Steps))
	}
	if len(p.Options[2].Steps) != 1 || p.Options[2].Steps[0] != "手を動かす" {
		t.Errorf("non-string steps should be dropped, got %v", p.Options[2].Steps)
	}
}

func TestNormalize_TotalGarbage(t *testing.T) {
	for _, raw := range []string{"", "すみません、生成できませんでした。", "{broken json", "[]", "{}"} {
		p := Normalize(raw, "目標", "文脈")
		checkInvariants(t, p)
		if p.Goal != "目標" || p.Context != "文脈" {
			t.Errorf("fallback should carry goal and context, got %q/%q", p.Goal, p.Context)
		}
	}
}

func TestFallback_IsValid(t *testing.T) {
	checkInvariants(t, Fallback("g", "c"))
}

func TestPlanJSONRoundTrip(t *testing.T) {
	p := Fallback("g", "c")
	raw, err := p.ToJSON()
	if err != nil {
		t.Fatalf("marshal error: %v", err)
	}
	restored, err := FromJSON(raw)
	if err != nil {
		t.Fatalf("restore error: %v", err)
	}
	if restored.Options[0].Action != p.Options[0].Action {
		t.Errorf("action changed in round trip")
	}
}

func TestFromJSON_RejectsInvalid(t *testing.T) {
	if _, err := FromJSON(`{"goal":"g","options":[]}`); err == nil {
		t.Error("plan without 3 options should be rejected")
	}
	if _, err := FromJSON("not json"); err == nil {
		t.Error("non-JSON should be rejected")
	}
}
