package tools

import (
	"context"
	"strings"
	"testing"
	"time"
)

func limitSchema() *Schema {
	return NewSchema(
		Arg{Name: "keyword", Type: TypeString, Required: true},
		Arg{Name: "limit", Type: TypeInteger, Default: 50, Max: 200},
		Arg{Name: "from_datetime", Type: TypeTimestamp},
	)
}

func TestValidate_Defaults(t *testing.T) {
	out, err := limitSchema().Validate(map[string]any{"keyword": "security"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out["limit"] != 50 {
		t.Errorf("expected default limit 50, got %v", out["limit"])
	}
	if _, present := out["from_datetime"]; present {
		t.Error("absent optional argument without default should not appear")
	}
}

func TestValidate_LimitClamped(t *testing.T) {
	// JSON numbers arrive as float64.
	out, err := limitSchema().Validate(map[string]any{"keyword": "x", "limit": float64(10000)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out["limit"] != 200 {
		t.Errorf("expected limit clamped to 200, got %v", out["limit"])
	}

	out, err = limitSchema().Validate(map[string]any{"keyword": "x", "limit": float64(-3)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out["limit"] != 1 {
		t.Errorf("expected limit floored to 1, got %v", out["limit"])
	}
}

func TestValidate_UnknownField(t *testing.T) {
	_, err := limitSchema().Validate(map[string]any{"keyword": "x", "verbose": true})
	if err == nil {
		t.Fatal("expected unknown-field rejection")
	}
	if !strings.Contains(err.Error(), "verbose") {
		t.Errorf("error should name the offending field: %v", err)
	}
}

func TestValidate_MissingRequired(t *testing.T) {
	_, err := limitSchema().Validate(map[string]any{"limit": float64(10)})
	if err == nil {
		t.Fatal("expected missing-required error")
	}
	_, err = limitSchema().Validate(map[string]any{"keyword": ""})
	if err == nil {
		t.Fatal("expected empty required string to be rejected")
	}
}

func TestValidate_TypeErrors(t *testing.T) {
	if _, err := limitSchema().Validate(map[string]any{"keyword": 42}); err == nil {
		t.Error("expected type error for non-string keyword")
	}
	if _, err := limitSchema().Validate(map[string]any{"keyword": "x", "limit": "many"}); err == nil {
		t.Error("expected type error for non-integer limit")
	}
	if _, err := limitSchema().Validate(map[string]any{"keyword": "x", "limit": 12.5}); err == nil {
		t.Error("expected rejection of fractional limit")
	}
}

func TestValidate_Timestamps(t *testing.T) {
	cases := []string{
		"2025-01-02T15:04:05Z",
		"2025-01-02T15:04:05+09:00",
		"2025-01-02T15:04:05",
		"2025-01-02",
	}
	for _, c := range cases {
		out, err := limitSchema().Validate(map[string]any{"keyword": "x", "from_datetime": c})
		if err != nil {
			t.Errorf("timestamp %q should parse: %v", c, err)
			continue
		}
		if _, ok := out["from_datetime"].(time.Time); !ok {
			t.Errorf("timestamp %q should validate to time.Time, got %T", c, out["from_datetime"])
		}
	}

	if _, err := limitSchema().Validate(map[string]any{"keyword": "x", "from_datetime": "last tuesday"}); err == nil {
		t.Error("expected rejection of non-ISO timestamp")
	}
}

func TestRegistry_OrderStable(t *testing.T) {
	reg := NewRegistry()
	reg.Register(stubTool{name: "b_tool"})
	reg.Register(stubTool{name: "a_tool"})

	for i := 0; i < 5; i++ {
		defs := reg.Definitions()
		if len(defs) != 2 || defs[0].Name != "b_tool" || defs[1].Name != "a_tool" {
			t.Fatalf("definitions must follow registration order, got %v", defs)
		}
	}
}

func TestRegistry_DuplicatePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on duplicate registration")
		}
	}()
	reg := NewRegistry()
	reg.Register(stubTool{name: "dup"})
	reg.Register(stubTool{name: "dup"})
}

type stubTool struct{ name string }

func (s stubTool) Name() string        { return s.name }
func (s stubTool) Description() string { return "stub" }
func (s stubTool) Schema() *Schema     { return NewSchema() }
func (s stubTool) Execute(_ context.Context, _ string, _ map[string]any) (*Result, error) {
	return &Result{}, nil
}
