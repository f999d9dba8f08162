package discovery

import (
	"testing"

	"github.com/me/classq/pkg/model"
)

func filterItems() []*model.Item {
	return []*model.Item{
		{ClassPath: "unit.FooTest", Methods: []string{"test_a"}},
		{ClassPath: "integration.BarTest", Methods: []string{"test_a", "test_b", "test_c"}},
		{ClassPath: "integration.BazTest", Methods: []string{"test_a"}},
	}
}

func TestFilter_ByClassPath(t *testing.T) {
	f, err := NewFilter(`classPath.startsWith("integration.")`)
	if err != nil {
		t.Fatalf("NewFilter: %v", err)
	}

	kept, err := f.Apply(filterItems())
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if len(kept) != 2 {
		t.Fatalf("kept %d items, want 2", len(kept))
	}
	for _, it := range kept {
		if it.ClassPath[:12] != "integration." {
			t.Errorf("kept %q", it.ClassPath)
		}
	}
}

func TestFilter_ByMethods(t *testing.T) {
	f, err := NewFilter(`methods.length > 1`)
	if err != nil {
		t.Fatalf("NewFilter: %v", err)
	}

	kept, err := f.Apply(filterItems())
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if len(kept) != 1 || kept[0].ClassPath != "integration.BarTest" {
		t.Errorf("kept = %v", kept)
	}
}

func TestFilter_InvalidExpression(t *testing.T) {
	if _, err := NewFilter(`classPath.startsWith(`); err == nil {
		t.Error("expected compile error")
	}
}

func TestFilter_NilKeepsEverything(t *testing.T) {
	var f *Filter
	kept, err := f.Apply(filterItems())
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if len(kept) != 3 {
		t.Errorf("kept %d items, want 3", len(kept))
	}
}
