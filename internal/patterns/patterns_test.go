package patterns

import "testing"

func TestCompileSnapshot_PriorityOrder(t *testing.T) {
	set := []Pattern{
		{ID: 1, Name: "low", Category: CategoryLong, Expression: `(?i)buy`, Priority: 10, IsActive: true},
		{ID: 2, Name: "high", Category: CategoryLong, Expression: `(?i)long`, Priority: 100, IsActive: true},
	}

	snap, errs := CompileSnapshot(set)
	if len(errs) != 0 {
		t.Fatal(errs)
	}

	// Both patterns match; the higher-priority one must win.
	c, _, ok := snap.FirstMatch(CategoryLong, "going long, buy now")
	if !ok {
		t.Fatal("expected a match")
	}
	if c.Name != "high" {
		t.Errorf("matched %q, want the higher-priority pattern", c.Name)
	}
}

func TestCompileSnapshot_SkipsInactive(t *testing.T) {
	set := []Pattern{
		{ID: 1, Name: "off", Category: CategoryLong, Expression: `long`, Priority: 10, IsActive: false},
	}

	snap, errs := CompileSnapshot(set)
	if len(errs) != 0 {
		t.Fatal(errs)
	}
	if snap.Len() != 0 {
		t.Errorf("snapshot holds %d patterns, want inactive ones excluded", snap.Len())
	}
}

func TestCompileSnapshot_UnknownCategory(t *testing.T) {
	set := []Pattern{
		{ID: 7, Name: "odd", Category: Category("sentiment"), Expression: `up`, Priority: 10, IsActive: true},
	}

	_, errs := CompileSnapshot(set)
	if len(errs) != 1 || errs[0].PatternID != 7 {
		t.Fatalf("errs = %v, want one error attributed to pattern 7", errs)
	}
}

func TestMatch_CaptureGroupWins(t *testing.T) {
	set := []Pattern{
		{ID: 1, Name: "price", Category: CategoryStopPrice, Expression: `стоп\s*(\d+)`, Priority: 10, IsActive: true},
	}
	snap, _ := CompileSnapshot(set)

	_, val, ok := snap.FirstMatch(CategoryStopPrice, "стоп 240")
	if !ok {
		t.Fatal("expected a match")
	}
	if val != "240" {
		t.Errorf("value = %q, want the capture group 240", val)
	}
}

func TestDefaultSet_CompilesCleanly(t *testing.T) {
	snap, errs := CompileSnapshot(DefaultSet())
	if len(errs) != 0 {
		t.Fatalf("default set must compile: %v", errs)
	}
	for _, cat := range Categories {
		if len(snap.Category(cat)) == 0 {
			t.Errorf("default set has no %s patterns", cat)
		}
	}
}
