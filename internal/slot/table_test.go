package slot

import "testing"

func Test_alloc_get_free_round_trip(t *testing.T) {
	tbl := NewTable(4)

	s := tbl.Alloc(1, 7)
	if s == nil {
		t.Fatal("alloc failed")
	}
	if s.Idx() != 1 || s.Tag() != 7 {
		t.Errorf("slot fields mismatch: idx=%d tag=%d", s.Idx(), s.Tag())
	}

	if got := tbl.Get(1, 7); got != s {
		t.Error("get did not return the allocated slot")
	}

	if freed := tbl.Free(1, 7); !freed {
		t.Error("free of an in-use, matching-tag slot should report freed")
	}

	if got := tbl.Get(1, 7); got != nil {
		t.Error("get should return nil after free")
	}

	s2 := tbl.Alloc(1, 9)
	if s2 == nil {
		t.Fatal("realloc with new tag should succeed")
	}
	if s2.Tag() != 9 {
		t.Errorf("expected tag 9 after realloc, got %d", s2.Tag())
	}
}

func Test_alloc_out_of_range(t *testing.T) {
	tbl := NewTable(4)
	if s := tbl.Alloc(4, 0); s != nil {
		t.Error("expected nil for out-of-range idx")
	}
	if s := tbl.Alloc(100, 0); s != nil {
		t.Error("expected nil for far out-of-range idx")
	}
}

func Test_alloc_already_in_use(t *testing.T) {
	tbl := NewTable(4)
	first := tbl.Alloc(0, 1)
	if first == nil {
		t.Fatal("first alloc should succeed")
	}
	second := tbl.Alloc(0, 2)
	if second != nil {
		t.Error("alloc on in-use slot should return nil")
	}
	// existing slot state must be unchanged
	if got := tbl.Get(0, 1); got != first {
		t.Error("existing slot allocation was clobbered by the failed alloc")
	}
}

func Test_get_wrong_tag_returns_nil(t *testing.T) {
	tbl := NewTable(4)
	tbl.Alloc(2, 5)
	if got := tbl.Get(2, 6); got != nil {
		t.Error("get with mismatched tag should return nil")
	}
}

func Test_get_not_in_use_returns_nil(t *testing.T) {
	tbl := NewTable(4)
	if got := tbl.Get(0, 0); got != nil {
		t.Error("get on a never-allocated slot should return nil")
	}
}

func Test_free_wrong_tag_is_ignored(t *testing.T) {
	tbl := NewTable(4)
	tbl.Alloc(0, 3)
	if freed := tbl.Free(0, 99); freed { // wrong tag, should be a no-op
		t.Error("free with wrong tag should report not-freed")
	}
	if got := tbl.Get(0, 3); got == nil {
		t.Error("free with wrong tag must not affect the slot")
	}
}

func Test_free_out_of_range_is_ignored(t *testing.T) {
	tbl := NewTable(4)
	if freed := tbl.Free(99, 0); freed { // must not panic
		t.Error("free of an out-of-range idx should report not-freed")
	}
}

func Test_cleanup_frees_all_in_use_slots(t *testing.T) {
	tbl := NewTable(4)
	tbl.Alloc(0, 10)
	tbl.Alloc(2, 20)

	tbl.Cleanup()

	for idx := uint16(0); idx < 4; idx++ {
		if got := tbl.Get(idx, 0); got != nil {
			t.Errorf("slot %d should not be gettable after cleanup", idx)
		}
	}

	// slots 0 and 2 should have bumped generations and now be allocatable
	s0 := tbl.Alloc(0, 11)
	if s0 == nil {
		t.Fatal("slot 0 should be allocatable after cleanup")
	}
}

func Test_cap_matches_construction(t *testing.T) {
	tbl := NewTable(100)
	if tbl.Cap() != 100 {
		t.Errorf("expected cap 100, got %d", tbl.Cap())
	}
	if s := tbl.Alloc(100, 0); s != nil {
		t.Error("idx == cap should be rejected")
	}
	if s := tbl.Alloc(99, 0); s == nil {
		t.Error("idx == cap-1 should be accepted")
	}
}
