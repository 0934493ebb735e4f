package visus

import (
	"context"
	"testing"
)

func TestAlign(t *testing.T) {
	tests := []struct {
		v, origin, step int64
		left, right     int64
	}{
		{5, 0, 4, 4, 8},
		{8, 0, 4, 8, 8},
		{-1, 0, 4, -4, 0},
		{7, 1, 2, 7, 7},
		{6, 1, 2, 5, 7},
	}
	for _, tc := range tests {
		if l := AlignLeft(tc.v, tc.origin, tc.step); l != tc.left {
			t.Errorf("AlignLeft(%d,%d,%d) = %d, expected %d", tc.v, tc.origin, tc.step, l, tc.left)
		}
		if r := AlignRight(tc.v, tc.origin, tc.step); r != tc.right {
			t.Errorf("AlignRight(%d,%d,%d) = %d, expected %d", tc.v, tc.origin, tc.step, r, tc.right)
		}
	}
	if GetPowerOf2(5) != 8 || GetPowerOf2(8) != 8 || GetPowerOf2(0) != 1 {
		t.Errorf("bad GetPowerOf2")
	}
	if Log2(8) != 3 || Log2(9) != 3 || Log2(1) != 0 {
		t.Errorf("bad Log2")
	}
}

func TestAborted(t *testing.T) {
	var none *Aborted
	if none.IsAborted() {
		t.Errorf("nil token should never trip")
	}
	ctx, cancel := context.WithCancel(context.Background())
	a := NewAborted(ctx)
	if a.IsAborted() {
		t.Errorf("token tripped too early")
	}
	cancel()
	if !a.IsAborted() {
		t.Errorf("token should trip when context is cancelled")
	}
	b := NewAborted(nil)
	b.Abort()
	if !b.IsAborted() {
		t.Errorf("token should trip on Abort()")
	}
}

func TestConfig(t *testing.T) {
	c, rest := ParseConfigArgs([]string{"file.idx", "Bitsperblock=16", "compression=zip", "testing=true"})
	if len(rest) != 1 || rest[0] != "file.idx" {
		t.Errorf("bad positional args: %v", rest)
	}
	if v, found, err := c.GetInt("bitsperblock"); err != nil || !found || v != 16 {
		t.Errorf("bad GetInt: %d %t %v", v, found, err)
	}
	if v, found, err := c.GetBool("testing"); err != nil || !found || !v {
		t.Errorf("bad GetBool: %t %t %v", v, found, err)
	}
	if _, found, _ := c.GetString("missing"); found {
		t.Errorf("unexpected key found")
	}
	toml := Config{"children": []map[string]interface{}{{"type": "ram"}, {"type": "disk"}}}
	children, err := toml.GetConfigs("children")
	if err != nil || len(children) != 2 {
		t.Fatalf("bad GetConfigs: %v %v", children, err)
	}
	if s, _, _ := children[1].GetString("type"); s != "disk" {
		t.Errorf("expected disk, got %q", s)
	}
}
