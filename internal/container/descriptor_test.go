package container

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/tangzhangming/timeshift/internal/flowgraph"
)

// TestDescribeCached 测试描述符按类型身份缓存
func TestDescribeCached(t *testing.T) {
	s := flowgraph.NewStruct("S", flowgraph.Field{Name: "a", Type: flowgraph.Int})
	d1 := Describe(s)
	d2 := Describe(s)
	if d1 != d2 {
		t.Error("Describe should return the cached descriptor")
	}

	same := flowgraph.NewStruct("S", flowgraph.Field{Name: "a", Type: flowgraph.Int})
	if Describe(same) == d1 {
		t.Error("structurally equal but distinct types must get distinct descriptors")
	}

	if Describe(flowgraph.Int) != nil {
		t.Error("scalar types have no descriptor")
	}
}

// TestDescribeNested 测试嵌套结构
func TestDescribeNested(t *testing.T) {
	inner := flowgraph.NewStruct("Inner", flowgraph.Field{Name: "x", Type: flowgraph.Int})
	outer := flowgraph.NewStruct("Outer",
		flowgraph.Field{Name: "in", Type: inner},
		flowgraph.Field{Name: "y", Type: flowgraph.Bool},
	)

	d := Describe(outer)
	if d.Kind != Struct {
		t.Fatalf("expected struct, got %s", d.Kind)
	}

	var names []string
	var nested []bool
	for _, f := range d.Fields {
		names = append(names, f.Name)
		nested = append(nested, f.IsNested())
	}
	if diff := cmp.Diff([]string{"in", "y"}, names); diff != "" {
		t.Errorf("field names mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]bool{true, false}, nested); diff != "" {
		t.Errorf("nested flags mismatch (-want +got):\n%s", diff)
	}
	if d.Fields[0].Nested != Describe(inner) {
		t.Error("nested descriptor should be the cached descriptor of the inner type")
	}
}

// TestDescribeArray 测试数组描述符
func TestDescribeArray(t *testing.T) {
	arr := flowgraph.NewArray(flowgraph.Int, 4)
	d := Describe(arr)
	if d.Kind != Array || d.Length != 4 || d.NumSlots() != 4 {
		t.Fatalf("unexpected array descriptor: %+v", d)
	}
	if d.Item.Type != flowgraph.Int || d.SlotType(3) != flowgraph.Int {
		t.Error("array item type should be int")
	}

	u := flowgraph.NewUnion("U",
		flowgraph.Field{Name: "i", Type: flowgraph.Int},
		flowgraph.Field{Name: "f", Type: flowgraph.Float},
	)
	if Describe(u).Kind != Union {
		t.Error("expected union descriptor")
	}
}
