package layer

import (
	"reflect"
	"testing"
)

func TestManager_AddLayer(t *testing.T) {
	m := NewManager()

	m.AddLayer(NewLayerWithData("workspace", SourceWorkspace, PriorityWorkspace, map[string]any{"w": 1, "all": "workspace"}))
	m.AddLayer(NewLayerWithData("defaults", SourceBuiltin, PriorityBuiltin, map[string]any{"d": 1, "all": "defaults", "du": "defaults"}))
	m.AddLayer(NewLayerWithData("user", SourceUserGlobal, PriorityUserGlobal, map[string]any{"all": "user", "du": "user"}))

	tests := []struct {
		path  string
		layer string
	}{
		{"all", "workspace"},
		{"du", "user"},
		{"d", "defaults"},
		{"w", "workspace"},
		{"missing", ""},
	}
	for _, tt := range tests {
		if got := m.WhichLayer(tt.path); got != tt.layer {
			t.Errorf("WhichLayer(%q) = %q, want %q", tt.path, got, tt.layer)
		}
	}
	if got := m.Merge()["all"]; got != "workspace" {
		t.Errorf("Merge()[all] = %v, want workspace", got)
	}
}

func TestManager_AddLayerReplacesSameName(t *testing.T) {
	m := NewManager()
	m.AddLayer(NewLayerWithData("user", SourceUserGlobal, PriorityUserGlobal, map[string]any{"a": 1}))
	m.AddLayer(NewLayerWithData("user", SourceUserGlobal, PriorityUserGlobal, map[string]any{"a": 2}))

	if v, _, _ := m.Get("a"); v != 2 {
		t.Errorf("Get(a) = %v, want 2", v)
	}
}

func TestManager_MergePriority(t *testing.T) {
	m := NewManager()
	m.AddLayer(NewLayerWithData("defaults", SourceBuiltin, PriorityBuiltin, map[string]any{
		"ninja": map[string]any{"command": "ninja", "subdirs": []any{"src/out/Debug"}},
	}))
	m.AddLayer(NewLayerWithData("workspace", SourceWorkspace, PriorityWorkspace, map[string]any{
		"ninja": map[string]any{"command": "/opt/ninja"},
	}))

	merged := m.Merge()
	if v, _ := GetByPath(merged, "ninja.command"); v != "/opt/ninja" {
		t.Errorf("ninja.command = %v, want /opt/ninja", v)
	}
	if v, _ := GetByPath(merged, "ninja.subdirs"); !reflect.DeepEqual(v, []any{"src/out/Debug"}) {
		t.Errorf("ninja.subdirs = %v, want [src/out/Debug]", v)
	}

	if got := m.WhichLayer("ninja.command"); got != "workspace" {
		t.Errorf("WhichLayer(ninja.command) = %q, want workspace", got)
	}
	if got := m.WhichLayer("ninja.subdirs"); got != "defaults" {
		t.Errorf("WhichLayer(ninja.subdirs) = %q, want defaults", got)
	}
}

func TestManager_MergeReturnsCopy(t *testing.T) {
	m := NewManager()
	m.AddLayer(NewLayerWithData("defaults", SourceBuiltin, PriorityBuiltin, map[string]any{
		"ninja": map[string]any{"command": "ninja"},
	}))

	merged := m.Merge()
	SetByPath(merged, "ninja.command", "changed")

	if v, _ := GetByPath(m.Merge(), "ninja.command"); v != "ninja" {
		t.Errorf("mutating Merge() result leaked into manager: %v", v)
	}
}

func TestManager_SetAndUpdate(t *testing.T) {
	m := NewManager()
	m.AddLayer(NewLayer("arguments", SourceArgs, PriorityArgs))

	ro := NewLayer("locked", SourceBuiltin, PriorityBuiltin)
	ro.ReadOnly = true
	m.AddLayer(ro)

	if err := m.Set("arguments", "ninja.command", "ninja-1.11"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if v, _, _ := m.Get("ninja.command"); v != "ninja-1.11" {
		t.Errorf("Get() = %v, want ninja-1.11", v)
	}

	if err := m.Set("missing", "a", 1); err == nil {
		t.Error("Set() on missing layer should fail")
	}
	if err := m.Set("locked", "a", 1); err == nil {
		t.Error("Set() on read-only layer should fail")
	}
}

func TestDiffMaps(t *testing.T) {
	old := map[string]any{
		"ninja": map[string]any{"command": "ninja", "subdirs": []any{"a"}},
		"log":   map[string]any{"level": "info"},
	}
	new := map[string]any{
		"ninja": map[string]any{"command": "ninja", "subdirs": []string{"a", "b"}},
		"extra": true,
	}

	added, modified, removed := DiffMaps(old, new)

	if !reflect.DeepEqual(added, []string{"extra"}) {
		t.Errorf("added = %v, want [extra]", added)
	}
	if !reflect.DeepEqual(modified, []string{"ninja.subdirs"}) {
		t.Errorf("modified = %v, want [ninja.subdirs]", modified)
	}
	if !reflect.DeepEqual(removed, []string{"log.level"}) {
		t.Errorf("removed = %v, want [log.level]", removed)
	}
}

func TestDiffMaps_TableReplaced(t *testing.T) {
	table := map[string]any{
		"ninja": map[string]any{"command": "ninja", "subdirs": []any{"a"}},
	}
	scalar := map[string]any{"ninja": "x"}

	added, modified, removed := DiffMaps(table, scalar)
	if len(added) != 0 || len(removed) != 0 || !reflect.DeepEqual(modified, []string{"ninja"}) {
		t.Errorf("table to scalar: added = %v, modified = %v, removed = %v, want only modified [ninja]", added, modified, removed)
	}

	added, modified, removed = DiffMaps(scalar, table)
	if len(added) != 0 || len(removed) != 0 || !reflect.DeepEqual(modified, []string{"ninja"}) {
		t.Errorf("scalar to table: added = %v, modified = %v, removed = %v, want only modified [ninja]", added, modified, removed)
	}
}

func TestValuesEqual(t *testing.T) {
	tests := []struct {
		name string
		a, b any
		want bool
	}{
		{"nil nil", nil, nil, true},
		{"nil value", nil, "x", false},
		{"strings", "ninja", "ninja", true},
		{"different strings", "ninja", "samu", false},
		{"string slice vs any slice", []string{"a", "b"}, []any{"a", "b"}, true},
		{"slice length", []string{"a"}, []any{"a", "b"}, false},
		{"slice vs scalar", []any{"a"}, "a", false},
		{"maps", map[string]any{"k": "v"}, map[string]any{"k": "v"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ValuesEqual(tt.a, tt.b); got != tt.want {
				t.Errorf("ValuesEqual(%v, %v) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestSource_String(t *testing.T) {
	if SourceWorkspace.String() != "workspace" {
		t.Errorf("SourceWorkspace.String() = %q", SourceWorkspace.String())
	}
	if DefaultPriority(SourceArgs) != PriorityArgs {
		t.Errorf("DefaultPriority(SourceArgs) = %d, want %d", DefaultPriority(SourceArgs), PriorityArgs)
	}
}
