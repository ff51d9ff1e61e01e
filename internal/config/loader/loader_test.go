package loader

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/dshills/buildninja/internal/config/layer"
)

// MemFS is an in-memory file system for testing.
type MemFS struct {
	files map[string][]byte
}

func NewMemFS() *MemFS {
	return &MemFS{files: make(map[string][]byte)}
}

func (m *MemFS) AddFile(path string, content string) {
	m.files[path] = []byte(content)
}

func (m *MemFS) Open(name string) (fs.File, error) {
	return nil, fs.ErrNotExist
}

func (m *MemFS) ReadFile(path string) ([]byte, error) {
	data, ok := m.files[path]
	if !ok {
		return nil, fs.ErrNotExist
	}
	return data, nil
}

func (m *MemFS) Stat(path string) (fs.FileInfo, error) {
	if _, ok := m.files[path]; ok {
		return &memFileInfo{name: path}, nil
	}
	return nil, fs.ErrNotExist
}

type memFileInfo struct {
	name string
}

func (f *memFileInfo) Name() string       { return f.name }
func (f *memFileInfo) Size() int64        { return 0 }
func (f *memFileInfo) Mode() fs.FileMode  { return 0644 }
func (f *memFileInfo) ModTime() time.Time { return time.Now() }
func (f *memFileInfo) IsDir() bool        { return false }
func (f *memFileInfo) Sys() any           { return nil }

func TestTOMLLoader_Load(t *testing.T) {
	memfs := NewMemFS()
	memfs.AddFile("/project/.buildninja.toml", `
[ninja]
command = "/usr/local/bin/ninja"
subdirs = ["out/Debug", "out/Release"]

[log]
level = "debug"
`)

	config, err := NewTOMLLoaderWithFS(memfs, "/project/.buildninja.toml").Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if v, _ := layer.GetByPath(config, "ninja.command"); v != "/usr/local/bin/ninja" {
		t.Errorf("ninja.command = %v, want /usr/local/bin/ninja", v)
	}
	if v, _ := layer.GetByPath(config, "ninja.subdirs"); !reflect.DeepEqual(v, []any{"out/Debug", "out/Release"}) {
		t.Errorf("ninja.subdirs = %#v", v)
	}
	if v, _ := layer.GetByPath(config, "log.level"); v != "debug" {
		t.Errorf("log.level = %v, want debug", v)
	}
}

func TestTOMLLoader_LoadMissing(t *testing.T) {
	config, err := NewTOMLLoaderWithFS(NewMemFS(), "/nope.toml").Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if config != nil {
		t.Errorf("Load() = %v, want nil for missing file", config)
	}
}

func TestTOMLLoader_ParseError(t *testing.T) {
	memfs := NewMemFS()
	memfs.AddFile("/bad.toml", "[ninja\ncommand = ")

	_, err := NewTOMLLoaderWithFS(memfs, "/bad.toml").Load()
	if err == nil {
		t.Fatal("Load() expected error for invalid TOML")
	}

	var parseErr *ParseError
	if !errors.As(err, &parseErr) {
		t.Fatalf("expected *ParseError, got %T", err)
	}
	if parseErr.Path != "/bad.toml" {
		t.Errorf("ParseError.Path = %q, want /bad.toml", parseErr.Path)
	}
	if parseErr.Line == 0 {
		t.Error("ParseError.Line should be set for TOML decode errors")
	}
}

func TestJSONLoader_AtomKeys(t *testing.T) {
	memfs := NewMemFS()
	memfs.AddFile("/settings.json", `{
  "build-ninja": {
    "ninjaCommand": "ninja-1.11",
    "subdirs": ["out/gn", "out/cmake"]
  },
  "log": {"level": "warn"}
}`)

	config, err := NewJSONLoaderWithFS(memfs, "/settings.json").Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if v, _ := layer.GetByPath(config, "ninja.command"); v != "ninja-1.11" {
		t.Errorf("ninja.command = %v, want ninja-1.11", v)
	}
	if v, _ := layer.GetByPath(config, "ninja.subdirs"); !reflect.DeepEqual(v, []any{"out/gn", "out/cmake"}) {
		t.Errorf("ninja.subdirs = %#v", v)
	}
	if v, _ := layer.GetByPath(config, "log.level"); v != "warn" {
		t.Errorf("log.level = %v, want warn", v)
	}
	if _, ok := config["build-ninja"]; ok {
		t.Error("Atom package key should be translated, not kept")
	}
}

func TestJSONLoader_NativeKeys(t *testing.T) {
	memfs := NewMemFS()
	memfs.AddFile("/settings.json", `{"ninja": {"command": "samu", "subdirs": ["build"]}}`)

	config, err := NewJSONLoaderWithFS(memfs, "/settings.json").Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if v, _ := layer.GetByPath(config, "ninja.command"); v != "samu" {
		t.Errorf("ninja.command = %v, want samu", v)
	}
}

func TestJSONLoader_Invalid(t *testing.T) {
	memfs := NewMemFS()
	memfs.AddFile("/a.json", `{"ninja": `)
	memfs.AddFile("/b.json", `["not", "an", "object"]`)

	for _, path := range []string{"/a.json", "/b.json"} {
		_, err := NewJSONLoaderWithFS(memfs, path).Load()
		var parseErr *ParseError
		if !errors.As(err, &parseErr) {
			t.Errorf("Load(%s) error = %v, want *ParseError", path, err)
		}
	}
}

func TestSetValue_RoundTrip(t *testing.T) {
	dir := t.TempDir()

	for _, name := range []string{".buildninja.toml", ".buildninja.json"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, "sub", name)
			l := ForPath(path)

			if err := l.SetValue("ninja.command", "ninja-custom"); err != nil {
				t.Fatalf("SetValue(command) error = %v", err)
			}
			if err := l.SetValue("ninja.subdirs", []string{"out/a", "out/b"}); err != nil {
				t.Fatalf("SetValue(subdirs) error = %v", err)
			}

			if _, err := os.Stat(path); err != nil {
				t.Fatalf("config file not written: %v", err)
			}

			config, err := l.Load()
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			if v, _ := layer.GetByPath(config, "ninja.command"); v != "ninja-custom" {
				t.Errorf("ninja.command = %v, want ninja-custom", v)
			}
			if v, _ := layer.GetByPath(config, "ninja.subdirs"); !layer.ValuesEqual(v, []string{"out/a", "out/b"}) {
				t.Errorf("ninja.subdirs = %#v", v)
			}
		})
	}
}

func TestForPath(t *testing.T) {
	if _, ok := ForPath("/x/settings.JSON").(*JSONLoader); !ok {
		t.Error("ForPath(.JSON) should return a JSONLoader")
	}
	if _, ok := ForPath("/x/.buildninja.toml").(*TOMLLoader); !ok {
		t.Error("ForPath(.toml) should return a TOMLLoader")
	}
	if got := ForPath("/x/cfg").Path(); got != "/x/cfg" {
		t.Errorf("Path() = %q, want /x/cfg", got)
	}
}
