package loader

import (
	"errors"
	"fmt"
	"os"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/dshills/buildninja/internal/config/layer"
)

// atomPackage is the top-level key the Atom build-ninja package stores its settings under.
const atomPackage = "build-ninja"

// atomAliases maps Atom build-ninja setting paths to native keys.
var atomAliases = map[string]string{
	atomPackage + ".ninjaCommand": "ninja.command",
	atomPackage + ".subdirs":      "ninja.subdirs",
}

// JSONLoader loads configuration from JSON files.
type JSONLoader struct {
	fs   FileSystem
	path string
}

// NewJSONLoader creates a new JSON loader for the given path.
func NewJSONLoader(path string) *JSONLoader {
	return NewJSONLoaderWithFS(DefaultFS(), path)
}

// NewJSONLoaderWithFS creates a JSON loader with a custom file system.
func NewJSONLoaderWithFS(fs FileSystem, path string) *JSONLoader {
	return &JSONLoader{
		fs:   fs,
		path: path,
	}
}

// Path returns the configured file path.
func (l *JSONLoader) Path() string {
	return l.path
}

// Load reads configuration from the configured path.
func (l *JSONLoader) Load() (map[string]any, error) {
	data, err := l.fs.ReadFile(l.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading config file %s: %w", l.path, err)
	}

	return l.parse(l.path, data)
}

func (l *JSONLoader) parse(source string, data []byte) (map[string]any, error) {
	if !gjson.ValidBytes(data) {
		return nil, &ParseError{Path: source, Message: "invalid JSON"}
	}

	root := gjson.ParseBytes(data)
	if !root.IsObject() {
		return nil, &ParseError{Path: source, Message: "top-level value must be an object"}
	}

	config, _ := root.Value().(map[string]any)
	if config == nil {
		config = make(map[string]any)
	}

	for alias, key := range atomAliases {
		res := root.Get(alias)
		if !res.Exists() {
			continue
		}
		layer.SetByPath(config, key, jsonValue(res))
	}
	delete(config, atomPackage)

	return config, nil
}

// jsonValue converts a gjson result into the value types the TOML loader produces.
func jsonValue(res gjson.Result) any {
	if res.IsArray() {
		items := res.Array()
		out := make([]any, len(items))
		for i, item := range items {
			out[i] = jsonValue(item)
		}
		return out
	}
	return res.Value()
}

// SetValue stores value at key, keeping the rest of the document intact.
func (l *JSONLoader) SetValue(key string, value any) error {
	data, err := l.fs.ReadFile(l.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("reading config file %s: %w", l.path, err)
		}
		data = []byte("{}")
	}

	out, err := sjson.SetBytes(data, key, value)
	if err != nil {
		return fmt.Errorf("updating %s in %s: %w", key, l.path, err)
	}
	return writeFile(l.path, out)
}
