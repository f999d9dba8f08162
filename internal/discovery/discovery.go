// Package discovery loads the unit list the coordinator distributes. The
// actual enumeration of test classes happens outside this process: either a
// manifest file produced ahead of time, or an external command that emits the
// same shape as JSON. A failure here is the run's single discovery-failure
// signal, not something to retry.
package discovery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"

	"gopkg.in/yaml.v3"

	"github.com/me/classq/pkg/model"
)

// Manifest is the on-disk unit list.
type Manifest struct {
	Classes []ClassSpec `yaml:"classes" json:"classes"`
}

// ClassSpec describes one test class in a manifest.
type ClassSpec struct {
	ClassPath      string   `yaml:"class_path" json:"class_path"`
	Methods        []string `yaml:"methods" json:"methods"`
	FixtureMethods []string `yaml:"fixture_methods,omitempty" json:"fixture_methods,omitempty"`
}

// LoadManifest reads a YAML manifest and returns the items to enqueue.
func LoadManifest(path string) ([]*model.Item, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest %s: %w", path, err)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	return m.items()
}

// RunCommand executes an external discovery command and parses its stdout as
// a JSON manifest. A nonzero exit or malformed output is a discovery failure.
func RunCommand(ctx context.Context, name string, args ...string) ([]*model.Item, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("discovery command %s: %w (stderr: %s)", name, err, stderr.String())
	}

	var m Manifest
	if err := json.Unmarshal(stdout.Bytes(), &m); err != nil {
		return nil, fmt.Errorf("parse discovery output of %s: %w", name, err)
	}
	return m.items()
}

func (m Manifest) items() ([]*model.Item, error) {
	if len(m.Classes) == 0 {
		return nil, fmt.Errorf("manifest lists no classes")
	}

	items := make([]*model.Item, 0, len(m.Classes))
	for i, c := range m.Classes {
		if c.ClassPath == "" {
			return nil, fmt.Errorf("class %d: class_path is empty", i)
		}
		if len(c.Methods) == 0 {
			return nil, fmt.Errorf("class %s: methods is empty", c.ClassPath)
		}
		items = append(items, &model.Item{
			ClassPath:      c.ClassPath,
			Methods:        c.Methods,
			FixtureMethods: c.FixtureMethods,
		})
	}
	return items, nil
}
