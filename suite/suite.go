// Package suite turns a tree of named suites and test definitions into
// runnable tests, either as a flat ordered list or as Go subtests.
package suite

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/andrew-r-thomas/mqttest"
)

// Tree holds either named suites or a flat list of definitions. Defaults
// is merged under every definition below it; nested defaults win over
// outer ones.
type Tree struct {
	Defaults mqttest.Definition
	Suites   []Suite
	Tests    []mqttest.Definition
}

// Suite is a named subtree. A suite without Tests is a definition error.
type Suite struct {
	Name  string
	Tests *Tree
}

type Test struct {
	Path       []string
	Definition mqttest.Definition
	Config     mqttest.Config
}

func (t Test) Name() string {
	return strings.Join(t.Path, "/")
}

// Run executes the test on its own connection.
func (t Test) Run(ctx context.Context) (mqttest.Result, error) {
	return mqttest.Run(ctx, t.Config, t.Definition)
}

// Flatten returns one test per leaf definition, depth first in declaration
// order. It fails before anything connects if the tree is malformed.
func Flatten(cfg mqttest.Config, tree Tree) ([]Test, error) {
	var tests []Test
	err := walk(tree, mqttest.Definition{}, nil, func(path []string, def mqttest.Definition) {
		tests = append(tests, Test{Path: path, Definition: def, Config: cfg})
	})
	if err != nil {
		return nil, err
	}
	return tests, nil
}

func walk(tree Tree, defaults mqttest.Definition, path []string, visit func([]string, mqttest.Definition)) error {
	if len(tree.Suites) > 0 && len(tree.Tests) > 0 {
		return errors.Wrapf(mqttest.ErrInvalidDefinition,
			"%q mixes named suites and a test list", strings.Join(path, "/"))
	}
	defaults = merge(defaults, tree.Defaults)

	for i, def := range tree.Tests {
		tp := appendPath(path, testName(def, i))
		def = merge(defaults, def)
		def.Name = strings.Join(tp, "/")
		visit(tp, def)
	}
	for _, s := range tree.Suites {
		sp := appendPath(path, s.Name)
		if s.Tests == nil {
			return errors.Wrapf(mqttest.ErrInvalidDefinition, "suite %q has no tests", strings.Join(sp, "/"))
		}
		if err := walk(*s.Tests, defaults, sp, visit); err != nil {
			return err
		}
	}
	return nil
}

// merge is Definition.Merge keeping the steps of over.
func merge(base, over mqttest.Definition) mqttest.Definition {
	out := base.Merge(over)
	out.Steps = over.Steps
	return out
}

func testName(def mqttest.Definition, i int) string {
	if def.Name != "" {
		return def.Name
	}
	return fmt.Sprintf("test %d", i+1)
}

func appendPath(path []string, name string) []string {
	return append(path[:len(path):len(path)], name)
}

// Run binds tree to Go subtests: one t.Run per suite, one per test. A
// failing definition fails its subtest whether or not it has an Error
// callback.
func Run(t *testing.T, cfg mqttest.Config, tree Tree) {
	t.Helper()
	if _, err := Flatten(cfg, tree); err != nil {
		t.Fatal(err)
	}
	runTree(t, cfg, tree, mqttest.Definition{})
}

func runTree(t *testing.T, cfg mqttest.Config, tree Tree, defaults mqttest.Definition) {
	defaults = merge(defaults, tree.Defaults)
	for i, def := range tree.Tests {
		name := testName(def, i)
		def = merge(defaults, def)
		def.Name = t.Name() + "/" + name
		t.Run(name, func(t *testing.T) {
			log := zerolog.New(zerolog.NewTestWriter(t)).Level(zerolog.DebugLevel)
			ctx := log.WithContext(context.Background())
			if _, err := mqttest.Run(ctx, cfg, def); err != nil {
				t.Errorf("%s: %v", mqttest.ErrorKind(err), err)
			}
		})
	}
	for _, s := range tree.Suites {
		t.Run(s.Name, func(t *testing.T) {
			runTree(t, cfg, *s.Tests, defaults)
		})
	}
}
