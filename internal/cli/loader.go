package cli

import (
	"path/filepath"
	"strings"

	"github.com/andrew-r-thomas/mqttest"
	"github.com/andrew-r-thomas/mqttest/peer"
	"github.com/andrew-r-thomas/mqttest/suite"
)

// loadFiles reads every suite file into one tree, one suite per file named
// after it. url is the outermost default for tests and peers.
func loadFiles(paths []string, url string) (suite.Tree, []*peer.Publisher, error) {
	tree := suite.Tree{}
	if url != "" {
		tree.Defaults.URL = mqttest.Value(url)
	}

	var peers []*peer.Publisher
	for _, path := range paths {
		f, err := suite.Load(path)
		if err != nil {
			return suite.Tree{}, nil, WrapExitError(ExitCommandError, "invalid suite", err)
		}
		tree.Suites = append(tree.Suites, suite.Suite{Name: suiteName(path), Tests: &f.Tree})
		for _, p := range f.Peers {
			if p.URL == "" {
				p.URL = url
			}
			peers = append(peers, p)
		}
	}
	return tree, peers, nil
}

func suiteName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
