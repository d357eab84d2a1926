// Package catalog discovers runnable test files under a configured
// directory so operators can pick targets without shell access to the host.
package catalog

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Test is one discovered test file. Platform is the first directory
// component under the root ("android/test_login.sh" -> "android"); files
// directly under the root report "common".
type Test struct {
	Name     string `json:"name"`
	Path     string `json:"path"`
	Platform string `json:"platform"`
}

// Discover walks root and returns every file whose base name starts with
// "test_" or whose stem ends with "_test", sorted by path. An empty or
// missing root yields an empty catalog rather than an error so a daemon
// without a tests directory still serves the endpoint.
func Discover(root string) ([]Test, error) {
	if root == "" {
		return nil, nil
	}
	if _, err := os.Stat(root); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var tests []Test
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !isTestFile(d.Name()) {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		platform := "common"
		if i := strings.IndexByte(rel, '/'); i >= 0 {
			platform = rel[:i]
		}
		tests = append(tests, Test{Name: stem(d.Name()), Path: rel, Platform: platform})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(tests, func(i, j int) bool { return tests[i].Path < tests[j].Path })
	return tests, nil
}

func isTestFile(name string) bool {
	return strings.HasPrefix(name, "test_") || strings.HasSuffix(stem(name), "_test")
}

// stem strips the file extension, "test_login.sh" -> "test_login".
func stem(name string) string {
	return strings.TrimSuffix(name, filepath.Ext(name))
}
