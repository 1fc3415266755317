package capture

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// NamingOptions describes how capture files are named on storage:
// <Prefix><class>[-<sequence>]<Extension>, e.g. "tag3-2.nfc".
type NamingOptions struct {
	Prefix    string
	Extension string
}

// DefaultNaming matches the files written by the acquisition flowgraph.
func DefaultNaming() NamingOptions {
	return NamingOptions{Prefix: "tag", Extension: ".nfc"}
}

// File is one capture file and what its name says about it.
type File struct {
	Path     string
	Name     string
	Class    int
	Sequence int
}

// Group is the ordered list of files that form one logical capture of a
// requested class.
type Group struct {
	Class int
	Files []File
}

// Paths returns the group's file paths in concatenation order.
func (g Group) Paths() []string {
	paths := make([]string, len(g.Files))
	for i, f := range g.Files {
		paths[i] = f.Path
	}
	return paths
}

// DiscoveryError reports a requested class with no matching capture file.
type DiscoveryError struct {
	Root  string
	Class int
}

func (e *DiscoveryError) Error() string {
	return fmt.Sprintf("no capture files for class %d in %s", e.Class, e.Root)
}

func (o NamingOptions) pattern() (*regexp.Regexp, error) {
	expr := "^" + regexp.QuoteMeta(o.Prefix) + `(\d+)(?:-(\d+))?` + regexp.QuoteMeta(o.Extension) + "$"
	return regexp.Compile(expr)
}

// ParseName extracts the class and sequence index from a capture file name.
// Files without a "-N" suffix have sequence index 0.
func (o NamingOptions) ParseName(name string) (class, sequence int, ok bool) {
	re, err := o.pattern()
	if err != nil {
		return 0, 0, false
	}
	return parseWith(re, name)
}

func parseWith(re *regexp.Regexp, name string) (class, sequence int, ok bool) {
	match := re.FindStringSubmatch(name)
	if match == nil {
		return 0, 0, false
	}
	class, err := strconv.Atoi(match[1])
	if err != nil {
		return 0, 0, false
	}
	if match[2] != "" {
		sequence, err = strconv.Atoi(match[2])
		if err != nil {
			return 0, 0, false
		}
	}
	return class, sequence, true
}

// Discover lists root and returns one Group per requested class, in the order
// the classes were requested. Within a group, files are ordered by numeric
// sequence index and then by name; directory listing order is never used.
func Discover(root string, classes []int, opts NamingOptions) ([]Group, error) {
	re, err := opts.pattern()
	if err != nil {
		return nil, fmt.Errorf("invalid naming options: %w", err)
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("list capture store %s: %w", root, err)
	}

	byClass := make(map[int][]File)
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		class, sequence, ok := parseWith(re, entry.Name())
		if !ok {
			continue
		}
		byClass[class] = append(byClass[class], File{
			Path:     filepath.Join(root, entry.Name()),
			Name:     entry.Name(),
			Class:    class,
			Sequence: sequence,
		})
	}

	groups := make([]Group, 0, len(classes))
	for _, class := range classes {
		files := byClass[class]
		if len(files) == 0 {
			return nil, &DiscoveryError{Root: root, Class: class}
		}
		sorted := make([]File, len(files))
		copy(sorted, files)
		sort.Slice(sorted, func(i, j int) bool {
			if sorted[i].Sequence != sorted[j].Sequence {
				return sorted[i].Sequence < sorted[j].Sequence
			}
			return sorted[i].Name < sorted[j].Name
		})
		groups = append(groups, Group{Class: class, Files: sorted})
	}

	return groups, nil
}
