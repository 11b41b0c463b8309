// Package vfs implements the in-memory project tree that sessions edit.
// A Tree is a plain value with no locking; each session owns its own
// instance and all access goes through absolute, slash-delimited paths.
package vfs

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
)

const (
	TypeFile      = "file"
	TypeDirectory = "directory"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrTypeConflict = errors.New("type conflict")
	ErrInvalidPath  = errors.New("invalid path")
)

// Record is the serialized form of one tree node. Directory records carry
// no content.
type Record struct {
	Path    string `json:"path"`
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
}

// Entry describes one immediate child of a directory.
type Entry struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

type node struct {
	isDir    bool
	content  string
	children map[string]*node
}

func newDirNode() *node {
	return &node{isDir: true, children: map[string]*node{}}
}

// Tree is a rooted file hierarchy. The zero value is not usable; call New
// or Deserialize.
type Tree struct {
	root *node
}

func New() *Tree {
	return &Tree{root: newDirNode()}
}

// NormalizePath validates and cleans an absolute slash path. It rejects
// empty, relative and backslash paths; "/" is returned unchanged.
func NormalizePath(p string) (string, error) {
	if p == "" {
		return "", ErrInvalidPath
	}
	if strings.Contains(p, "\\") {
		return "", ErrInvalidPath
	}
	if !strings.HasPrefix(p, "/") {
		return "", ErrInvalidPath
	}
	clean := path.Clean(p)
	return clean, nil
}

func splitPath(clean string) []string {
	if clean == "/" {
		return nil
	}
	return strings.Split(strings.TrimPrefix(clean, "/"), "/")
}

// lookup returns the node at clean, or nil.
func (t *Tree) lookup(clean string) *node {
	cur := t.root
	for _, seg := range splitPath(clean) {
		if !cur.isDir {
			return nil
		}
		next, ok := cur.children[seg]
		if !ok {
			return nil
		}
		cur = next
	}
	return cur
}

// Get returns the content of the file at p.
func (t *Tree) Get(p string) (string, error) {
	clean, err := NormalizePath(p)
	if err != nil {
		return "", err
	}
	n := t.lookup(clean)
	if n == nil {
		return "", ErrNotFound
	}
	if n.isDir {
		return "", ErrTypeConflict
	}
	return n.content, nil
}

// IsFile reports whether a file exists at p. Invalid paths report false.
func (t *Tree) IsFile(p string) bool {
	clean, err := NormalizePath(p)
	if err != nil {
		return false
	}
	n := t.lookup(clean)
	return n != nil && !n.isDir
}

// IsDir reports whether a directory exists at p.
func (t *Tree) IsDir(p string) bool {
	clean, err := NormalizePath(p)
	if err != nil {
		return false
	}
	n := t.lookup(clean)
	return n != nil && n.isDir
}

// Set creates or overwrites the file at p, creating missing parent
// directories. It fails with ErrTypeConflict when a directory occupies p
// or a file occupies an ancestor of p, leaving the tree unchanged.
func (t *Tree) Set(p, content string) error {
	clean, err := NormalizePath(p)
	if err != nil {
		return err
	}
	if clean == "/" {
		return ErrInvalidPath
	}
	segs := splitPath(clean)
	cur := t.root
	for i, seg := range segs {
		last := i == len(segs)-1
		next, ok := cur.children[seg]
		if !ok {
			// Everything below here is fresh; no conflict can follow.
			if last {
				cur.children[seg] = &node{content: content}
				return nil
			}
			next = newDirNode()
			cur.children[seg] = next
			cur = next
			continue
		}
		if last {
			if next.isDir {
				return ErrTypeConflict
			}
			next.content = content
			return nil
		}
		if !next.isDir {
			return ErrTypeConflict
		}
		cur = next
	}
	return ErrInvalidPath
}

// Remove deletes the file or directory subtree at p. The root itself
// cannot be removed.
func (t *Tree) Remove(p string) error {
	clean, err := NormalizePath(p)
	if err != nil {
		return err
	}
	if clean == "/" {
		return ErrInvalidPath
	}
	segs := splitPath(clean)
	parent := t.root
	for _, seg := range segs[:len(segs)-1] {
		next, ok := parent.children[seg]
		if !ok || !next.isDir {
			return ErrNotFound
		}
		parent = next
	}
	name := segs[len(segs)-1]
	if _, ok := parent.children[name]; !ok {
		return ErrNotFound
	}
	delete(parent.children, name)
	return nil
}

// Rename moves the node at oldPath to newPath. A file may overwrite an
// existing file; every other collision is ErrTypeConflict. Moving a
// directory into its own subtree is invalid. On failure the tree is
// unchanged.
func (t *Tree) Rename(oldPath, newPath string) error {
	oldClean, err := NormalizePath(oldPath)
	if err != nil {
		return err
	}
	newClean, err := NormalizePath(newPath)
	if err != nil {
		return err
	}
	if oldClean == "/" || newClean == "/" {
		return ErrInvalidPath
	}
	src := t.lookup(oldClean)
	if src == nil {
		return ErrNotFound
	}
	if oldClean == newClean {
		return nil
	}
	if src.isDir && strings.HasPrefix(newClean+"/", oldClean+"/") {
		return ErrInvalidPath
	}
	// Validate the destination before touching anything.
	if dst := t.lookup(newClean); dst != nil {
		if src.isDir || dst.isDir {
			return ErrTypeConflict
		}
	}
	segs := splitPath(newClean)
	cur := t.root
	for _, seg := range segs[:len(segs)-1] {
		next, ok := cur.children[seg]
		if ok && !next.isDir {
			return ErrTypeConflict
		}
		if !ok {
			next = newDirNode()
			cur.children[seg] = next
		}
		cur = next
	}
	oldSegs := splitPath(oldClean)
	oldParent := t.lookup(path.Dir(oldClean))
	delete(oldParent.children, oldSegs[len(oldSegs)-1])
	cur.children[segs[len(segs)-1]] = src
	return nil
}

// List returns the immediate children of the directory at p, sorted by
// name.
func (t *Tree) List(p string) ([]Entry, error) {
	clean, err := NormalizePath(p)
	if err != nil {
		return nil, err
	}
	n := t.lookup(clean)
	if n == nil {
		return nil, ErrNotFound
	}
	if !n.isDir {
		return nil, ErrTypeConflict
	}
	entries := make([]Entry, 0, len(n.children))
	for name, child := range n.children {
		typ := TypeFile
		if child.isDir {
			typ = TypeDirectory
		}
		entries = append(entries, Entry{Name: name, Type: typ})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

// Serialize emits the canonical record sequence: depth first, parents
// before children, siblings in lexicographic order. The root directory is
// implicit and not emitted.
func (t *Tree) Serialize() []Record {
	records := []Record{}
	var walk func(prefix string, n *node)
	walk = func(prefix string, n *node) {
		names := make([]string, 0, len(n.children))
		for name := range n.children {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			child := n.children[name]
			childPath := prefix + "/" + name
			if child.isDir {
				records = append(records, Record{Path: childPath, Type: TypeDirectory})
				walk(childPath, child)
				continue
			}
			records = append(records, Record{Path: childPath, Type: TypeFile, Content: child.content})
		}
	}
	walk("", t.root)
	return records
}

// Deserialize builds a tree from records in any order. Serialize and
// Deserialize are exact inverses for trees produced by this package.
func Deserialize(records []Record) (*Tree, error) {
	t := New()
	for _, rec := range records {
		switch rec.Type {
		case TypeFile:
			if err := t.Set(rec.Path, rec.Content); err != nil {
				return nil, fmt.Errorf("record %q: %w", rec.Path, err)
			}
		case TypeDirectory:
			if err := t.ensureDir(rec.Path); err != nil {
				return nil, fmt.Errorf("record %q: %w", rec.Path, err)
			}
		default:
			return nil, fmt.Errorf("record %q: unknown type %q", rec.Path, rec.Type)
		}
	}
	return t, nil
}

func (t *Tree) ensureDir(p string) error {
	clean, err := NormalizePath(p)
	if err != nil {
		return err
	}
	cur := t.root
	for _, seg := range splitPath(clean) {
		next, ok := cur.children[seg]
		if !ok {
			next = newDirNode()
			cur.children[seg] = next
		}
		if !next.isDir {
			return ErrTypeConflict
		}
		cur = next
	}
	return nil
}

// Clone returns an independent deep copy.
func (t *Tree) Clone() *Tree {
	var copyNode func(n *node) *node
	copyNode = func(n *node) *node {
		if !n.isDir {
			return &node{content: n.content}
		}
		c := newDirNode()
		for name, child := range n.children {
			c.children[name] = copyNode(child)
		}
		return c
	}
	return &Tree{root: copyNode(t.root)}
}

// Hash returns a hex digest over the canonical serialization. Equal trees
// hash equal; any content or structure change produces a new digest.
func (t *Tree) Hash() string {
	h := sha256.New()
	for _, rec := range t.Serialize() {
		fmt.Fprintf(h, "%s\x00%s\x00%d\x00%s\x00", rec.Path, rec.Type, len(rec.Content), rec.Content)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// WalkFiles visits every file in canonical order.
func (t *Tree) WalkFiles(fn func(p, content string) error) error {
	for _, rec := range t.Serialize() {
		if rec.Type != TypeFile {
			continue
		}
		if err := fn(rec.Path, rec.Content); err != nil {
			return err
		}
	}
	return nil
}

// Counts reports the number of files and directories.
func (t *Tree) Counts() (files, dirs int) {
	for _, rec := range t.Serialize() {
		if rec.Type == TypeFile {
			files++
		} else {
			dirs++
		}
	}
	return files, dirs
}
