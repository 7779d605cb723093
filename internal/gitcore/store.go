package gitcore

import (
	"bufio"
	"bytes"
	"crypto/sha1" //nolint:gosec // Git object ids are SHA-1 by format definition
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/afero"
)

// ObjectReader is the collaborator the tree walker and merge-base generator
// read objects through. A Store satisfies it directly; callers that only
// need read access should depend on the interface, not *Store.
type ObjectReader interface {
	Open(id Hash, wantType ObjectType) (ObjectType, int64, io.ReadCloser, error)
	Has(id Hash) bool
	Abbreviate(id Hash, minLen int) (string, error)
	ParseAny(id Hash) (Object, error)
	Close() error
}

// ObjectInserter is the collaborator the pack parser publishes resolved
// objects through.
type ObjectInserter interface {
	NewPackParser(r io.Reader, cfg ParserConfig) (*PackParser, error)
	Insert(typ ObjectType, content io.Reader) (Hash, error)
	Flush() error
	Release() error
}

// Store is a filesystem-backed object store rooted at a Git directory: loose
// objects under objects/, packed objects indexed by the .idx files under
// objects/pack. It implements both ObjectReader and ObjectInserter.
type Store struct {
	fs     afero.Fs
	gitDir string
	logger *slog.Logger

	mu          sync.RWMutex
	packIndices []*PackIndex
	parsed      map[Hash]Object
}

// OpenStore opens the object store rooted at a Git directory, which may be
// the working directory, the .git directory itself, a bare repository, or
// any descendant of the working directory; discovery walks up to locate it.
func OpenStore(path string) (*Store, error) {
	return OpenStoreFS(afero.NewOsFs(), path)
}

// OpenStoreFS is OpenStore over an arbitrary filesystem, which is how tests
// run discovery against an in-memory tree.
func OpenStoreFS(fs afero.Fs, path string) (*Store, error) {
	gitDir, err := discoverGitDir(fs, path)
	if err != nil {
		return nil, err
	}
	if err := validateGitDir(fs, gitDir); err != nil {
		return nil, err
	}
	return openStoreAt(fs, gitDir)
}

func openStoreAt(fs afero.Fs, gitDir string) (*Store, error) {
	s := &Store{
		fs:     fs,
		gitDir: gitDir,
		logger: slog.Default(),
		parsed: make(map[Hash]Object),
	}
	if err := s.RescanPacks(); err != nil {
		return nil, err
	}
	return s, nil
}

// GitDir returns the .git directory this store is rooted at.
func (s *Store) GitDir() string { return s.gitDir }

// SetLogger replaces the logger used for non-fatal diagnostics (unreadable
// pack indices, watcher events). Passing nil restores the default logger.
func (s *Store) SetLogger(l *slog.Logger) {
	if l == nil {
		l = slog.Default()
	}
	s.logger = l
}

// PackDir returns the directory holding this store's pack and index files.
func (s *Store) PackDir() string {
	return filepath.Join(s.gitDir, "objects", "pack")
}

// RescanPacks re-reads the pack directory and swaps in the freshly loaded
// index set. Another process (a fetch, a gc) may publish or remove pack
// pairs at any time; readers holding the old slice finish against it, new
// lookups see the new one.
func (s *Store) RescanPacks() error {
	indices, err := scanPackIndices(s.PackDir(), func(format string, args ...any) {
		s.logger.Warn(fmt.Sprintf(format, args...))
	})
	if err != nil {
		return wrapErr(KindIO, "failed to scan pack indices", err)
	}
	s.mu.Lock()
	s.packIndices = indices
	s.mu.Unlock()
	return nil
}

// Has reports whether id resolves to an object, loose or packed.
func (s *Store) Has(id Hash) bool {
	if s.looseObjectPath(id) != "" {
		if _, err := s.fs.Stat(s.looseObjectPath(id)); err == nil {
			return true
		}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, idx := range s.packIndices {
		if _, ok := idx.FindObject(id); ok {
			return true
		}
	}
	return false
}

// Open returns the type, declared size, and a stream of the inflated content
// for id. If wantType is not NoneObject, a mismatch is reported as
// KindIncorrectObjectType rather than silently returning the wrong object.
func (s *Store) Open(id Hash, wantType ObjectType) (ObjectType, int64, io.ReadCloser, error) {
	typ, content, err := s.readRawObject(id)
	if err != nil {
		return NoneObject, 0, nil, err
	}
	if wantType != NoneObject && typ != wantType {
		return NoneObject, 0, nil, newErr(KindIncorrectObjectType, fmt.Sprintf("object %s is %s, not %s", id.Short(), typ, wantType))
	}
	return typ, int64(len(content)), io.NopCloser(bytes.NewReader(content)), nil
}

// Abbreviate returns the shortest prefix of id, at least minLen characters,
// that is unambiguous within this store's known objects. It only
// disambiguates against objects the store has already indexed or parsed;
// a fuller implementation would also scan loose object shards.
func (s *Store) Abbreviate(id Hash, minLen int) (string, error) {
	if minLen <= 0 || minLen > 40 {
		minLen = 7
	}
	full := string(id)
	for n := minLen; n < 40; n++ {
		prefix := full[:n]
		if s.countMatchingPrefix(prefix) <= 1 {
			return prefix, nil
		}
	}
	return full, nil
}

func (s *Store) countMatchingPrefix(prefix string) int {
	count := 0
	s.mu.RLock()
	for _, idx := range s.packIndices {
		for id := range idx.offsets {
			if strings.HasPrefix(string(id), prefix) {
				count++
			}
		}
	}
	s.mu.RUnlock()
	for id := range s.parsed {
		if strings.HasPrefix(string(id), prefix) {
			count++
		}
	}
	return count
}

// ParseAny resolves id to its concrete Object, parsing and caching it on
// first use. Subsequent calls for the same id return the cached value.
func (s *Store) ParseAny(id Hash) (Object, error) {
	s.mu.RLock()
	if obj, ok := s.parsed[id]; ok {
		s.mu.RUnlock()
		return obj, nil
	}
	s.mu.RUnlock()

	typ, content, err := s.readRawObject(id)
	if err != nil {
		return nil, err
	}
	obj, err := decodeObject(typ, content, id)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.parsed[id] = obj
	s.mu.Unlock()
	return obj, nil
}

// ParseCommit resolves id as a commit, lazily: unlike a full Repository
// preload, nothing beyond this single commit is touched.
func (s *Store) ParseCommit(id Hash) (*Commit, error) {
	obj, err := s.ParseAny(id)
	if err != nil {
		return nil, err
	}
	c, ok := obj.(*Commit)
	if !ok {
		return nil, newErr(KindIncorrectObjectType, fmt.Sprintf("object %s is not a commit", id.Short()))
	}
	return c, nil
}

// ParseTree resolves id as a tree.
func (s *Store) ParseTree(id Hash) (*Tree, error) {
	obj, err := s.ParseAny(id)
	if err != nil {
		return nil, err
	}
	t, ok := obj.(*Tree)
	if !ok {
		return nil, newErr(KindIncorrectObjectType, fmt.Sprintf("object %s is not a tree", id.Short()))
	}
	return t, nil
}

// Close releases any resources held open by the store. Store currently opens
// files per-operation, so there is nothing to release, but the method exists
// to satisfy ObjectReader and to give future buffering a place to land.
func (s *Store) Close() error { return nil }

// Insert computes the id of content under the given type, writes it as a
// loose object if not already present, and returns its id.
func (s *Store) Insert(typ ObjectType, content io.Reader) (Hash, error) {
	raw, err := io.ReadAll(content)
	if err != nil {
		return "", wrapErr(KindIO, "failed to read object content for insert", err)
	}

	header := fmt.Sprintf("%s %d\x00", typ, len(raw))
	h := sha1.New() //nolint:gosec // Git object ids are SHA-1 by format definition
	h.Write([]byte(header))
	h.Write(raw)
	id, err := NewHashFromBytes([20]byte(h.Sum(nil)))
	if err != nil {
		return "", err
	}

	if s.Has(id) {
		return id, nil
	}

	path := s.looseObjectPath(id)
	if err := s.fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", wrapErr(KindIO, "failed to create loose object directory", err)
	}

	f, err := s.fs.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return "", wrapErr(KindIO, "failed to create loose object file", err)
	}
	defer f.Close() //nolint:errcheck // best effort; write errors below are authoritative

	zw := zlibNewWriter(f)
	if _, err := zw.Write([]byte(header)); err != nil {
		return "", wrapErr(KindIO, "failed to write loose object header", err)
	}
	if _, err := zw.Write(raw); err != nil {
		return "", wrapErr(KindIO, "failed to write loose object content", err)
	}
	if err := zw.Close(); err != nil {
		return "", wrapErr(KindIO, "failed to flush loose object", err)
	}

	return id, nil
}

// Flush is a no-op for the loose-object insertion path: each Insert call is
// already durable once it returns. Pack-backed inserters would batch here.
func (s *Store) Flush() error { return nil }

// Release drops any in-memory parse cache. Safe to call multiple times.
func (s *Store) Release() error {
	s.mu.Lock()
	s.parsed = make(map[Hash]Object)
	s.mu.Unlock()
	return nil
}

// NewPackParser constructs a PackParser that will read a pack stream from r
// and, on success, publish its objects into this store.
func (s *Store) NewPackParser(r io.Reader, cfg ParserConfig) (*PackParser, error) {
	return newPackParser(r, cfg, s), nil
}

// readRawObject returns the type and inflated content of id, trying loose
// storage first (the common case for newly committed work) and falling
// back to the pack indices.
func (s *Store) readRawObject(id Hash) (ObjectType, []byte, error) {
	if path := s.looseObjectPath(id); path != "" {
		data, typ, err := s.readLooseObject(path)
		switch {
		case err == nil:
			return typ, data, nil
		case !os.IsNotExist(err):
			return NoneObject, nil, err
		}
	}

	data, typeByte, err := s.readPackedObject(id)
	if err != nil {
		return NoneObject, nil, err
	}
	return packByteToObjectType(typeByte), data, nil
}

func (s *Store) looseObjectPath(id Hash) string {
	str := string(id)
	if len(str) != 40 {
		return ""
	}
	return filepath.Join(s.gitDir, "objects", str[:2], str[2:])
}

func (s *Store) readLooseObject(path string) ([]byte, ObjectType, error) {
	f, err := s.fs.Open(path)
	if err != nil {
		return nil, NoneObject, err
	}
	defer f.Close() //nolint:errcheck // read-only descriptor

	raw, err := readCompressedData(f)
	if err != nil {
		return nil, NoneObject, err
	}

	nul := bytes.IndexByte(raw, 0)
	if nul < 0 {
		return nil, NoneObject, newErr(KindCorruptObject, "loose object missing header terminator")
	}
	typ, err := objectTypeFromHeader(string(raw[:nul]))
	if err != nil {
		return nil, NoneObject, err
	}
	return raw[nul+1:], typ, nil
}

// readPackedObject finds id in one of the known pack indices, opens the
// backing pack file, and reconstructs its content, resolving any delta
// chain through resolveForPacks.
func (s *Store) readPackedObject(id Hash) ([]byte, byte, error) {
	s.mu.RLock()
	indices := s.packIndices
	s.mu.RUnlock()

	for _, idx := range indices {
		offset, ok := idx.FindObject(id)
		if !ok {
			continue
		}
		f, err := s.fs.Open(idx.PackFile())
		if err != nil {
			return nil, 0, wrapErr(KindIO, "failed to open pack file", err)
		}
		defer f.Close() //nolint:errcheck // read-only descriptor

		rs, ok := f.(io.ReadSeeker)
		if !ok {
			return nil, 0, newErr(KindIO, "pack file does not support seeking")
		}
		if _, err := rs.Seek(offset, io.SeekStart); err != nil {
			return nil, 0, wrapErr(KindIO, "failed to seek to object offset", err)
		}
		return readPackObjectAt(rs, s.resolveForPacks)
	}

	return nil, 0, newErr(KindMissingObject, fmt.Sprintf("object %s not found", id.Short()))
}

// resolveForPacks is the ObjectResolver passed to pack object readers,
// letting a REF_DELTA reach across pack boundaries or into loose storage.
func (s *Store) resolveForPacks(id Hash) ([]byte, byte, error) {
	typ, data, err := s.readRawObject(id)
	if err != nil {
		return nil, 0, err
	}
	return data, objectTypeToPackByte(typ), nil
}

func packByteToObjectType(b byte) ObjectType {
	switch b {
	case packObjectCommit:
		return CommitObject
	case packObjectTree:
		return TreeObject
	case packObjectBlob:
		return BlobObject
	case packObjectTag:
		return TagObject
	default:
		return NoneObject
	}
}

func objectTypeToPackByte(t ObjectType) byte {
	switch t {
	case CommitObject:
		return packObjectCommit
	case TreeObject:
		return packObjectTree
	case BlobObject:
		return packObjectBlob
	case TagObject:
		return packObjectTag
	default:
		return 0
	}
}

// ResolveRef reads a single ref (branch, tag, or HEAD) to its commit hash,
// following symbolic refs and falling back to packed-refs.
func (s *Store) ResolveRef(name string) (Hash, error) {
	if name == "HEAD" {
		return s.resolveRefFile(filepath.Join(s.gitDir, "HEAD"))
	}
	for _, candidate := range []string{
		name,
		filepath.Join("refs", "heads", name),
		filepath.Join("refs", "tags", name),
	} {
		path := filepath.Join(s.gitDir, candidate)
		if _, err := s.fs.Stat(path); err == nil {
			return s.resolveRefFile(path)
		}
	}
	if hash, ok := s.lookupPackedRef(name); ok {
		return hash, nil
	}
	return "", newErr(KindMissingObject, fmt.Sprintf("unknown ref %q", name))
}

func (s *Store) resolveRefFile(path string) (Hash, error) {
	//nolint:gosec // G304: ref path is controlled by git repository structure
	content, err := afero.ReadFile(s.fs, path)
	if err != nil {
		return "", wrapErr(KindIO, "failed to read ref file", err)
	}
	line := strings.TrimSpace(string(content))
	if target, ok := strings.CutPrefix(line, "ref: "); ok {
		targetPath := filepath.Join(s.gitDir, target)
		if _, err := s.fs.Stat(targetPath); err == nil {
			return s.resolveRefFile(targetPath)
		}
		if hash, ok := s.lookupPackedRef(target); ok {
			return hash, nil
		}
		return "", newErr(KindMissingObject, fmt.Sprintf("symbolic ref %q has no target", target))
	}
	return NewHash(line)
}

func (s *Store) lookupPackedRef(name string) (Hash, bool) {
	f, err := s.fs.Open(filepath.Join(s.gitDir, "packed-refs"))
	if err != nil {
		return "", false
	}
	defer f.Close() //nolint:errcheck // read-only descriptor

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "^") {
			continue
		}
		parts := strings.Fields(line)
		if len(parts) != 2 {
			continue
		}
		if parts[1] == name || parts[1] == "refs/heads/"+name || parts[1] == "refs/tags/"+name {
			if hash, err := NewHash(parts[0]); err == nil {
				return hash, true
			}
		}
	}
	return "", false
}

// discoverGitDir resolves start to the git directory owning it. start may
// name the .git directory itself, a bare repository, the working-tree root,
// or any directory beneath the working tree; the search walks parents until
// it finds a .git entry. A .git regular file is followed as a
// "gitdir: <path>" pointer, the layout linked worktrees and submodules use.
func discoverGitDir(fs afero.Fs, start string) (string, error) {
	abs, err := filepath.Abs(start)
	if err != nil {
		return "", wrapErr(KindIO, "failed to resolve path", err)
	}

	if filepath.Base(abs) == ".git" && dirExists(fs, abs) {
		return abs, nil
	}
	// A bare repository holds the git internals directly, with no .git
	// entry between them and the starting path.
	if hasGitLayout(fs, abs) && !entryExists(fs, filepath.Join(abs, ".git")) {
		return abs, nil
	}

	for dir := abs; ; dir = filepath.Dir(dir) {
		dotGit := filepath.Join(dir, ".git")
		if fi, err := fs.Stat(dotGit); err == nil {
			if fi.IsDir() {
				return dotGit, nil
			}
			return readGitFilePointer(fs, dotGit)
		}
		if filepath.Dir(dir) == dir {
			return "", newErr(KindMissingObject, fmt.Sprintf("not a git repository (or any parent up to mount point): %s", start))
		}
	}
}

// readGitFilePointer follows a .git file of the form "gitdir: <path>",
// resolving a relative target against the file's own directory.
func readGitFilePointer(fs afero.Fs, gitFile string) (string, error) {
	content, err := afero.ReadFile(fs, gitFile)
	if err != nil {
		return "", wrapErr(KindIO, "failed to read .git file", err)
	}

	target, ok := strings.CutPrefix(strings.TrimSpace(string(content)), "gitdir: ")
	if !ok {
		return "", newErr(KindCorruptObject, fmt.Sprintf("invalid .git file format: %s", gitFile))
	}
	if !filepath.IsAbs(target) {
		target = filepath.Join(filepath.Dir(gitFile), target)
	}
	target = filepath.Clean(target)

	if !dirExists(fs, target) {
		return "", newErr(KindMissingObject, fmt.Sprintf("gitdir points to non-existent directory: %s", target))
	}
	return target, nil
}

// validateGitDir confirms gitDir is a directory carrying the expected Git
// internals, naming the first missing piece.
func validateGitDir(fs afero.Fs, gitDir string) error {
	fi, err := fs.Stat(gitDir)
	if err != nil {
		return wrapErr(KindMissingObject, "git directory does not exist", err)
	}
	if !fi.IsDir() {
		return newErr(KindUnexpectedInput, fmt.Sprintf("git path is not a directory: %s", gitDir))
	}
	for _, required := range []string{"objects", "refs", "HEAD"} {
		if !entryExists(fs, filepath.Join(gitDir, required)) {
			return newErr(KindMissingObject, fmt.Sprintf("invalid git repository, missing: %s", required))
		}
	}
	return nil
}

func hasGitLayout(fs afero.Fs, dir string) bool {
	for _, name := range []string{"objects", "refs", "HEAD"} {
		if !entryExists(fs, filepath.Join(dir, name)) {
			return false
		}
	}
	return true
}

func entryExists(fs afero.Fs, path string) bool {
	_, err := fs.Stat(path)
	return err == nil
}

func dirExists(fs afero.Fs, path string) bool {
	fi, err := fs.Stat(path)
	return err == nil && fi.IsDir()
}
