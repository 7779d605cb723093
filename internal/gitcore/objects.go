// Package gitcore implements the parsing and traversal cores shared by a Git
// toolchain: a pack stream parser and indexer, a multi-source tree walker
// with a dir-cache projection, and a merge-base generator. It treats the
// command-line front end, transport, and working-tree checkout as external
// collaborators and exposes only the object store contracts they need.
package gitcore

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strings"
)

// maxDecompressedSize caps the size of any single decompressed Git object
// read back from disk, independent of the stricter MaxObjectSize a
// PackParser may enforce while ingesting a new pack.
const maxDecompressedSize = 256 * 1024 * 1024 // 256MB

// readCompressedData reads and decompresses zlib-compressed data from r.
// Returns an error if the decompressed output exceeds maxDecompressedSize.
func readCompressedData(r io.Reader) ([]byte, error) {
	zr, err := zlibNewReader(r)
	if err != nil {
		return nil, wrapErr(KindCorruptObject, "failed to create zlib reader", err)
	}
	defer zr.Close() //nolint:errcheck // read-only reader close failure is not actionable here

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, io.LimitReader(zr, maxDecompressedSize+1)); err != nil {
		return nil, wrapErr(KindCorruptObject, "failed to decompress data", err)
	}
	if buf.Len() > maxDecompressedSize {
		return nil, newErr(KindTooLargeObject, fmt.Sprintf("decompressed object exceeds maximum allowed size (%d bytes)", maxDecompressedSize))
	}

	return buf.Bytes(), nil
}

// decodeObject parses the body of a loose or packed object of the given type
// into the matching concrete Object, stamping it with id.
func decodeObject(typ ObjectType, body []byte, id Hash) (Object, error) {
	switch typ {
	case CommitObject:
		return parseCommitBody(body, id)
	case TagObject:
		return parseTagBody(body, id)
	case TreeObject:
		return parseTreeBody(body, id)
	case BlobObject:
		return &Blob{Hash: id, Content: body}, nil
	default:
		return nil, newErr(KindCorruptObject, fmt.Sprintf("unsupported object type: %d", typ))
	}
}

// objectTypeFromHeader converts a loose object header ("commit 123") to an ObjectType.
func objectTypeFromHeader(header string) (ObjectType, error) {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 {
		return NoneObject, newErr(KindCorruptObject, fmt.Sprintf("invalid object header: %q", header))
	}
	typ := StrToObjectType(parts[0])
	if typ == NoneObject {
		return NoneObject, newErr(KindCorruptObject, fmt.Sprintf("unsupported object type: %s", parts[0]))
	}
	return typ, nil
}

// parseCommitBody parses the body of a commit object into a Commit struct.
func parseCommitBody(body []byte, id Hash) (*Commit, error) {
	commit := &Commit{Hash: id}
	scanner := bufio.NewScanner(bytes.NewReader(body))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	inMessage := false
	var messageLines []string

	for scanner.Scan() {
		line := scanner.Text()

		if inMessage {
			messageLines = append(messageLines, line)
			continue
		}
		if line == "" {
			inMessage = true
			continue
		}

		switch {
		case strings.HasPrefix(line, "parent "):
			parent, err := NewHash(strings.TrimPrefix(line, "parent "))
			if err != nil {
				return nil, wrapErr(KindCorruptObject, "invalid parent hash", err)
			}
			commit.Parents = append(commit.Parents, parent)
		case strings.HasPrefix(line, "tree "):
			tree, err := NewHash(strings.TrimPrefix(line, "tree "))
			if err != nil {
				return nil, wrapErr(KindCorruptObject, "invalid tree hash", err)
			}
			commit.Tree = tree
		case strings.HasPrefix(line, "author "):
			author, err := NewSignature(strings.TrimPrefix(line, "author "))
			if err != nil {
				return nil, wrapErr(KindCorruptObject, "invalid author signature", err)
			}
			commit.Author = author
		case strings.HasPrefix(line, "committer "):
			committer, err := NewSignature(strings.TrimPrefix(line, "committer "))
			if err != nil {
				return nil, wrapErr(KindCorruptObject, "invalid committer signature", err)
			}
			commit.Committer = committer
		}
	}

	commit.Message = strings.TrimSpace(strings.Join(messageLines, "\n"))
	return commit, nil
}

// parseTagBody parses the body of a tag object into a Tag struct.
func parseTagBody(body []byte, id Hash) (*Tag, error) {
	tag := &Tag{Hash: id}
	scanner := bufio.NewScanner(bytes.NewReader(body))
	inMessage := false
	var messageLines []string

	for scanner.Scan() {
		line := scanner.Text()

		if inMessage {
			messageLines = append(messageLines, line)
			continue
		}
		if line == "" {
			inMessage = true
			continue
		}

		switch {
		case strings.HasPrefix(line, "object "):
			objHash, err := NewHash(strings.TrimPrefix(line, "object "))
			if err != nil {
				return nil, wrapErr(KindCorruptObject, "invalid object hash", err)
			}
			tag.Object = objHash
		case strings.HasPrefix(line, "type "):
			tag.ObjType = StrToObjectType(strings.TrimPrefix(line, "type "))
		case strings.HasPrefix(line, "tag "):
			tag.Name = strings.TrimPrefix(line, "tag ")
		case strings.HasPrefix(line, "tagger "):
			tagger, err := NewSignature(strings.TrimPrefix(line, "tagger "))
			if err != nil {
				return nil, wrapErr(KindCorruptObject, "invalid tagger", err)
			}
			tag.Tagger = tagger
		}
	}

	tag.Message = strings.TrimSpace(strings.Join(messageLines, "\n"))
	return tag, nil
}

// parseTreeBody parses the body of a tree object into a Tree struct. Entries
// are returned in the order they appear on the wire, which for any tree
// written by Git is already sorted in Git path order (see pathLess).
func parseTreeBody(body []byte, id Hash) (*Tree, error) {
	tree := &Tree{Hash: id, Entries: make([]TreeEntry, 0)}
	reader := bytes.NewReader(body)

	for {
		var modeBuilder strings.Builder
		for {
			b, err := reader.ReadByte()
			if err == io.EOF {
				return tree, nil
			}
			if err != nil {
				return nil, wrapErr(KindCorruptObject, "failed to read tree entry mode", err)
			}
			if b == ' ' {
				break
			}
			modeBuilder.WriteByte(b)
		}
		mode := modeBuilder.String()

		var nameBuilder strings.Builder
		for {
			b, err := reader.ReadByte()
			if err != nil {
				return nil, wrapErr(KindCorruptObject, "failed to read tree entry name", err)
			}
			if b == 0 {
				break
			}
			nameBuilder.WriteByte(b)
		}
		name := nameBuilder.String()

		var hashBytes [20]byte
		if _, err := io.ReadFull(reader, hashBytes[:]); err != nil {
			return nil, wrapErr(KindCorruptObject, "failed to read tree entry hash", err)
		}
		hash, err := NewHashFromBytes(hashBytes)
		if err != nil {
			return nil, wrapErr(KindCorruptObject, "invalid hash in tree entry", err)
		}

		var entryType string
		switch {
		case strings.HasPrefix(mode, "100"):
			entryType = objectTypeBlob
		case mode == "040000" || mode == "40000":
			entryType = objectTypeTree
		case mode == "120000" || mode == "160000":
			entryType = "commit"
		default:
			entryType = "unknown"
		}

		tree.Entries = append(tree.Entries, TreeEntry{
			ID:   hash,
			Name: name,
			Mode: mode,
			Type: entryType,
		})
	}
}
