package store

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"sort"

	"github.com/minio/sha256-simd"
)

const (
	blobType = "blob"
	treeType = "tree"

	fileMode = fs.FileMode(0644)
	dirMode  = fs.ModeDir | 0755
)

var errBadObject = errors.New("store: malformed object")

// treeEntry is one link inside a tree object.
type treeEntry struct {
	Name string
	Mode fs.FileMode
	Hash [32]byte
}

func hashObject(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

func parseHash(id string) ([32]byte, error) {
	var h [32]byte
	raw, err := hex.DecodeString(id)
	if err != nil || len(raw) != len(h) {
		return h, fmt.Errorf("invalid object id %q", id)
	}
	copy(h[:], raw)
	return h, nil
}

// encodeBlob frames content as "blob <size>\0<content>".
func encodeBlob(content []byte) []byte {
	header := fmt.Sprintf("%s %d\x00", blobType, len(content))
	buf := make([]byte, 0, len(header)+len(content))
	buf = append(buf, header...)
	return append(buf, content...)
}

// encodeTree frames entries as "tree <size>\0<entries>". Entries are sorted
// by name and written as {mode:4}{hash:32}{nameLen:2}{name}.
func encodeTree(entries []treeEntry) []byte {
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })

	var body bytes.Buffer
	for _, e := range entries {
		_ = binary.Write(&body, binary.BigEndian, uint32(e.Mode))
		body.Write(e.Hash[:])
		_ = binary.Write(&body, binary.BigEndian, uint16(len(e.Name)))
		body.WriteString(e.Name)
	}

	header := fmt.Sprintf("%s %d\x00", treeType, body.Len())
	buf := make([]byte, 0, len(header)+body.Len())
	buf = append(buf, header...)
	return append(buf, body.Bytes()...)
}

// splitObject returns the object type and its payload.
func splitObject(data []byte) (string, []byte, error) {
	idx := bytes.IndexByte(data, 0)
	if idx == -1 {
		return "", nil, fmt.Errorf("%w: missing header terminator", errBadObject)
	}

	var (
		kind string
		size int
	)
	if _, err := fmt.Sscanf(string(data[:idx]), "%s %d", &kind, &size); err != nil {
		return "", nil, fmt.Errorf("%w: header: %v", errBadObject, err)
	}

	payload := data[idx+1:]
	if size != len(payload) {
		return "", nil, fmt.Errorf("%w: size %d, payload %d", errBadObject, size, len(payload))
	}
	if kind != blobType && kind != treeType {
		return "", nil, fmt.Errorf("%w: unknown type %q", errBadObject, kind)
	}
	return kind, payload, nil
}

func decodeTree(payload []byte) ([]treeEntry, error) {
	var entries []treeEntry
	r := bytes.NewReader(payload)

	for r.Len() > 0 {
		var (
			e       treeEntry
			mode    uint32
			nameLen uint16
		)
		if err := binary.Read(r, binary.BigEndian, &mode); err != nil {
			return nil, fmt.Errorf("%w: entry mode: %v", errBadObject, err)
		}
		e.Mode = fs.FileMode(mode)

		if _, err := io.ReadFull(r, e.Hash[:]); err != nil {
			return nil, fmt.Errorf("%w: entry hash: %v", errBadObject, err)
		}
		if err := binary.Read(r, binary.BigEndian, &nameLen); err != nil {
			return nil, fmt.Errorf("%w: entry name length: %v", errBadObject, err)
		}

		name := make([]byte, nameLen)
		if _, err := io.ReadFull(r, name); err != nil {
			return nil, fmt.Errorf("%w: entry name: %v", errBadObject, err)
		}
		e.Name = string(name)

		entries = append(entries, e)
	}
	return entries, nil
}
