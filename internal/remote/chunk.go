package remote

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"sort"
)

const (
	LayerTargetSize = 4 * 1024 * 1024 // close a layer once it reaches this
	idLen           = 64              // hex sha256
)

// PackLayer serialises objects as [id 64B][length 8B][data]... in id order.
func PackLayer(objects map[string][]byte) ([]byte, error) {
	ids := sortedIDs(objects)

	var buf bytes.Buffer
	lenBuf := make([]byte, 8)
	for _, id := range ids {
		if len(id) != idLen {
			return nil, fmt.Errorf("pack: object id %q is not %d characters", id, idLen)
		}
		data := objects[id]

		buf.WriteString(id)
		binary.BigEndian.PutUint64(lenBuf, uint64(len(data)))
		buf.Write(lenBuf)
		buf.Write(data)
	}
	return buf.Bytes(), nil
}

// UnpackLayer reverses PackLayer.
func UnpackLayer(data []byte) (map[string][]byte, error) {
	objects := make(map[string][]byte)
	r := bytes.NewReader(data)
	idBuf := make([]byte, idLen)

	for r.Len() > 0 {
		if _, err := io.ReadFull(r, idBuf); err != nil {
			return nil, fmt.Errorf("unpack: read id: %w", err)
		}

		var length uint64
		if err := binary.Read(r, binary.BigEndian, &length); err != nil {
			return nil, fmt.Errorf("unpack: read length: %w", err)
		}
		if length > uint64(r.Len()) {
			return nil, fmt.Errorf("unpack: object %s claims %d bytes, %d left", idBuf, length, r.Len())
		}

		obj := make([]byte, length)
		if _, err := io.ReadFull(r, obj); err != nil {
			return nil, fmt.Errorf("unpack: read object: %w", err)
		}
		objects[string(idBuf)] = obj
	}
	return objects, nil
}

// BuildLayerPlan splits objects into groups of roughly target bytes. Ids
// are walked in sorted order, so the same set of objects always produces
// the same layers. Adding an object only keeps the layers before its id:
// every group boundary after it may shift.
func BuildLayerPlan(objects map[string][]byte, target int) [][]string {
	if target <= 0 {
		target = LayerTargetSize
	}

	var (
		plan    [][]string
		current []string
		size    int
	)
	for _, id := range sortedIDs(objects) {
		current = append(current, id)
		size += len(objects[id])
		if size >= target {
			plan = append(plan, current)
			current, size = nil, 0
		}
	}
	if len(current) > 0 {
		plan = append(plan, current)
	}
	return plan
}

func sortedIDs(objects map[string][]byte) []string {
	ids := make([]string, 0, len(objects))
	for id := range objects {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
