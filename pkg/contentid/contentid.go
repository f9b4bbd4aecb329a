// Package contentid derives the content identifier of a file set and packs
// the same blocks into a CAR stream for the storage network.
//
// Every file becomes a raw block addressed by a CIDv1 (sha2-256). The root is
// a dag-cbor node listing the files sorted by name, so the identifier depends
// only on names and bytes, never on the order the files were supplied in.
package contentid

import (
	"bytes"
	"errors"
	"fmt"
	"sort"

	"github.com/ipfs/go-cid"
	cbornode "github.com/ipfs/go-ipld-cbor"
	car "github.com/ipld/go-car"
	carutil "github.com/ipld/go-car/util"
	mh "github.com/multiformats/go-multihash"
)

var (
	ErrEmpty      = errors.New("empty file set")
	ErrEmptyName  = errors.New("empty file name")
	ErrInvalidCID = errors.New("invalid cid")
)

type block struct {
	cid  cid.Cid
	data []byte
}

// Derive returns the root identifier of files.
func Derive(files map[string][]byte) (cid.Cid, error) {
	root, _, err := build(files)
	return root.cid, err
}

// Pack returns the root identifier and a CARv1 stream holding the root block
// followed by the file blocks.
func Pack(files map[string][]byte) (cid.Cid, []byte, error) {
	root, leaves, err := build(files)
	if err != nil {
		return cid.Undef, nil, err
	}

	buf := &bytes.Buffer{}
	h := &car.CarHeader{
		Roots:   []cid.Cid{root.cid},
		Version: 1,
	}
	if err := car.WriteHeader(h, buf); err != nil {
		return cid.Undef, nil, fmt.Errorf("failed to write car header: %w", err)
	}

	if err := carutil.LdWrite(buf, root.cid.Bytes(), root.data); err != nil {
		return cid.Undef, nil, fmt.Errorf("failed to write root block: %w", err)
	}

	seen := cid.NewSet()
	for _, leaf := range leaves {
		// identical files share a block
		if !seen.Visit(leaf.cid) {
			continue
		}
		if err := carutil.LdWrite(buf, leaf.cid.Bytes(), leaf.data); err != nil {
			return cid.Undef, nil, fmt.Errorf("failed to write block %s: %w", leaf.cid, err)
		}
	}

	return root.cid, buf.Bytes(), nil
}

// Parse validates an identifier received from a client or the storage network.
func Parse(s string) (cid.Cid, error) {
	c, err := cid.Decode(s)
	if err != nil {
		return cid.Undef, fmt.Errorf("%w: %s", ErrInvalidCID, err.Error())
	}

	return c, nil
}

// Equal compares two identifiers by their binary form so that different
// string encodings of the same CID match.
func Equal(a, b string) bool {
	ca, err := cid.Decode(a)
	if err != nil {
		return false
	}
	cb, err := cid.Decode(b)
	if err != nil {
		return false
	}

	return ca.Equals(cb)
}

// TotalSize sums the byte length of every file.
func TotalSize(files map[string][]byte) (total uint64) {
	for _, data := range files {
		total += uint64(len(data))
	}
	return
}

// SortedNames returns the file names in identifier order.
func SortedNames(files map[string][]byte) []string {
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	return names
}

func build(files map[string][]byte) (root block, leaves []block, err error) {
	if len(files) == 0 {
		err = ErrEmpty
		return
	}

	prefix := cid.NewPrefixV1(cid.Raw, mh.SHA2_256)
	entries := make([]interface{}, 0, len(files))

	for _, name := range SortedNames(files) {
		if name == "" {
			err = ErrEmptyName
			return
		}

		data := files[name]
		c, sErr := prefix.Sum(data)
		if sErr != nil {
			err = fmt.Errorf("failed to hash %q: %w", name, sErr)
			return
		}

		leaves = append(leaves, block{cid: c, data: data})
		entries = append(entries, map[string]interface{}{
			"name": name,
			"size": uint64(len(data)),
			"link": c,
		})
	}

	node, wErr := cbornode.WrapObject(map[string]interface{}{
		"files": entries,
	}, mh.SHA2_256, -1)
	if wErr != nil {
		err = fmt.Errorf("failed to encode root node: %w", wErr)
		return
	}

	root = block{cid: node.Cid(), data: node.RawData()}

	return
}
