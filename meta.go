// Copyright 2021 The Erigon Authors
// This file is part of Erigon.
//
// Erigon is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Erigon is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with Erigon. If not, see <http://www.gnu.org/licenses/>.

package komodo

import (
	"encoding/binary"
	"fmt"
)

// metaMapName is the one reserved map name a collection may never use
// (collection names may not contain '.', so this can't collide with
// any <collection> or <collection>.<index> name).
const metaMapName = "__komodo_meta"

// SchemaVersion is stamped into the backend's reserved metadata map on
// first open and checked against the running code's expectation on
// every later open. Only Major is compared; a Major mismatch means the
// on-disk layout predates a breaking change to how komodo encodes its
// own bookkeeping (not the client's data, which the core never
// interprets). Migration is out of scope, so this is a hard failure
// rather than an attempted upgrade. A differing Minor is accepted.
//
// 1.0 - initial release: reserved meta map holds only the schema
//
//	version key; per-collection declared-index-set tracking added
//	in the same release as a soft (logged, not failed) check.
var SchemaVersion = struct{ Major, Minor uint32 }{Major: 1, Minor: 0}

const schemaVersionKey = "schema_version"

func encodeSchemaVersion(major, minor uint32) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint32(buf[0:4], major)
	binary.BigEndian.PutUint32(buf[4:8], minor)
	return buf
}

func decodeSchemaVersion(b []byte) (major, minor uint32) {
	return binary.BigEndian.Uint32(b[0:4]), binary.BigEndian.Uint32(b[4:8])
}

// indexSetKey returns the meta-map key recording the index names a
// collection was last opened with: "idx_set." + collection name.
func indexSetKey(collection string) []byte {
	return []byte("idx_set." + collection)
}

func encodeIndexSet(names []string) []byte {
	out := make([]byte, 0, 64)
	for i, n := range names {
		if i > 0 {
			out = append(out, ',')
		}
		out = append(out, n...)
	}
	return out
}

func formatIndexSetMismatch(collection string, declared, recorded []byte) string {
	return fmt.Sprintf("collection %q: declared index set %q differs from last-seen %q", collection, declared, recorded)
}
