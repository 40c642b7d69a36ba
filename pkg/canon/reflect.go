// SPDX-License-Identifier: AGPL-3.0-or-later

package canon

import (
	"bytes"
	"encoding/json"
)

// encodeReflective handles any Go value that is not already one of the
// generic JSON primitive shapes (nil, bool, string, numeric, []any,
// map[string]any) by round-tripping it through encoding/json first. This
// lets callers pass plain Go structs (schemas, snapshots, requirements)
// without hand-writing a ToMap() for each one, while canonical ordering,
// -0 normalization and non-finite handling are still enforced by this
// package's own encoder on the decoded generic tree.
func encodeReflective(buf *bytes.Buffer, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return err
	}
	return encode(buf, generic)
}
