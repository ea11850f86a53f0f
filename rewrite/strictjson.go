// Copyright 2026 The hbridge Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package rewrite

import (
	"fmt"
	"strings"

	json "github.com/segmentio/encoding/json"
)

// checkNoCaseSmuggling rejects a JSON object that defines the same key
// twice under different casing (e.g. both "tools" and "Tools"). Go's
// encoding/json (and segmentio's drop-in) is case-insensitive when decoding
// into named struct fields, which a client could otherwise abuse to smuggle
// a second "tools" list past the field the rewriter actually inspects.
//
// This is a structural, not cryptographic, check: it only looks at the
// top-level keys the rewriter cares about, since nested bodies are passed
// upstream untouched.
func checkNoCaseSmuggling(raw map[string]json.RawMessage, fields ...string) error {
	interesting := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		interesting[strings.ToLower(f)] = struct{}{}
	}
	seen := make(map[string]string, len(raw))
	for key := range raw {
		lower := strings.ToLower(key)
		if _, ok := interesting[lower]; !ok {
			continue
		}
		if original, dup := seen[lower]; dup && original != key {
			return fmt.Errorf("rewrite: ambiguous body keys %q and %q differ only in case", original, key)
		}
		seen[lower] = key
	}
	return nil
}
