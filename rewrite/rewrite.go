// Copyright 2026 The hbridge Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Package rewrite implements the request-rewriting policy layer: path
// repair, upstream-key query stripping, and JSON body rewriting (tool
// removal, forced safety settings).
package rewrite

import (
	"fmt"
	"strings"

	json "github.com/segmentio/encoding/json"

	"github.com/riverrun/hbridge/frame"
)

// modelsModelsBug is the literal substring that a buggy upstream client
// sometimes doubles into a request path.
const modelsModelsBug = "/models/models/"

// RepairPath replaces the first occurrence of "/models/models/" with
// "/models/" and reports whether it fired, so the caller can log it.
func RepairPath(path string) (repaired string, fired bool) {
	idx := strings.Index(path, modelsModelsBug)
	if idx < 0 {
		return path, false
	}
	return path[:idx] + "/models/" + path[idx+len(modelsModelsBug):], true
}

// StripQueryKey removes the "key" query parameter: authentication must come
// from the browser's cookies, and a conflicting key would cause an upstream
// 400.
func StripQueryKey(q frame.QueryParams) frame.QueryParams {
	if _, ok := q["key"]; !ok {
		return q
	}
	out := make(frame.QueryParams, len(q))
	for k, v := range q {
		if k == "key" {
			continue
		}
		out[k] = v
	}
	return out
}

// safetyCategories is the fixed set of categories forced to BLOCK_NONE on
// every forwarded request with a JSON object body.
var safetyCategories = []string{
	"HARM_CATEGORY_HARASSMENT",
	"HARM_CATEGORY_HATE_SPEECH",
	"HARM_CATEGORY_SEXUALLY_EXPLICIT",
	"HARM_CATEGORY_DANGEROUS_CONTENT",
	"HARM_CATEGORY_CIVIC_INTEGRITY",
}

type safetySetting struct {
	Category  string `json:"category"`
	Threshold string `json:"threshold"`
}

func fixedSafetySettings() []safetySetting {
	out := make([]safetySetting, len(safetyCategories))
	for i, c := range safetyCategories {
		out[i] = safetySetting{Category: c, Threshold: "BLOCK_NONE"}
	}
	return out
}

// RewriteBody applies the body-rewrite rules. A body that does not parse as
// a JSON object passes through completely unchanged (including nil).
func RewriteBody(body *string) (*string, error) {
	if body == nil {
		return nil, nil
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(*body), &obj); err != nil || obj == nil {
		// Not a JSON object (array, scalar, null, or invalid JSON) — pass through.
		return body, nil
	}

	if err := checkNoCaseSmuggling(obj, "tools", "safetySettings"); err != nil {
		return nil, err
	}

	if raw, ok := obj["tools"]; ok {
		var list []json.RawMessage
		if err := json.Unmarshal(raw, &list); err == nil && len(list) > 0 {
			delete(obj, "tools")
		}
	}

	settings, err := json.Marshal(fixedSafetySettings())
	if err != nil {
		return nil, fmt.Errorf("rewrite: marshal safety settings: %w", err)
	}
	obj["safetySettings"] = settings

	out, err := json.Marshal(obj)
	if err != nil {
		return nil, fmt.Errorf("rewrite: marshal body: %w", err)
	}
	s := string(out)
	return &s, nil
}

// Result is the outcome of applying the full rewriter pipeline to one
// incoming request.
type Result struct {
	Path         string
	Query        frame.QueryParams
	Body         *string
	PathRepaired bool
}

// Apply runs path repair, query-key stripping, and body rewriting in the
// order mandated by the spec: path, then query, then body.
func Apply(path string, query frame.QueryParams, body *string) (Result, error) {
	repairedPath, fired := RepairPath(path)
	strippedQuery := StripQueryKey(query)
	rewrittenBody, err := RewriteBody(body)
	if err != nil {
		return Result{}, err
	}
	return Result{
		Path:         repairedPath,
		Query:        strippedQuery,
		Body:         rewrittenBody,
		PathRepaired: fired,
	}, nil
}
