package storage

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/Benny93/strata/internal/graph"
)

// Key prefixes for the node name index
const (
	prefixName      = "n:"
	prefixNameToken = "n:t:" // n:t:token\x00nodeID -> frequency
	prefixNameMeta  = "n:m:" // n:m:nodeID -> NameHit JSON
)

// indexBatch bounds the entries written per transaction.
const indexBatch = 1000

var (
	separators = regexp.MustCompile(`[_.\-\s:/]+`)
	camelCase  = regexp.MustCompile(`([a-z])([A-Z])`)
	letterNum  = regexp.MustCompile(`([a-zA-Z])(\d)`)
	numLetter  = regexp.MustCompile(`(\d)([a-zA-Z])`)
)

// NameHit is a node found by SearchNodes.
type NameHit struct {
	NodeID    string  `json:"id"`
	Name      string  `json:"name"`
	Kind      string  `json:"kind"`
	Namespace string  `json:"namespace,omitempty"`
	Score     float64 `json:"score"`
}

// tokenize splits text into lower-case search tokens. The whole text is a
// token too, so an exact name outscores a partial one. Handles camelCase,
// snake_case, dotted namespaces and letter/digit boundaries.
func tokenize(text string) []string {
	tokens := make(map[string]struct{})
	add := func(parts ...string) {
		for _, p := range parts {
			if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
				tokens[p] = struct{}{}
			}
		}
	}

	add(text)
	for _, part := range separators.Split(text, -1) {
		add(part)
		add(strings.Fields(camelCase.ReplaceAllString(part, "$1 $2"))...)
		split := letterNum.ReplaceAllString(part, "$1 $2")
		add(strings.Fields(numLetter.ReplaceAllString(split, "$1 $2"))...)
	}

	out := make([]string, 0, len(tokens))
	for t := range tokens {
		out = append(out, t)
	}
	slices.Sort(out)
	return out
}

func tokenKey(token, nodeID string) []byte {
	return []byte(prefixNameToken + token + "\x00" + nodeID)
}

// IndexNodes replaces the node name index with nodes and returns the
// number of token entries written. Names and namespaces are indexed.
func (s *Store) IndexNodes(ctx context.Context, nodes []*graph.GraphNode) (int, error) {
	if _, err := s.backend.DeletePrefix(ctx, []byte(prefixName)); err != nil {
		return 0, fmt.Errorf("clearing name index: %w", err)
	}

	var batch []KV
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := s.backend.Put(ctx, batch...); err != nil {
			return fmt.Errorf("writing name index: %w", err)
		}
		batch = batch[:0]
		return nil
	}

	tokens := 0
	for _, n := range nodes {
		freq := make(map[string]int)
		for _, t := range tokenize(n.Name) {
			freq[t] += 2
		}
		for _, t := range tokenize(n.Namespace) {
			freq[t]++
		}
		for t, f := range freq {
			batch = append(batch, KV{Key: tokenKey(t, n.ID), Value: []byte(strconv.Itoa(f))})
		}
		tokens += len(freq)

		meta, err := json.Marshal(NameHit{NodeID: n.ID, Name: n.Name, Kind: string(n.Kind), Namespace: n.Namespace})
		if err != nil {
			return 0, fmt.Errorf("marshaling metadata: %w", err)
		}
		batch = append(batch, KV{Key: []byte(prefixNameMeta + n.ID), Value: meta})

		if len(batch) >= indexBatch {
			if err := flush(); err != nil {
				return 0, err
			}
		}
	}
	if err := flush(); err != nil {
		return 0, err
	}
	return tokens, nil
}

// SearchNodes ranks indexed nodes by summed token frequency against
// query. Ties are broken by node id. A limit of zero returns every hit.
func (s *Store) SearchNodes(ctx context.Context, query string, limit int) ([]NameHit, error) {
	scores := make(map[string]float64)
	for _, token := range tokenize(query) {
		prefix := prefixNameToken + token + "\x00"
		entries, err := s.backend.Scan(ctx, []byte(prefix))
		if err != nil {
			return nil, fmt.Errorf("searching names: %w", err)
		}
		for _, e := range entries {
			freq, err := strconv.Atoi(string(e.Value))
			if err != nil {
				continue
			}
			scores[strings.TrimPrefix(string(e.Key), prefix)] += float64(freq)
		}
	}

	hits := make([]NameHit, 0, len(scores))
	for id, score := range scores {
		raw, err := s.backend.Get(ctx, []byte(prefixNameMeta+id))
		if err != nil {
			continue // token without metadata
		}
		var hit NameHit
		if err := json.Unmarshal(raw, &hit); err != nil {
			return nil, fmt.Errorf("unmarshaling name hit %s: %w", id, err)
		}
		hit.Score = score
		hits = append(hits, hit)
	}

	slices.SortFunc(hits, func(a, b NameHit) int {
		return cmp.Or(cmp.Compare(b.Score, a.Score), cmp.Compare(a.NodeID, b.NodeID))
	})
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}
