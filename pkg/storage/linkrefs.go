package storage

import (
	"strings"

	"github.com/kwgt/luwiki-sub000/pkg/types"
	bolt "go.etcd.io/bbolt"
)

// tokenizeLinkTargets scans Markdown for [label](target) occurrences and
// returns the raw target strings in document order. It is a tokenizer,
// not a regex, because a target may contain balanced nested parentheses
// such as "(a(b)c)" that a single regex cannot capture correctly, and
// because image syntax (a leading "!") must be excluded without also
// excluding a link whose label happens to contain "!".
func tokenizeLinkTargets(md string) []string {
	var targets []string
	n := len(md)

	for i := 0; i < n; i++ {
		if md[i] != '[' {
			continue
		}

		isImage := i > 0 && md[i-1] == '!'

		j := i + 1
		for j < n && md[j] != ']' {
			j++
		}
		if j >= n {
			continue
		}

		if j+1 >= n || md[j+1] != '(' {
			i = j
			continue
		}

		depth := 1
		k := j + 2
		start := k
		for k < n && depth > 0 {
			switch md[k] {
			case '(':
				depth++
			case ')':
				depth--
				if depth == 0 {
					goto closed
				}
			}
			k++
		}
	closed:
		if depth != 0 {
			// Unterminated target; resume scanning just after this '['.
			continue
		}

		if !isImage {
			targets = append(targets, md[start:k])
		}
		i = k
	}

	return targets
}

func isSchemeChar(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') ||
		(c >= '0' && c <= '9') || c == '+' || c == '.' || c == '-'
}

// hasScheme reports whether target begins with "<scheme>:" per RFC 3986's
// scheme grammar, loosely: a non-empty run of [A-Za-z0-9+.-] followed by
// a colon. http:, mailto: and similar external references are dropped.
func hasScheme(target string) bool {
	i := 0
	for i < len(target) && isSchemeChar(target[i]) {
		i++
	}
	return i > 0 && i < len(target) && target[i] == ':'
}

// normalizePath collapses "." and ".." segments; ".." above the root
// clamps at "/" instead of erroring.
func normalizePath(p string) string {
	segments := strings.Split(p, "/")
	out := make([]string, 0, len(segments))
	for _, s := range segments {
		switch s {
		case "", ".":
			continue
		case "..":
			if len(out) > 0 {
				out = out[:len(out)-1]
			}
		default:
			out = append(out, s)
		}
	}
	return "/" + strings.Join(out, "/")
}

// normalizeLinkTarget resolves a raw Markdown link target against
// basePath, or reports false if the target is not an internal link worth
// recording (empty, fragment-only, whitespace, or scheme-prefixed).
func normalizeLinkTarget(basePath, target string) (string, bool) {
	target = strings.TrimSpace(target)
	if target == "" {
		return "", false
	}
	if strings.HasPrefix(target, "#") {
		return "", false
	}
	if strings.ContainsAny(target, " \t\n\r") {
		return "", false
	}
	if hasScheme(target) {
		return "", false
	}

	if strings.HasPrefix(target, "/") {
		return normalizePath(target), true
	}

	base := strings.TrimSuffix(basePath, "/")
	return normalizePath(base + "/" + target), true
}

// ExtractLinkRefPaths tokenizes md, drops non-internal targets, resolves
// the rest against basePath, and collapses duplicates while preserving
// first-occurrence order.
func ExtractLinkRefPaths(basePath, md string) []string {
	seen := make(map[string]bool)
	var out []string

	for _, raw := range tokenizeLinkTargets(md) {
		norm, ok := normalizeLinkTarget(basePath, raw)
		if !ok || seen[norm] {
			continue
		}
		seen[norm] = true
		out = append(out, norm)
	}

	return out
}

// resolveLinkRefs extracts and resolves the link targets of md against
// the live-path table open in tx, producing the per-revision snapshot
// stored in PageSource.RenameInfo.LinkRefs. Resolution happens once, at
// write time; it is never recomputed on read (see the package doc).
func resolveLinkRefs(tx *bolt.Tx, basePath, md string) []types.LinkRef {
	b := tx.Bucket(bucketPagePath)

	paths := ExtractLinkRefPaths(basePath, md)
	refs := make([]types.LinkRef, 0, len(paths))
	for _, p := range paths {
		ref := types.LinkRef{Path: p}
		if data := b.Get([]byte(p)); data != nil {
			if id, err := types.IdFromBytes(data); err == nil {
				pid := types.PageId(id)
				ref.PageId = &pid
			}
		}
		refs = append(refs, ref)
	}
	return refs
}
