// Package capability implements the content-addressed capability store:
// FQDN naming, capability records, dependency edges, and usage statistics.
package capability

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"

	"github.com/pml-run/pml/core"
)

// FQDN is a parsed five-component capability name:
// org.project.namespace.action.hash
type FQDN struct {
	Org       string
	Project   string
	Namespace string
	Action    string
	Hash      string // "" for a 4-part lookup FQDN
}

var componentPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_-]*$`)
var hashPattern = regexp.MustCompile(`^[0-9a-f]{4}$`)

// ParseFQDN accepts both the canonical 5-part form (with content-hash tail)
// and a 4-part lookup form (no hash, used to look up "any version").
func ParseFQDN(s string) (FQDN, error) {
	parts := strings.Split(s, ".")
	if len(parts) != 4 && len(parts) != 5 {
		return FQDN{}, core.NewError("ParseFQDN", core.KindInvalidParams, fmt.Errorf("%w: expected 4 or 5 dot-separated components, got %d", core.ErrInvalidFQDN, len(parts)))
	}
	for _, p := range parts[:4] {
		if !componentPattern.MatchString(p) {
			return FQDN{}, core.NewError("ParseFQDN", core.KindInvalidParams, fmt.Errorf("%w: invalid component %q", core.ErrInvalidFQDN, p))
		}
	}
	f := FQDN{Org: parts[0], Project: parts[1], Namespace: parts[2], Action: parts[3]}
	if len(parts) == 5 {
		if !hashPattern.MatchString(parts[4]) {
			return FQDN{}, core.NewError("ParseFQDN", core.KindInvalidParams, fmt.Errorf("%w: hash must be 4 lowercase hex chars, got %q", core.ErrInvalidFQDN, parts[4]))
		}
		f.Hash = parts[4]
	}
	return f, nil
}

// String renders the FQDN back to its dotted form, 5-part if Hash is set.
func (f FQDN) String() string {
	if f.Hash == "" {
		return strings.Join([]string{f.Org, f.Project, f.Namespace, f.Action}, ".")
	}
	return strings.Join([]string{f.Org, f.Project, f.Namespace, f.Action, f.Hash}, ".")
}

// IsFourPart reports whether this FQDN has no hash component (a lookup key
// rather than a concrete capability name).
func (f FQDN) IsFourPart() bool { return f.Hash == "" }

// IsStdMiniTool reports whether this is a "pml.std.*" standard mini-tool record.
func (f FQDN) IsStdMiniTool() bool { return f.Org == "pml" && f.Project == "std" }

// IsMCPServer reports whether this is a "pml.mcp.*" MCP server record.
func (f FQDN) IsMCPServer() bool { return f.Org == "pml" && f.Project == "mcp" }

// NewFQDN builds a 5-part FQDN from components and a full code hash, taking
// the first 4 hex characters of the hash as the tail.
func NewFQDN(org, project, namespace, action, codeHash string) (FQDN, error) {
	f := FQDN{Org: org, Project: project, Namespace: namespace, Action: action, Hash: HashTail(codeHash)}
	if _, err := ParseFQDN(f.String()); err != nil {
		return FQDN{}, err
	}
	return f, nil
}

// HashTail returns the first 4 hex characters of a full hex-encoded hash.
func HashTail(fullHash string) string {
	if len(fullHash) < 4 {
		return fullHash
	}
	return fullHash[:4]
}

// CanonicalizeCode normalizes code text before hashing so that visually
// identical snippets hash equal: trailing whitespace per line is trimmed,
// line endings are normalized to "\n", and leading/trailing blank lines are
// removed. Comments are NOT stripped — two snippets that differ only in
// comments are considered different capabilities, since the comment may be
// load-bearing documentation of behavior the code itself doesn't capture.
func CanonicalizeCode(code string) string {
	code = strings.ReplaceAll(code, "\r\n", "\n")
	lines := strings.Split(code, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimRight(l, " \t")
	}
	start := 0
	for start < len(lines) && lines[start] == "" {
		start++
	}
	end := len(lines)
	for end > start && lines[end-1] == "" {
		end--
	}
	return strings.Join(lines[start:end], "\n")
}

// CodeHash returns the full hex-encoded SHA-256 of the canonicalized code.
func CodeHash(code string) string {
	sum := sha256.Sum256([]byte(CanonicalizeCode(code)))
	return hex.EncodeToString(sum[:])
}
