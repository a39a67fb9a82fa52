// Package playlist rewrites HLS manifests so that every segment, variant and
// key reference points back at the relay.
//
// The rewriter works line by line and does not interpret the playlist beyond
// classifying each line. It never fails: a line that cannot be resolved is
// emitted unchanged and the rest of the manifest is still rewritten.
package playlist

import (
	"net/url"
	"regexp"
	"strings"
)

const keyTagPrefix = "#EXT-X-KEY:"

// manifestMarker is the substring of a target URL that marks it as a manifest.
const manifestMarker = ".m3u8"

var (
	// absoluteURIPattern finds embedded http(s) URIs inside a tag line.
	absoluteURIPattern = regexp.MustCompile(`https?://[^\s"]+`)

	// keyURIAttrPattern captures a quoted URI attribute value.
	keyURIAttrPattern = regexp.MustCompile(`URI="([^"]*)"`)
)

// LineKind is the classification of a single manifest line.
type LineKind int

const (
	Blank LineKind = iota
	Comment
	KeyTag
	URI
)

func (k LineKind) String() string {
	switch k {
	case Blank:
		return "blank"
	case Comment:
		return "comment"
	case KeyTag:
		return "key"
	case URI:
		return "uri"
	}
	return "unknown"
}

// Classify returns the kind of a manifest line. Leading spaces and tabs are
// ignored when looking for the '#' marker.
func Classify(line string) LineKind {
	if strings.TrimSpace(line) == "" {
		return Blank
	}
	trimmed := strings.TrimLeft(line, " \t")
	if strings.HasPrefix(trimmed, keyTagPrefix) {
		return KeyTag
	}
	if strings.HasPrefix(trimmed, "#") {
		return Comment
	}
	return URI
}

// Params carries the override values embedded in every rewritten reference.
type Params struct {
	// Target is the manifest URL exactly as the client supplied it. It is
	// only used as the prefix in ProxyAll mode.
	Target   string
	Referer  string
	Origin   string
	ProxyAll bool
}

// Stats counts what the rewriter did with each line.
type Stats struct {
	URIs        int // URI lines rewritten
	Keys        int // key tags rewritten
	Passthrough int // blank, comment and URI-less key lines
	Unresolved  int // lines left unchanged because they could not be resolved
}

// Rewrite returns body with every sub-resource reference replaced by a
// proxied reference of the form ?url=<uri>&referer=<referer>[&origin=<origin>].
// Relative references are resolved against manifest. The output has exactly
// as many lines as the input; comment and blank lines are byte-identical.
func Rewrite(body string, manifest *url.URL, p Params) string {
	out, _ := RewriteStats(body, manifest, p)
	return out
}

// RewriteStats is Rewrite that also reports per-line outcome counts.
func RewriteStats(body string, manifest *url.URL, p Params) (string, Stats) {
	var st Stats
	lines := strings.Split(body, "\n")
	for i, line := range lines {
		lines[i] = p.rewriteLine(line, manifest, &st)
	}
	return strings.Join(lines, "\n"), st
}

// IsManifestURL reports whether a target URL refers to an HLS manifest.
func IsManifestURL(raw string) bool {
	return strings.Contains(raw, manifestMarker)
}

func (p Params) rewriteLine(line string, manifest *url.URL, st *Stats) string {
	switch Classify(line) {
	case KeyTag:
		return p.rewriteKeyTag(line, manifest, st)
	case URI:
		return p.rewriteURI(line, manifest, st)
	default:
		st.Passthrough++
		return line
	}
}

func (p Params) rewriteURI(line string, manifest *url.URL, st *Stats) string {
	ref, cr := splitCR(line)
	ref = strings.TrimSpace(ref)

	if p.ProxyAll && strings.HasPrefix(ref, "http") {
		st.URIs++
		return p.Target + "?url=" + ref + cr
	}

	resolved, ok := resolve(manifest, ref)
	if !ok {
		st.Unresolved++
		return line
	}

	st.URIs++
	return p.proxied(resolved) + cr
}

// rewriteKeyTag replaces embedded absolute URIs in an #EXT-X-KEY tag. When
// the tag has none, a relative URI attribute is resolved and rewritten
// instead; non-http schemes such as skd:// are left alone.
func (p Params) rewriteKeyTag(line string, manifest *url.URL, st *Stats) string {
	if absoluteURIPattern.MatchString(line) {
		st.Keys++
		return absoluteURIPattern.ReplaceAllStringFunc(line, p.proxiedKey)
	}

	m := keyURIAttrPattern.FindStringSubmatchIndex(line)
	if m == nil || m[2] == m[3] {
		st.Passthrough++
		return line
	}

	raw := line[m[2]:m[3]]
	ref, err := url.Parse(raw)
	if err != nil || manifest == nil {
		st.Unresolved++
		return line
	}
	if ref.IsAbs() {
		st.Passthrough++
		return line
	}

	st.Keys++
	return line[:m[2]] + p.proxiedKey(manifest.ResolveReference(ref).String()) + line[m[3]:]
}

func (p Params) proxied(uri string) string {
	var b strings.Builder
	b.WriteString("?url=")
	b.WriteString(url.QueryEscape(uri))
	b.WriteString("&referer=")
	b.WriteString(url.QueryEscape(p.Referer))
	if p.Origin != "" {
		b.WriteString("&origin=")
		b.WriteString(url.QueryEscape(p.Origin))
	}
	return b.String()
}

func (p Params) proxiedKey(uri string) string {
	return "?url=" + url.QueryEscape(uri) + "&referer=" + url.QueryEscape(p.Referer)
}

// resolve turns ref into an absolute URI. Absolute references are returned
// verbatim so existing percent-escapes survive untouched.
func resolve(manifest *url.URL, ref string) (string, bool) {
	u, err := url.Parse(ref)
	if err != nil {
		return "", false
	}
	if u.IsAbs() {
		return ref, true
	}
	if manifest == nil {
		return "", false
	}
	return manifest.ResolveReference(u).String(), true
}

// splitCR separates a trailing carriage return so CRLF manifests keep their
// line endings after rewriting.
func splitCR(line string) (string, string) {
	if strings.HasSuffix(line, "\r") {
		return line[:len(line)-1], "\r"
	}
	return line, ""
}
