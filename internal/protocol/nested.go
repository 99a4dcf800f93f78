package protocol

import (
	"regexp"
	"strings"

	"github.com/atlas2/coderagent/pkg/models"
)

var tagTokenRe = regexp.MustCompile(`(?s)<(/?)([a-zA-Z_][\w.-]*)[^>]*>`)

type childTag struct {
	name  string
	inner string
}

// topLevelChildren splits raw into its immediate (non-nested) child tags,
// using a stack to skip over nested same-name tags so a block like
// `<item><item>x</item></item>` is one top-level child, not two.
func topLevelChildren(raw string) []childTag {
	tokens := tagTokenRe.FindAllStringSubmatchIndex(raw, -1)
	if len(tokens) == 0 {
		return nil
	}
	var children []childTag
	type openTag struct {
		name       string
		innerStart int
	}
	var stack []openTag
	for _, tok := range tokens {
		closing := raw[tok[2]:tok[3]] == "/"
		name := raw[tok[4]:tok[5]]
		tagEnd := tok[1]
		if !closing {
			stack = append(stack, openTag{name: name, innerStart: tagEnd})
			continue
		}
		if len(stack) == 0 {
			continue // stray closing tag, ignore
		}
		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if top.name != name {
			continue // mismatched close, best-effort ignore
		}
		if len(stack) == 0 {
			innerEnd := tok[0]
			children = append(children, childTag{name: name, inner: raw[top.innerStart:innerEnd]})
		}
	}
	return children
}

// parseNestedTags implements spec.md §4.2's nested-tag micro-format: a
// block whose children are all <item> decodes to an array; a block with
// named children decodes to a mapping from tag name to recursively parsed
// value; a single outermost <item> unwraps to a scalar. Returns ok=false
// when raw contains no recognizable child tags, signalling the caller to
// fall through to JSON/literal coercion.
func parseNestedTags(raw string) (models.ParamValue, bool) {
	children := topLevelChildren(raw)
	if len(children) == 0 {
		return models.ParamValue{}, false
	}
	if len(children) == 1 && children[0].name == "item" {
		return parseNestedScalar(children[0].inner), true
	}
	allItems := true
	for _, c := range children {
		if c.name != "item" {
			allItems = false
			break
		}
	}
	if allItems {
		arr := make([]models.ParamValue, len(children))
		for i, c := range children {
			arr[i] = parseNestedScalar(c.inner)
		}
		return models.ParamValue{Kind: models.ParamArray, Array: arr}, true
	}
	obj := make(map[string]models.ParamValue, len(children))
	for _, c := range children {
		obj[c.name] = parseNestedScalar(c.inner)
	}
	return models.ParamValue{Kind: models.ParamObject, Object: obj}, true
}

// parseNestedScalar recursively applies the micro-format to a child's inner
// text, falling back to a literal (whitespace-trimmed) string leaf.
func parseNestedScalar(inner string) models.ParamValue {
	if v, ok := parseNestedTags(inner); ok {
		return v
	}
	return models.ParamValue{Kind: models.ParamString, Str: strings.TrimSpace(inner)}
}
