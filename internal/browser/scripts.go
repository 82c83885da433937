package browser

import (
	"fmt"
	"strings"

	jsoniter "github.com/json-iterator/go"

	"github.com/xkilldash9x/quill/internal/locator"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// refAttribute holds the handle stamped on queried nodes.
const refAttribute = "data-quill-ref"

func refSelector(el locator.Element) string {
	return fmt.Sprintf(`[%s=%q]`, refAttribute, el.Ref)
}

// queryScript stamps every match with a handle and returns the handles in
// document order. A missing scope node is reported as stale.
const queryScript = `function(scopeRef, selector, attr) {
  let root = document;
  if (scopeRef) {
    root = document.querySelector('[' + attr + '="' + scopeRef + '"]');
    if (!root) return {refs: [], stale: true, invalid: ""};
  }
  let nodes;
  try {
    nodes = root.querySelectorAll(selector);
  } catch (e) {
    return {refs: [], stale: false, invalid: String(e && e.message || e)};
  }
  window.__quillSeq = window.__quillSeq || 0;
  const refs = [];
  for (const n of nodes) {
    let ref = n.getAttribute(attr);
    if (!ref) {
      ref = 'q' + (++window.__quillSeq);
      n.setAttribute(attr, ref);
    }
    refs.push(ref);
  }
  return {refs: refs, stale: false, invalid: ""};
}`

// inspectScript performs one read or focus operation on a handle.
const inspectScript = `function(ref, op, arg, attr) {
  const el = ref ? document.querySelector('[' + attr + '="' + ref + '"]') : document.documentElement;
  if (!el) return {found: false, value: "", has: false};
  switch (op) {
  case "text":
    return {found: true, value: el.innerText || el.textContent || "", has: true};
  case "attr":
    if (!el.hasAttribute(arg)) {
      if (arg === "value" && "value" in el) return {found: true, value: String(el.value), has: true};
      return {found: true, value: "", has: false};
    }
    return {found: true, value: el.getAttribute(arg), has: true};
  case "tag":
    return {found: true, value: el.tagName.toLowerCase(), has: true};
  case "html":
    return {found: true, value: el.outerHTML, has: true};
  case "scroll":
    el.scrollIntoView({block: "center", inline: "center"});
    return {found: true, value: "", has: true};
  case "focus":
    el.scrollIntoView({block: "center", inline: "center"});
    el.focus();
    return {found: true, value: "", has: true};
  }
  return {found: true, value: "", has: false};
}`

// evaluateWrapper resolves the handle, awaits the user function and
// serializes its result so any JSON value survives the round trip.
const evaluateWrapper = `(async (ref, attr, fn, arg) => {
  const el = ref ? document.querySelector('[' + attr + '="' + ref + '"]') : document;
  if (!el) return JSON.stringify({stale: true});
  const value = await fn(el, arg);
  return JSON.stringify({stale: false, value: value === undefined ? null : value});
})`

type evaluateResult struct {
	Stale bool                `json:"stale"`
	Value jsoniter.RawMessage `json:"value"`
}

// call renders fn applied to JSON-encoded args.
func call(fn string, args ...any) (string, error) {
	encoded := make([]string, len(args))
	for i, arg := range args {
		b, err := json.Marshal(arg)
		if err != nil {
			return "", fmt.Errorf("failed to encode script argument: %w", err)
		}
		encoded[i] = string(b)
	}
	return fmt.Sprintf("(%s)(%s)", fn, strings.Join(encoded, ", ")), nil
}

func evaluateExpression(source, ref string, arg any) (string, error) {
	refArg, err := json.Marshal(ref)
	if err != nil {
		return "", err
	}
	attrArg, _ := json.Marshal(refAttribute)
	argArg, err := json.Marshal(arg)
	if err != nil {
		return "", fmt.Errorf("failed to encode script argument: %w", err)
	}
	return fmt.Sprintf("%s(%s, %s, (%s), %s)", evaluateWrapper, refArg, attrArg, source, argArg), nil
}
