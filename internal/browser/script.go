package browser

import (
	"encoding/json"
	"fmt"
)

// Both drivers resolve queries with the same in-page script so that
// "matches" and "visible" mean the same thing regardless of provider.
const queryScript = `(() => {
	const q = %s;
	let els = Array.from(document.querySelectorAll(q.selector));
	if (q.hasText) {
		const re = new RegExp(q.hasText, 'i');
		els = els.filter((e) => re.test(e.textContent || ''));
	}
	const visible = (e) => {
		if (!e || !e.isConnected) return false;
		const s = window.getComputedStyle(e);
		if (s.visibility === 'hidden' || s.display === 'none' || s.opacity === '0') return false;
		const r = e.getBoundingClientRect();
		return r.width > 0 && r.height > 0;
	};
	const el = els[q.nth];
	%s
})()`

const (
	probeOp = `return {count: els.length, visible: visible(el)};`

	textOp = `if (!el) return {found: false, text: ''};
	return {found: true, text: (el.innerText || el.textContent || '').trim()};`

	attrOp = `if (!el) return {found: false, present: false, value: ''};
	const v = el.getAttribute(q.attr);
	return {found: true, present: v !== null, value: v === null ? '' : v};`

	pointOp = `if (!el) return {found: false, x: 0, y: 0};
	el.scrollIntoView({block: 'center', inline: 'center'});
	const r = el.getBoundingClientRect();
	return {found: true, x: r.left + r.width / 2, y: r.top + r.height / 2};`

	focusOp = `if (!el) return {found: false};
	el.focus();
	if (q.clear && 'value' in el) {
		el.value = '';
		el.dispatchEvent(new Event('input', {bubbles: true}));
	}
	return {found: true};`

	elementsOp = `const limit = q.limit > 0 ? q.limit : els.length;
	return els.slice(0, limit).map((e, i) => ({
		index: i,
		tag: e.tagName.toLowerCase(),
		text: (e.textContent || '').trim(),
		attrs: Object.fromEntries(Array.from(e.attributes).map((a) => [a.name, a.value])),
		visible: visible(e),
	}));`
)

type scriptArgs struct {
	Selector string `json:"selector"`
	HasText  string `json:"hasText,omitempty"`
	Nth      int    `json:"nth"`
	Attr     string `json:"attr,omitempty"`
	Limit    int    `json:"limit,omitempty"`
	Clear    bool   `json:"clear,omitempty"`
}

func buildScript(args scriptArgs, op string) string {
	payload, err := json.Marshal(args)
	if err != nil {
		// Only strings and ints; Marshal cannot fail.
		panic(err)
	}
	return fmt.Sprintf(queryScript, payload, op)
}

func argsFor(q Query) scriptArgs {
	return scriptArgs{Selector: q.Selector, HasText: q.HasText, Nth: q.Nth}
}

type textResult struct {
	Found bool   `json:"found"`
	Text  string `json:"text"`
}

type attrResult struct {
	Found   bool   `json:"found"`
	Present bool   `json:"present"`
	Value   string `json:"value"`
}

type pointResult struct {
	Found bool    `json:"found"`
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
}

type foundResult struct {
	Found bool `json:"found"`
}

// Reshape copies a loosely typed evaluation result into res.
func Reshape(v any, res any) error {
	if res == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode evaluation result: %w", err)
	}
	if err := json.Unmarshal(data, res); err != nil {
		return fmt.Errorf("failed to decode evaluation result: %w", err)
	}
	return nil
}
