package extractor

// extractScript pulls the raw facts for a single element out of the live
// page. It is evaluated with a target expression spliced in (either an
// elementFromPoint lookup or a querySelector) and returns a JSON object
// matching schemas.ElementFacts, or null when nothing resolves.
//
// The script is read-only: it never mutates the DOM.
const extractScript = `(() => {
	const el = %s;
	if (!el || el.nodeType !== 1) { return null; }

	const attrs = {};
	for (const a of el.attributes) { attrs[a.name] = a.value; }

	const rect = el.getBoundingClientRect();
	const style = window.getComputedStyle(el);
	const visible = rect.width > 0 && rect.height > 0 &&
		style.visibility !== 'hidden' && style.display !== 'none';

	const interactiveTags = ['a', 'button', 'input', 'select', 'textarea', 'option', 'label'];
	const tag = el.tagName.toLowerCase();
	const interactive = interactiveTags.includes(tag) ||
		el.hasAttribute('onclick') || attrs['role'] === 'button' ||
		style.cursor === 'pointer';

	const ancestors = [];
	let p = el.parentElement;
	while (p && ancestors.length < 2) {
		ancestors.push(p.tagName.toLowerCase());
		p = p.parentElement;
	}

	const siblings = [];
	if (el.parentElement) {
		for (const sib of el.parentElement.children) {
			if (sib === el || siblings.length >= 3) { continue; }
			const text = (sib.textContent || '').trim().slice(0, 80);
			if (text) { siblings.push(text); }
		}
	}

	const ariaLabels = [];
	if (attrs['aria-label']) { ariaLabels.push(attrs['aria-label']); }
	if (attrs['aria-labelledby']) {
		for (const id of attrs['aria-labelledby'].split(/\s+/)) {
			const ref = document.getElementById(id);
			if (ref) { ariaLabels.push((ref.textContent || '').trim()); }
		}
	}

	return {
		tag_name: tag,
		attributes: attrs,
		text_content: (el.textContent || '').trim().slice(0, 200),
		bounds: { x: rect.x, y: rect.y, width: rect.width, height: rect.height },
		ancestor_tags: ancestors,
		sibling_text: siblings,
		aria_labels: ariaLabels,
		role: attrs['role'] || '',
		visible: visible,
		interactive: interactive
	};
})()`
