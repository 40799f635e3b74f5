// File: internal/browser/extract.go
package browser

import (
	"fmt"
	"strconv"
)

// selectOptionCall builds the page-side call that picks a select option by
// its display text (falling back to its value attribute), or clicks the
// element when it is not a select (radio groups). Returns whether anything
// was picked.
func selectOptionCall(selector, value string) string {
	return fmt.Sprintf(selectOptionScript, strconv.Quote(selector), strconv.Quote(value))
}

const selectOptionScript = `((sel, val) => {
  const el = document.querySelector(sel);
  if (!el) return false;
  if (el.tagName !== 'SELECT') {
    el.click();
    return true;
  }
  for (const opt of el.options) {
    if (opt.text.trim() === val || opt.value === val) {
      el.value = opt.value;
      el.dispatchEvent(new Event('input', { bubbles: true }));
      el.dispatchEvent(new Event('change', { bubbles: true }));
      return true;
    }
  }
  return false;
})(%s, %s)`

// extractScript runs inside the page and returns the interactive elements in
// document order, each with a selector stable enough to act on later. Shape
// must match pageExtract.
const extractScript = `(() => {
  const isVisible = (el) => {
    const style = window.getComputedStyle(el);
    if (style.display === 'none' || style.visibility === 'hidden') return false;
    const rect = el.getBoundingClientRect();
    return rect.width > 0 && rect.height > 0;
  };

  const cssEscape = (s) => (window.CSS && CSS.escape) ? CSS.escape(s) : s.replace(/([^a-zA-Z0-9_-])/g, '\\$1');

  const selectorFor = (el) => {
    if (el.id) return '#' + cssEscape(el.id);
    const tag = el.tagName.toLowerCase();
    if (el.name) {
      let sel = tag + '[name="' + cssEscape(el.name) + '"]';
      if (el.type === 'radio' && el.value) sel += '[value="' + cssEscape(el.value) + '"]';
      if (document.querySelectorAll(sel).length === 1) return sel;
    }
    // Positional fallback: path of nth-of-type steps up to an id'd ancestor.
    const parts = [];
    let node = el;
    while (node && node.nodeType === Node.ELEMENT_NODE && node !== document.body) {
      let part = node.tagName.toLowerCase();
      if (node.id) { parts.unshift('#' + cssEscape(node.id)); break; }
      const siblings = Array.from(node.parentNode ? node.parentNode.children : [])
        .filter((c) => c.tagName === node.tagName);
      if (siblings.length > 1) part += ':nth-of-type(' + (siblings.indexOf(node) + 1) + ')';
      parts.unshift(part);
      node = node.parentNode;
    }
    return parts.join(' > ');
  };

  const labelFor = (el) => {
    if (el.labels && el.labels.length > 0) return el.labels[0].innerText;
    const aria = el.getAttribute('aria-label');
    if (aria) return aria;
    const labelled = el.getAttribute('aria-labelledby');
    if (labelled) {
      const ref = document.getElementById(labelled.split(' ')[0]);
      if (ref) return ref.innerText;
    }
    if (el.placeholder) return el.placeholder;
    const closest = el.closest('label');
    if (closest) return closest.innerText;
    if (el.tagName === 'BUTTON' || el.tagName === 'A') return el.innerText;
    if (el.type === 'submit' || el.type === 'button') return el.value || '';
    return el.name || '';
  };

  const elements = [];
  const nodes = document.querySelectorAll('input, select, textarea, button, a[href]');
  for (const el of nodes) {
    if (!isVisible(el)) continue;
    const tag = el.tagName.toLowerCase();
    if (tag === 'input' && el.type === 'hidden') continue;

    let value = el.value || '';
    if (el.type === 'checkbox' || el.type === 'radio') value = el.checked ? el.value || 'on' : '';

    let options = [];
    if (tag === 'select') {
      options = Array.from(el.options).map((o) => o.text.trim()).filter((t) => t.length > 0);
      const selected = el.options[el.selectedIndex];
      value = selected ? selected.text.trim() : '';
    }

    elements.push({
      selector: selectorFor(el),
      tag: tag,
      type: el.type || '',
      label: (labelFor(el) || '').trim(),
      value: value,
      options: options,
      required: !!el.required || el.getAttribute('aria-required') === 'true',
      disabled: !!el.disabled,
    });
  }

  return {
    url: window.location.href,
    visibleText: document.body ? document.body.innerText : '',
    elements: elements,
  };
})()`
