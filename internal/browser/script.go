package browser

import "github.com/jonathan/job-autofill/internal/dom"

// Element operations run as function declarations bound to the element.
const (
	jsValue = `function() {
	if (this.isContentEditable) return this.innerText;
	if ('value' in this && typeof this.value === 'string') return this.value;
	return this.textContent || '';
}`

	jsChecked = `function() { return !!this.checked; }`

	jsSelectedIndex = `function() {
	return typeof this.selectedIndex === 'number' ? this.selectedIndex : -1;
}`

	jsVisible = `function() {
	if (!this.isConnected) return false;
	const view = this.ownerDocument.defaultView;
	const style = view ? view.getComputedStyle(this) : null;
	if (style && (style.display === 'none' || style.visibility === 'hidden' || style.opacity === '0')) return false;
	const rect = this.getBoundingClientRect();
	return rect.width > 0 && rect.height > 0;
}`

	jsFocus = `function() { this.focus(); }`

	jsClick = `function() { this.click(); }`

	jsInsertText = `function(text) {
	const doc = this.ownerDocument;
	this.focus();
	if (typeof doc.execCommand !== 'function') return false;
	if (doc.queryCommandSupported && !doc.queryCommandSupported('insertText')) return false;
	return doc.execCommand('insertText', false, text);
}`

	// The setter of the nearest prototype that defines value bypasses an
	// instance-level setter installed by a framework. Editors without a value
	// property have their content replaced through the editing commands.
	jsSetNativeValue = `function(value) {
	if (this.isContentEditable) {
		const doc = this.ownerDocument;
		const sel = doc.defaultView.getSelection();
		this.focus();
		if (sel) {
			const range = doc.createRange();
			range.selectNodeContents(this);
			sel.removeAllRanges();
			sel.addRange(range);
		}
		let done = false;
		if (typeof doc.execCommand === 'function') {
			done = value === '' ? doc.execCommand('delete', false) : doc.execCommand('insertText', false, value);
		}
		const text = (this.innerText || '').replace(/\s+/g, ' ').trim();
		if (!done || text !== value.replace(/\s+/g, ' ').trim()) this.textContent = value;
		return;
	}
	let desc;
	for (let proto = Object.getPrototypeOf(this); proto && !desc; proto = Object.getPrototypeOf(proto)) {
		desc = Object.getOwnPropertyDescriptor(proto, 'value');
	}
	if (desc && desc.set) desc.set.call(this, value);
	else this.value = value;
}`

	jsDispatch = `function(type, bubbles, key) {
	const view = this.ownerDocument.defaultView;
	const init = { bubbles: bubbles, cancelable: true };
	let ev;
	if (key) ev = new view.KeyboardEvent(type, Object.assign({ key: key }, init));
	else if (type === 'input') ev = new view.InputEvent(type, init);
	else if (type === 'blur' || type === 'focus') ev = new view.FocusEvent(type, init);
	else ev = new view.Event(type, init);
	this.dispatchEvent(ev);
}`

	jsTypeRune = `function(ch) {
	const view = this.ownerDocument.defaultView;
	const key = { key: ch, bubbles: true, cancelable: true };
	this.dispatchEvent(new view.KeyboardEvent('keydown', key));
	if (this.isContentEditable) {
		const doc = this.ownerDocument;
		const sel = view.getSelection();
		if (sel) {
			const range = doc.createRange();
			range.selectNodeContents(this);
			range.collapse(false);
			sel.removeAllRanges();
			sel.addRange(range);
		}
		const before = this.innerText || '';
		const ok = typeof doc.execCommand === 'function' && doc.execCommand('insertText', false, ch);
		if (!ok || (this.innerText || '') === before) this.textContent = before + ch;
	} else if ('value' in this) {
		let desc;
		for (let proto = Object.getPrototypeOf(this); proto && !desc; proto = Object.getPrototypeOf(proto)) {
			desc = Object.getOwnPropertyDescriptor(proto, 'value');
		}
		const next = (this.value || '') + ch;
		if (desc && desc.set) desc.set.call(this, next);
		else this.value = next;
	}
	this.dispatchEvent(new view.InputEvent('input', { data: ch, inputType: 'insertText', bubbles: true }));
	this.dispatchEvent(new view.KeyboardEvent('keyup', key));
}`

	jsFileCount = `function() { return this.files ? this.files.length : 0; }`

	jsSetFiles = `function(files) {
	const view = this.ownerDocument.defaultView;
	const dt = new view.DataTransfer();
	for (const f of files) {
		const bin = atob(f.data);
		const bytes = new Uint8Array(bin.length);
		for (let i = 0; i < bin.length; i++) bytes[i] = bin.charCodeAt(i);
		dt.items.add(new view.File([bytes], f.name, { type: f.type }));
	}
	this.files = dt.files;
	this.dispatchEvent(new view.Event('change', { bubbles: true }));
}`

	jsDropFiles = `function(files) {
	const view = this.ownerDocument.defaultView;
	const dt = new view.DataTransfer();
	for (const f of files) {
		const bin = atob(f.data);
		const bytes = new Uint8Array(bin.length);
		for (let i = 0; i < bin.length; i++) bytes[i] = bin.charCodeAt(i);
		dt.items.add(new view.File([bytes], f.name, { type: f.type }));
	}
	for (const type of ['dragenter', 'dragover', 'drop']) {
		this.dispatchEvent(new view.DragEvent(type, { bubbles: true, cancelable: true, dataTransfer: dt }));
	}
}`
)

// filePayload is how a file crosses into the page; Data marshals as base64.
type filePayload struct {
	Name string `json:"name"`
	Type string `json:"type"`
	Data []byte `json:"data"`
}

func payloadFiles(files []dom.File) []filePayload {
	out := make([]filePayload, len(files))
	for i, f := range files {
		out[i] = filePayload{Name: f.Name, Type: f.MIMEType, Data: f.Data}
	}
	return out
}
