package browser

// Page scripts evaluated by the host. Each takes a single argument.

const mountScript = `({id, html, allowed, events}) => {
	const tpl = document.createElement('template');
	tpl.innerHTML = html;
	const root = tpl.content.firstElementChild;
	const targets = new Set(allowed);
	const block = (e) => {
		if (e.target && targets.has(e.target.id)) return;
		e.stopImmediatePropagation();
		e.preventDefault();
	};
	for (const type of events) {
		window.addEventListener(type, block, {capture: true, passive: false});
	}
	window.__breakwatchBlockers = window.__breakwatchBlockers || {};
	window.__breakwatchBlockers[id] = {block, events};
	for (const target of allowed) {
		const button = root.querySelector('#' + CSS.escape(target));
		if (!button) continue;
		button.addEventListener('click', (e) => {
			e.stopPropagation();
			window.breakwatchResolve(target);
		});
	}
	document.body.appendChild(root);
}`

const unmountScript = `(id) => {
	const blockers = window.__breakwatchBlockers || {};
	const entry = blockers[id];
	if (entry) {
		for (const type of entry.events) {
			window.removeEventListener(type, entry.block, {capture: true});
		}
		delete blockers[id];
	}
	const el = document.getElementById(id);
	if (el) el.remove();
}`

const mountedScript = `(id) => document.getElementById(id) !== null`

const focusScript = `(id) => {
	const el = document.getElementById(id);
	if (el) el.focus();
}`

// Only the inline body overflow is touched so restoring the captured value
// leaves the page exactly as it was.
const disableScrollScript = `() => {
	if (!document.body) return '';
	const prior = document.body.style.overflow;
	document.body.style.overflow = 'hidden';
	return prior;
}`

const restoreScrollScript = `(prior) => {
	if (document.body) document.body.style.overflow = prior;
}`

const (
	tagScript     = `(el) => el.tagName.toLowerCase()`
	mutedScript   = `(el) => el.muted`
	setMuteScript = `(el, muted) => { el.muted = muted; }`
	pausedScript  = `(el) => el.paused`
	pauseScript   = `(el) => { el.pause(); }`
	// play() rejects when autoplay is blocked; the element just stays paused.
	playScript = `(el) => { const p = el.play(); if (p) p.catch(() => {}); }`
)
