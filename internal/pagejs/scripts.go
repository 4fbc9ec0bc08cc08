package pagejs

import (
	"github.com/dgnsrekt/scrollframe/internal/scrollmon"
	"github.com/dgnsrekt/scrollframe/internal/types"
)

// ElementAttr tags scroll containers found by DocumentTree so Listen can
// find them again.
const ElementAttr = "data-scrollframe-id"

const overlayID = "__scrollframe_overlay"

const jsState = `
var sf = window.__scrollframe;
if (!sf) { sf = window.__scrollframe = {seq:0, listeners:{}}; }
`

const jsResolveContainer = `
function _container(h) {
  if (h === "window") return window;
  return document.querySelector("[` + ElementAttr + `=\"" + h + "\"]");
}
function _scrollTop(el) {
  if (el === window) return window.scrollY || document.documentElement.scrollTop || 0;
  return el.scrollTop || 0;
}
`

// PageInfo reads URL, title, viewport size, device pixel ratio and scroll
// offsets.
func PageInfo() string {
	return wrapJSEval(`
return JSON.stringify({ok:true,data:{
  url: String(location.href),
  title: String(document.title || ""),
  width: window.innerWidth,
  height: window.innerHeight,
  devicePixelRatio: window.devicePixelRatio || 1,
  scrollX: window.scrollX || 0,
  scrollY: window.scrollY || 0
}});`)
}

// DocumentTree scans the document for elements whose overflow style allows
// scrolling and returns them as a flat list of scrollmon.FlatNode. The root
// element and body are scanned too, since html,body{height:100%} layouts
// scroll one of them. Each reported element is tagged with ElementAttr.
// Parent links point at the nearest reported ancestor.
func DocumentTree() string {
	return wrapJSEval(jsState + `
var out = [];
var all = [];
if (document.documentElement) all.push(document.documentElement);
if (document.body) {
  all.push(document.body);
  var desc = document.body.getElementsByTagName("*");
  for (var d = 0; d < desc.length; d++) all.push(desc[d]);
}
for (var i = 0; i < all.length; i++) {
  var el = all[i];
  var cs = window.getComputedStyle(el);
  var ox = cs.overflowX, oy = cs.overflowY;
  var styled = ox === "auto" || ox === "scroll" || oy === "auto" || oy === "scroll";
  if (!styled) continue;
  var id = el.getAttribute("` + ElementAttr + `");
  if (!id) { sf.seq++; id = "sf-" + sf.seq; el.setAttribute("` + ElementAttr + `", id); }
  var parent = "";
  var p = el.parentElement;
  while (p) {
    var pid = p.getAttribute && p.getAttribute("` + ElementAttr + `");
    if (pid) { parent = pid; break; }
    p = p.parentElement;
  }
  out.push({
    id: id,
    tag: el.tagName.toLowerCase(),
    scrollWidth: el.scrollWidth,
    scrollHeight: el.scrollHeight,
    clientWidth: el.clientWidth,
    clientHeight: el.clientHeight,
    overflowX: ox,
    overflowY: oy,
    parent: parent
  });
}
return JSON.stringify({ok:true,data:out});`)
}

// Listen attaches one passive scroll listener to the container. Each event
// calls the binding with a JSON-encoded scrollmon.Event whose listener field
// names h. Re-attaching a container replaces its previous listener.
//
// The window listener runs in the capture phase, so it also sees scrolls of
// elements that were not scrollable when the scan ran. Those are tagged on
// first sight and reported under their own handle. Elements that have their
// own listener are skipped there to avoid double delivery.
func Listen(h scrollmon.ContainerHandle, binding string) string {
	return wrapJSEval(jsState + jsResolveContainer + `
var h = ` + jsString(string(h)) + `;
var b = ` + jsString(binding) + `;
var el = _container(h);
if (!el) return JSON.stringify({ok:false,error_code:"` + types.CodeNotFound + `",error_message:"container not found: " + h});
var prev = sf.listeners[h];
if (prev) { prev.el.removeEventListener("scroll", prev.fn, prev.capture); }
var send = function(c, top) {
  if (typeof window[b] !== "function") return;
  window[b](JSON.stringify({container:c, listener:h, scrollTop:top}));
};
var fn, capture = false;
if (el === window) {
  capture = true;
  fn = function(ev) {
    var t = ev.target;
    if (!t || t === document || t === window || !t.getAttribute) { send(h, _scrollTop(window)); return; }
    var id = t.getAttribute("` + ElementAttr + `");
    if (id && sf.listeners[id] && sf.listeners[id].el === t) return;
    if (!id) { sf.seq++; id = "sf-" + sf.seq; t.setAttribute("` + ElementAttr + `", id); }
    send(id, t.scrollTop || 0);
  };
} else {
  fn = function() { send(h, _scrollTop(el)); };
}
el.addEventListener("scroll", fn, {passive:true, capture:capture});
sf.listeners[h] = {el:el, fn:fn, capture:capture};
return JSON.stringify({ok:true,data:{container:h,capture:capture}});`)
}

// Unlisten detaches the container's scroll listener. Detaching an unknown
// container is not an error.
func Unlisten(h scrollmon.ContainerHandle) string {
	return wrapJSEval(jsState + `
var h = ` + jsString(string(h)) + `;
var prev = sf.listeners[h];
if (prev) { prev.el.removeEventListener("scroll", prev.fn, prev.capture); delete sf.listeners[h]; }
return JSON.stringify({ok:true,data:{detached:!!prev}});`)
}

const jsOverlayHelper = `
function _overlay() {
  var o = document.getElementById("` + overlayID + `");
  if (!o) {
    o = document.createElement("div");
    o.id = "` + overlayID + `";
    o.style.position = "fixed";
    o.style.zIndex = "2147483647";
    o.style.pointerEvents = "none";
    o.style.boxSizing = "border-box";
    (document.body || document.documentElement).appendChild(o);
  }
  return o;
}
function _place(o, r) {
  o.style.left = r.x + "px";
  o.style.top = r.y + "px";
  o.style.width = r.width + "px";
  o.style.height = r.height + "px";
}
`

// ShowSelection draws the dimmed-page selection rectangle.
func ShowSelection(r types.Region) string {
	return wrapJSEval(jsOverlayHelper + `
var o = _overlay();
_place(o, ` + jsJSON(r) + `);
o.style.border = "2px dashed #ff6b35";
o.style.boxShadow = "0 0 0 9999px rgba(0,0,0,0.35)";
o.style.background = "transparent";
o.setAttribute("data-mode", "selecting");
return JSON.stringify({ok:true});`)
}

// ShowActiveRegion outlines the confirmed capture region.
func ShowActiveRegion(r types.Region) string {
	return wrapJSEval(jsOverlayHelper + `
var o = _overlay();
_place(o, ` + jsJSON(r) + `);
o.style.border = "3px solid #ff6b35";
o.style.boxShadow = "none";
o.style.background = "transparent";
o.setAttribute("data-mode", "active");
return JSON.stringify({ok:true});`)
}

// Flash briefly whitens the capture region as capture feedback.
func Flash() string {
	return wrapJSEval(`
var o = document.getElementById("` + overlayID + `");
if (!o) return JSON.stringify({ok:true,data:{flashed:false}});
o.style.transition = "background-color 150ms ease-out";
o.style.background = "rgba(255,255,255,0.6)";
setTimeout(function() { o.style.background = "transparent"; }, 150);
return JSON.stringify({ok:true,data:{flashed:true}});`)
}

// ClearOverlay removes the overlay element.
func ClearOverlay() string {
	return wrapJSEval(`
var o = document.getElementById("` + overlayID + `");
if (o && o.parentNode) o.parentNode.removeChild(o);
return JSON.stringify({ok:true});`)
}

const jsBlobHelper = `
function _b64Blob(b64, mime) {
  var bin = atob(b64);
  var bytes = new Uint8Array(bin.length);
  for (var i = 0; i < bin.length; i++) bytes[i] = bin.charCodeAt(i);
  return new Blob([bytes], {type: mime});
}
function _clipboardFailed(err) {
  return JSON.stringify({ok:false,error_code:"` + types.CodeClipboardFailed + `",error_message:String(err && err.message || err)});
}
`

// WriteImage puts a base64 PNG on the clipboard.
func WriteImage(pngBase64 string) string {
	return wrapJSEvalAsync(jsBlobHelper + `
if (!navigator.clipboard || typeof ClipboardItem === "undefined") return _clipboardFailed("clipboard API unavailable");
try {
  await navigator.clipboard.write([new ClipboardItem({"image/png": _b64Blob(` + jsString(pngBase64) + `, "image/png")})]);
} catch (err) { return _clipboardFailed(err); }
return JSON.stringify({ok:true});`)
}

// WriteHTMLAndText puts an HTML document and its plain-text rendering on the
// clipboard as one item.
func WriteHTMLAndText(html, text string) string {
	return wrapJSEvalAsync(jsBlobHelper + `
if (!navigator.clipboard || typeof ClipboardItem === "undefined") return _clipboardFailed("clipboard API unavailable");
try {
  await navigator.clipboard.write([new ClipboardItem({
    "text/html": new Blob([` + jsString(html) + `], {type: "text/html"}),
    "text/plain": new Blob([` + jsString(text) + `], {type: "text/plain"})
  })]);
} catch (err) { return _clipboardFailed(err); }
return JSON.stringify({ok:true});`)
}
