package devhost

import (
	"encoding/json"
	"strings"
)

// extensionShim defines the extension object a Crosswalk runtime hands to an
// extension's JavaScript API, backed by the /ws and /sync endpoints.
const extensionShim = `var instance = -1, listener = null, queue = [], ws;
function send(m) { ws.send(JSON.stringify({type: "post", data: m})); }
ws = new WebSocket((location.protocol === "https:" ? "wss://" : "ws://") + location.host + "/ws");
ws.onmessage = function(ev) {
  var f = JSON.parse(ev.data);
  if (f.type === "instance") {
    instance = f.instance;
    queue.splice(0).forEach(send);
  } else if (f.type === "message") {
    if (listener) listener(f.data);
  } else if (f.type === "reload") {
    location.reload();
  }
};
var extension = {
  postMessage: function(m) { if (instance < 0) queue.push(String(m)); else send(String(m)); },
  setMessageListener: function(fn) { listener = fn; },
  internal: {
    sendSyncMessage: function(m) {
      var x = new XMLHttpRequest();
      x.open("POST", "/sync?instance=" + instance, false);
      x.send(String(m));
      return x.status === 200 ? x.responseText : "";
    }
  }
};
`

// ExtensionScript returns the page script for an extension: the extension
// shim, the extension's API evaluated against it, and the resulting exports
// assigned to window[name]. Dotted names create nested objects.
func ExtensionScript(name, api string) string {
	quoted, _ := json.Marshal(name)
	var b strings.Builder
	b.WriteString("(function() {\n")
	b.WriteString(extensionShim)
	b.WriteString("var exports = {};\n(function(exports, extension) {\n")
	b.WriteString(api)
	b.WriteString("\n})(exports, extension);\n")
	b.WriteString("var parts = " + string(quoted) + ".split(\".\"), target = window;\n")
	b.WriteString("for (var i = 0; i < parts.length - 1; i++) { target = target[parts[i]] = target[parts[i]] || {}; }\n")
	b.WriteString("target[parts[parts.length - 1]] = exports;\n")
	b.WriteString("window.extension = extension;\n")
	b.WriteString("window.xwalkExtensionName = " + string(quoted) + ";\n")
	b.WriteString("})();\n")
	return b.String()
}

// defaultPage is served when the script directory has no index.html.
const defaultPage = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>xwalk-lua</title>
<style>
body { font-family: monospace; margin: 2em; }
#log { white-space: pre-wrap; border: 1px solid #ccc; padding: 1em; min-height: 10em; }
input { width: 40em; }
</style>
</head>
<body>
<h1 id="title">xwalk-lua</h1>
<p>
<input id="msg" placeholder="message">
<button id="post">postMessage</button>
<button id="sync">sendSyncMessage</button>
</p>
<div id="log"></div>
<script src="/extension.js"></script>
<script>
(function() {
  var log = document.getElementById("log");
  function line(s) { log.textContent += s + "\n"; }
  if (window.xwalkExtensionName) document.getElementById("title").textContent = window.xwalkExtensionName;
  extension.setMessageListener(function(m) { line("message: " + m); });
  document.getElementById("post").onclick = function() {
    var m = document.getElementById("msg").value;
    extension.postMessage(m);
    line("posted: " + m);
  };
  document.getElementById("sync").onclick = function() {
    var m = document.getElementById("msg").value;
    line("reply: " + extension.internal.sendSyncMessage(m));
  };
})();
</script>
</body>
</html>
`
