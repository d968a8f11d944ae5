package bootstrap

// JS shims prepended to the downloaded debugger-worker payload. Composition
// order is an invariant: the identity shims must run before the payload so
// its environment detection branches the way it would inside the embedded
// runtime.

// workerScopeShim installs a worker/global-scope model over the stdio
// JSON-line channel: postMessage writes a line, onmessage fires per line.
const workerScopeShim = `
var __stdout = process.stdout;
var __readline = require("node:readline");
var self = global;
self.postMessage = function (message) {
  __stdout.write(JSON.stringify(message) + "\n");
};
self.onmessage = null;
self.importScripts = function () {};
var __rl = __readline.createInterface({ input: process.stdin, terminal: false });
__rl.on("line", function (line) {
  if (!line) {
    return;
  }
  var message;
  try {
    message = JSON.parse(line);
  } catch (e) {
    return;
  }
  if (typeof self.onmessage === "function") {
    self.onmessage({ data: message });
  }
});
`

// stackTracePatch forces stack traces into plain strings. Structured
// CallSite objects cannot cross the stdio channel and fault the host.
const stackTracePatch = `
Error.prepareStackTrace = function (error, stack) {
  return String(error) + stack.map(function (frame) {
    return "\n    at " + frame;
  }).join("");
};
`

// processMaskShim hides the host process identity from the payload. Runs
// after the channel references are captured, before the payload loads.
const processMaskShim = `
self.process = undefined;
`

// fetchShim is a minimal network fetch for bundler variants whose worker
// payload expects one in scope.
const fetchShim = `
if (typeof self.fetch !== "function") {
  var __http = require("node:http");
  self.fetch = function (url) {
    return new Promise(function (resolve, reject) {
      __http.get(url, function (res) {
        var body = "";
        res.on("data", function (chunk) { body += chunk; });
        res.on("end", function () {
          resolve({
            status: res.statusCode,
            ok: res.statusCode >= 200 && res.statusCode < 300,
            text: function () { return Promise.resolve(body); },
            json: function () { return Promise.resolve(JSON.parse(body)); }
          });
        });
      }).on("error", reject);
    });
  };
}
`

// readyMarker is emitted last, after the payload has finished loading
const readyMarker = `
__stdout.write(JSON.stringify({ status: "ready" }) + "\n");
`
