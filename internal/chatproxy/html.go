package chatproxy

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/missionctl/missionctl/internal/agents"
)

// basePathSentinel is the assignment the upstream UI ships in its index page.
// The bootstrap script is spliced over its first occurrence; pages without it
// pass through untouched.
const basePathSentinel = `window.__OPENCLAW__BASE_PATH__ = "";`

// bootstrapScript reconfigures the chat UI to live under the proxy prefix:
// it points the base path and gateway settings at /chat/{slug}, clears stale
// device auth, and keeps avatar URLs inside the prefix as the UI re-renders.
// __MC_BASE__ and __MC_TOKEN__ are replaced with JSON-encoded values before
// injection.
const bootstrapScript = `window.__OPENCLAW__BASE_PATH__ = __MC_BASE__;
(function () {
  try {
    for (var i = localStorage.length - 1; i >= 0; i--) {
      var key = localStorage.key(i);
      if (key && key.indexOf("openclaw.device-") === 0) {
        localStorage.removeItem(key);
      }
    }
    localStorage.setItem("openclaw.settings", JSON.stringify({
      gatewayUrl: window.location.origin + __MC_BASE__ + "/",
      token: __MC_TOKEN__
    }));
  } catch (err) {}
  if (typeof window.__OPENCLAW__ASSISTANT_AVATAR__ === "string" &&
      window.__OPENCLAW__ASSISTANT_AVATAR__.indexOf("/avatar/") === 0) {
    window.__OPENCLAW__ASSISTANT_AVATAR__ = __MC_BASE__ + window.__OPENCLAW__ASSISTANT_AVATAR__;
  }
  function rewriteAvatars(root) {
    if (!root || root.nodeType !== 1) {
      return;
    }
    if (root.matches && root.matches('[src^="/avatar/"]')) {
      root.setAttribute("src", __MC_BASE__ + root.getAttribute("src"));
    }
    if (!root.querySelectorAll) {
      return;
    }
    var nodes = root.querySelectorAll('[src^="/avatar/"]');
    for (var j = 0; j < nodes.length; j++) {
      nodes[j].setAttribute("src", __MC_BASE__ + nodes[j].getAttribute("src"));
    }
  }
  var observer = new MutationObserver(function (mutations) {
    for (var k = 0; k < mutations.length; k++) {
      var mutation = mutations[k];
      if (mutation.type === "attributes") {
        rewriteAvatars(mutation.target);
        continue;
      }
      for (var n = 0; n < mutation.addedNodes.length; n++) {
        rewriteAvatars(mutation.addedNodes[n]);
      }
    }
  });
  function arm() {
    rewriteAvatars(document.documentElement);
    observer.observe(document.documentElement, {
      childList: true,
      subtree: true,
      attributes: true,
      attributeFilter: ["src"]
    });
  }
  if (document.readyState === "loading") {
    document.addEventListener("DOMContentLoaded", arm);
  } else {
    arm();
  }
})();`

// injectBootstrap splices the bootstrap script over the base-path sentinel.
func injectBootstrap(body []byte, agent *agents.Agent) []byte {
	if !bytes.Contains(body, []byte(basePathSentinel)) {
		return body
	}
	base, _ := json.Marshal("/chat/" + agent.Slug)
	token, _ := json.Marshal(agent.Token)
	script := strings.NewReplacer(
		"__MC_BASE__", string(base),
		"__MC_TOKEN__", string(token),
	).Replace(bootstrapScript)
	return bytes.Replace(body, []byte(basePathSentinel), []byte(script), 1)
}
