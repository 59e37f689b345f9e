package chatproxy

import (
	"bytes"
	"encoding/json"
	"strings"
)

// mergeConnectAuth injects the configured token into bare control-channel
// connect requests. Frames that are not connect requests, or where the client
// supplied auth of its own, pass through byte-for-byte.
func mergeConnectAuth(frame []byte, token string) []byte {
	if token == "" || !bytes.Contains(frame, []byte(`"connect"`)) {
		return frame
	}

	var msg map[string]interface{}
	if err := json.Unmarshal(frame, &msg); err != nil {
		return frame
	}
	if msg["type"] != "req" || msg["method"] != "connect" {
		return frame
	}

	params, _ := msg["params"].(map[string]interface{})
	if params == nil {
		params = map[string]interface{}{}
	}
	if raw, exists := params["auth"]; exists {
		auth, ok := raw.(map[string]interface{})
		if !ok {
			return frame
		}
		if _, has := auth["token"]; has {
			return frame
		}
		auth["token"] = token
	} else {
		params["auth"] = map[string]interface{}{"token": token}
	}
	msg["params"] = params

	merged, err := json.Marshal(msg)
	if err != nil {
		return frame
	}
	return merged
}

// rewriteAvatarURLs prefixes every string value beginning /avatar/ so the
// browser fetches avatars back through the proxy. Frames without the marker
// skip the decode entirely.
func rewriteAvatarURLs(frame []byte, prefix string) []byte {
	if !bytes.Contains(frame, []byte("/avatar/")) {
		return frame
	}
	var doc interface{}
	if err := json.Unmarshal(frame, &doc); err != nil {
		return frame
	}
	rewritten, err := json.Marshal(prefixAvatarStrings(doc, prefix))
	if err != nil {
		return frame
	}
	return rewritten
}

func prefixAvatarStrings(value interface{}, prefix string) interface{} {
	switch v := value.(type) {
	case string:
		if strings.HasPrefix(v, "/avatar/") {
			return prefix + v
		}
	case map[string]interface{}:
		for key, item := range v {
			v[key] = prefixAvatarStrings(item, prefix)
		}
	case []interface{}:
		for i, item := range v {
			v[i] = prefixAvatarStrings(item, prefix)
		}
	}
	return value
}
