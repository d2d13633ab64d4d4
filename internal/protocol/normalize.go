package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

const resultSuffix = "_result"

// NormalizeForPlugin rewrites a browser-originated envelope before it is
// forwarded to a plugin. Commands ending in _result pass through verbatim.
// Otherwise a morphs field forces cmd to read_all_morphs, a controllers
// field forces cmd to read_all_controllers, and controller entries are
// completed: entries without a usable id are dropped, a rotation missing w
// gains w=1.0. The input envelope is never mutated, and applying the
// function twice yields the same result as applying it once.
func NormalizeForPlugin(env *Envelope) (*Envelope, error) {
	if strings.HasSuffix(env.cmd, resultSuffix) {
		return env, nil
	}

	cmd := env.cmd
	if env.Has("morphs") {
		cmd = CmdReadAllMorphs
	} else if env.Has("controllers") {
		cmd = CmdReadAllControllers
	}

	var controllers json.RawMessage
	controllersChanged := false
	if rawList, ok := env.fields["controllers"]; ok {
		normalized, changed, err := normalizeControllers(rawList)
		if err != nil {
			return nil, err
		}
		controllers, controllersChanged = normalized, changed
	}

	if cmd == env.cmd && !controllersChanged {
		return env, nil
	}

	fields := make(map[string]json.RawMessage, len(env.fields))
	for k, v := range env.fields {
		fields[k] = v
	}
	cmdJSON, err := json.Marshal(cmd)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal cmd: %w", err)
	}
	fields["cmd"] = cmdJSON
	if controllersChanged {
		fields["controllers"] = controllers
	}

	raw, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal normalized message: %w", err)
	}
	return &Envelope{cmd: cmd, fields: fields, raw: raw}, nil
}

// normalizeControllers validates and completes a controllers payload. The
// returned flag reports whether anything was rewritten. A payload that is
// not a JSON array passes through untouched.
func normalizeControllers(raw json.RawMessage) (json.RawMessage, bool, error) {
	var entries []json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		return raw, false, nil
	}

	out := make([]json.RawMessage, 0, len(entries))
	changed := false

	for _, rawEntry := range entries {
		var entry map[string]json.RawMessage
		if err := json.Unmarshal(rawEntry, &entry); err != nil || entry == nil {
			changed = true
			continue
		}

		rawID, ok := entry["id"]
		if !ok {
			changed = true
			continue
		}
		var id string
		if err := json.Unmarshal(rawID, &id); err != nil || strings.TrimSpace(id) == "" {
			changed = true
			continue
		}

		if rawRot, ok := entry["rotation"]; ok {
			completed, rotChanged, err := completeRotation(rawRot)
			if err != nil {
				return nil, false, err
			}
			if rotChanged {
				withRot := make(map[string]json.RawMessage, len(entry))
				for k, v := range entry {
					withRot[k] = v
				}
				withRot["rotation"] = completed
				buf, err := json.Marshal(withRot)
				if err != nil {
					return nil, false, fmt.Errorf("failed to marshal controller entry: %w", err)
				}
				rawEntry = buf
				changed = true
			}
		}

		out = append(out, rawEntry)
	}

	if !changed {
		return raw, false, nil
	}
	buf, err := json.Marshal(out)
	if err != nil {
		return nil, false, fmt.Errorf("failed to marshal controllers: %w", err)
	}
	return buf, true, nil
}

// completeRotation defaults w to 1.0 when a rotation lacks it or carries it
// as null. A rotation that is not a JSON object or null passes through
// untouched; a null rotation becomes {"w":1.0}.
func completeRotation(raw json.RawMessage) (json.RawMessage, bool, error) {
	var rot map[string]json.RawMessage
	if err := json.Unmarshal(raw, &rot); err != nil {
		return raw, false, nil
	}
	if rot == nil {
		rot = make(map[string]json.RawMessage, 1)
	}

	if w, ok := rot["w"]; ok && !isJSONNull(w) {
		return raw, false, nil
	}

	rot["w"] = json.RawMessage("1.0")
	buf, err := json.Marshal(rot)
	if err != nil {
		return nil, false, fmt.Errorf("failed to marshal rotation: %w", err)
	}
	return buf, true, nil
}

func isJSONNull(v json.RawMessage) bool {
	return string(bytes.TrimSpace(v)) == "null"
}
