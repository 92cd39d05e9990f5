package lsp

import (
	"bytes"
	"encoding/json"
)

// DecodeLocations decodes a textDocument/definition result, which may be a
// single Location, a list of Locations or a list of LocationLinks. Links
// are reduced to their target selection.
func DecodeLocations(raw json.RawMessage) ([]Location, error) {
	if IsNull(raw) {
		return nil, nil
	}
	raw = bytes.TrimSpace(raw)
	if raw[0] != '[' {
		var loc Location
		if err := json.Unmarshal(raw, &loc); err != nil {
			return nil, err
		}
		return []Location{loc}, nil
	}

	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, err
	}
	locs := make([]Location, 0, len(items))
	for _, item := range items {
		var probe struct {
			TargetURI DocumentURI `json:"targetUri"`
		}
		if err := json.Unmarshal(item, &probe); err != nil {
			return nil, err
		}
		if probe.TargetURI != "" {
			var link LocationLink
			if err := json.Unmarshal(item, &link); err != nil {
				return nil, err
			}
			locs = append(locs, Location{URI: link.TargetURI, Range: link.TargetSelectionRange})
			continue
		}
		var loc Location
		if err := json.Unmarshal(item, &loc); err != nil {
			return nil, err
		}
		locs = append(locs, loc)
	}
	return locs, nil
}
