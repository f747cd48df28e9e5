package mqtt

import (
	"encoding/json"
	"fmt"

	"github.com/sutera/worldloader/internal/orchestrator"
)

// LoadRequest is a v1 load trigger. An empty path loads the configured
// default world; Reload loads the current world again.
type LoadRequest struct {
	Version   int    `json:"version"`
	Path      string `json:"path"`
	Reload    bool   `json:"reload,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// ParseLoadRequest parses a trigger payload from JSON bytes.
func ParseLoadRequest(data []byte) (*LoadRequest, error) {
	var req LoadRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("invalid load request JSON: %w", err)
	}
	if req.Version != 1 {
		return nil, fmt.Errorf("unsupported load request version: %d", req.Version)
	}
	if req.Reload && req.Path != "" {
		return nil, fmt.Errorf("reload and path are mutually exclusive")
	}
	return &req, nil
}

// ResultPayload is published after every triggered load.
type ResultPayload struct {
	Version int `json:"version"`
	orchestrator.Result
}

func encodeResult(res orchestrator.Result) ([]byte, error) {
	return json.Marshal(ResultPayload{Version: 1, Result: res})
}

// Topics names the per-room topics.
type Topics struct {
	Prefix string
	Room   string
}

func (t Topics) base() string { return t.Prefix + "/" + t.Room }

// Load is where load requests arrive.
func (t Topics) Load() string { return t.base() + "/world/load" }

// Result is where outcomes are published.
func (t Topics) Result() string { return t.base() + "/world/result" }

// Status carries the retained online/offline marker.
func (t Topics) Status() string { return t.base() + "/status" }
