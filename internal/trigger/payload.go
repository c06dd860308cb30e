// Package trigger turns repository push notifications into deployment runs.
package trigger

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mitchellh/mapstructure"

	"github.com/lattiam/launchpad/internal/interfaces"
)

// Push is the part of a push notification launchpad acts on
type Push struct {
	Repository  string
	Revision    string
	Application string
	Targets     string
}

// genericPush is the minimal payload accepted from any CI system
type genericPush struct {
	Repository  string `json:"repository"`
	Revision    string `json:"revision"`
	Application string `json:"application"`
	Targets     string `json:"targets"`
}

// githubPush is the subset of GitHub's push event that matters here
type githubPush struct {
	Ref        string `json:"ref"`
	After      string `json:"after"`
	Deleted    bool   `json:"deleted"`
	Repository struct {
		FullName string `json:"full_name"`
	} `json:"repository"`
	HeadCommit *struct {
		ID string `json:"id"`
	} `json:"head_commit"`
}

const zeroRevision = "0000000000000000000000000000000000000000"

// IsPing reports whether the event is a webhook ping rather than a push
func IsPing(event string, body []byte) bool {
	if event == "ping" {
		return true
	}
	var probe struct {
		Zen    string `json:"zen"`
		HookID int64  `json:"hook_id"`
	}
	return json.Unmarshal(body, &probe) == nil && probe.Zen != "" && probe.HookID != 0
}

// ParsePush extracts repository and revision from either the generic
// {"repository", "revision"} shape or a GitHub push event.
func ParsePush(body []byte) (*Push, error) {
	var raw map[string]interface{}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, interfaces.WrapError(interfaces.KindInvalidInput, err, "payload is not a JSON object")
	}

	var push *Push
	var err error
	if _, nested := raw["repository"].(map[string]interface{}); nested {
		push, err = decodeGitHub(raw)
	} else {
		push, err = decodeGeneric(raw)
	}
	if err != nil {
		return nil, err
	}

	push.Repository = strings.TrimSpace(push.Repository)
	push.Revision = strings.TrimSpace(push.Revision)
	if push.Repository == "" {
		return nil, interfaces.NewError(interfaces.KindInvalidInput, "payload names no repository")
	}
	if push.Revision == "" {
		return nil, interfaces.NewError(interfaces.KindInvalidInput, "payload names no revision")
	}
	return push, nil
}

func decodeGeneric(raw map[string]interface{}) (*Push, error) {
	var payload genericPush
	if err := decode(raw, &payload); err != nil {
		return nil, err
	}
	return &Push{
		Repository:  payload.Repository,
		Revision:    payload.Revision,
		Application: payload.Application,
		Targets:     payload.Targets,
	}, nil
}

func decodeGitHub(raw map[string]interface{}) (*Push, error) {
	var payload githubPush
	if err := decode(raw, &payload); err != nil {
		return nil, err
	}
	if payload.Deleted || payload.After == zeroRevision {
		return nil, interfaces.NewError(interfaces.KindInvalidInput, "push deletes %s; nothing to deploy", payload.Ref)
	}

	revision := payload.After
	if payload.HeadCommit != nil && payload.HeadCommit.ID != "" {
		revision = payload.HeadCommit.ID
	}
	return &Push{Repository: payload.Repository.FullName, Revision: revision}, nil
}

func decode(raw map[string]interface{}, out interface{}) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		TagName:          "json",
	})
	if err != nil {
		return fmt.Errorf("failed to create decoder: %w", err)
	}
	if err := decoder.Decode(raw); err != nil {
		return interfaces.WrapError(interfaces.KindInvalidInput, err, "malformed push payload")
	}
	return nil
}
