package export

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/contexhq/contex/pkg/engine"
	"github.com/contexhq/contex/pkg/parser"
)

// Target is the write side of an engine. ProjectData is only consulted
// when an import runs with overwrite disabled.
type Target interface {
	Publish(ctx context.Context, req engine.PublishRequest) (*engine.PublishResult, error)
	Register(ctx context.Context, req engine.RegisterRequest) (*engine.RegisterResponse, error)
	ProjectData(ctx context.Context, projectID string) ([]engine.DataItem, error)
}

// ApplyOptions controls how an envelope is replayed. The zero value
// validates and writes nothing over existing keys.
type ApplyOptions struct {
	// ValidateOnly stops after validation without touching the target.
	ValidateOnly bool
	// Overwrite lets imported items replace keys the target already
	// holds. When false, existing keys are reported as skipped.
	Overwrite bool
}

// Result reports what an import did.
type Result struct {
	ProjectID  string     `json:"project_id"`
	Items      int        `json:"items_imported"`
	Agents     int        `json:"agents_imported"`
	Skipped    []string   `json:"skipped,omitempty"`
	Validation Validation `json:"validation"`
}

// Apply replays the envelope into the target. Items go through the
// regular publish path in their original sequence order, so they are
// re-embedded and get fresh sequence numbers; agents re-register and
// receive a new initial context. Event history is not replayed, it
// regrows from the publishes.
func Apply(ctx context.Context, target Target, env *Envelope, opts ApplyOptions) (*Result, error) {
	val := env.Validate()
	res := &Result{ProjectID: env.ProjectID, Validation: val}
	if !val.Valid {
		return res, fmt.Errorf("%w: %d problems", ErrInvalid, len(val.Errors))
	}
	if opts.ValidateOnly {
		return res, nil
	}

	var existing map[string]bool
	if !opts.Overwrite {
		var err error
		existing, err = existingKeys(ctx, target, env.ProjectID)
		if err != nil {
			return res, err
		}
	}

	items := slices.Clone(env.Data.Items)
	slices.SortStableFunc(items, func(a, b Item) int {
		return cmp.Compare(a.Sequence, b.Sequence)
	})

	for _, item := range items {
		if existing[item.DataKey] {
			res.Skipped = append(res.Skipped, fmt.Sprintf("item %s: already exists", item.DataKey))
			continue
		}
		data, err := reviveData(item.Data)
		if err != nil {
			res.Skipped = append(res.Skipped, fmt.Sprintf("item %s: %v", item.DataKey, err))
			continue
		}
		if _, err := target.Publish(ctx, engine.PublishRequest{
			ProjectID: env.ProjectID,
			DataKey:   item.DataKey,
			Data:      data,
			Format:    item.Format,
		}); err != nil {
			res.Skipped = append(res.Skipped, fmt.Sprintf("item %s: %v", item.DataKey, err))
			continue
		}
		res.Items++
	}

	for _, agent := range env.Data.Agents {
		method := agent.NotificationMethod
		if method == "" {
			method = engine.MethodRedis
		}
		if _, err := target.Register(ctx, engine.RegisterRequest{
			ProjectID:          env.ProjectID,
			AgentID:            agent.AgentID,
			DataNeeds:          agent.DataNeeds,
			NotificationMethod: method,
			WebhookURL:         agent.WebhookURL,
		}); err != nil {
			res.Skipped = append(res.Skipped, fmt.Sprintf("agent %s: %v", agent.AgentID, err))
			continue
		}
		res.Agents++
	}

	slog.Info("Project imported",
		"project_id", env.ProjectID,
		"items", res.Items,
		"agents", res.Agents,
		"skipped", len(res.Skipped))
	return res, nil
}

// existingKeys lists the data keys the target already holds for the
// project. A project the target has never seen holds none.
func existingKeys(ctx context.Context, target Target, projectID string) (map[string]bool, error) {
	items, err := target.ProjectData(ctx, projectID)
	if err != nil {
		if errors.Is(err, engine.ErrProjectNotFound) {
			return nil, nil
		}
		return nil, err
	}
	keys := make(map[string]bool, len(items))
	for _, item := range items {
		keys[item.DataKey] = true
	}
	return keys, nil
}

// reviveData turns a decoded export value back into a publishable one,
// preserving object key order where it survived the dump.
func reviveData(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return parser.Decode(raw)
}
