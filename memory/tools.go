package memory

import (
	"context"
	"errors"

	"github.com/hupe1980/devmesh/core"
	"github.com/hupe1980/devmesh/session"
	"github.com/hupe1980/devmesh/tool"
)

// Tool names.
const (
	LoadToolName = "load_memory"
	SaveToolName = "save_memory"
)

// AnonymousUser scopes memories of sessions without a user.
const AnonymousUser = "anonymous"

// ToolOptions configures the memory tools.
type ToolOptions struct {
	// State resolves the user of the calling session when the arguments
	// carry no user_id.
	State *session.StateStore
}

type loadArgs struct {
	Query    string `json:"query,omitempty" description:"Keywords to search for"`
	MemoryID string `json:"memory_id,omitempty" description:"Identifier of a specific memory"`
	Limit    int    `json:"limit,omitempty" description:"Maximum number of memories to return"`
	UserID   string `json:"user_id,omitempty" description:"Owner of the memories"`
}

type saveArgs struct {
	Content  string         `json:"content" description:"Knowledge to remember"`
	Metadata map[string]any `json:"metadata,omitempty" description:"Free-form tags"`
	UserID   string         `json:"user_id,omitempty" description:"Owner of the memory"`
}

// NewLoadTool returns the load_memory tool. It loads one memory by
// memory_id or searches by query, returning at most limit matches
// (DefaultSearchLimit when unset).
func NewLoadTool(store Store, optFns ...func(o *ToolOptions)) *tool.FunctionTool {
	opts := toolOptions(optFns)
	return tool.NewFunctionToolFromStruct(LoadToolName,
		"Load previously saved knowledge by memory id or keyword query.",
		loadArgs{},
		func(ctx context.Context, args core.Request) (any, error) {
			user := resolveUser(ctx, args, opts.State)
			if id := args.String("memory_id"); id != "" {
				e, err := store.Load(ctx, user, id)
				if err != nil {
					if errors.Is(err, ErrNotFound) {
						return core.ErrorResultWith(err.Error(), map[string]any{"memory_id": id}), nil
					}
					return nil, err
				}
				return core.Success(map[string]any{"memory": e.Map()}), nil
			}
			query := args.String("query")
			if query == "" {
				return nil, tool.NewToolError(LoadToolName, "Either 'query' or 'memory_id' must be provided", tool.CodeValidation)
			}
			found, err := store.Search(ctx, user, query, intArg(args, "limit"))
			if err != nil {
				return nil, err
			}
			memories := make([]map[string]any, 0, len(found))
			for _, r := range found {
				m := r.Map()
				m["score"] = r.Score
				memories = append(memories, m)
			}
			return core.Success(map[string]any{
				"query":    query,
				"memories": memories,
				"count":    len(memories),
			}), nil
		})
}

// NewSaveTool returns the save_memory tool.
func NewSaveTool(store Store, optFns ...func(o *ToolOptions)) *tool.FunctionTool {
	opts := toolOptions(optFns)
	return tool.NewFunctionToolFromStruct(SaveToolName,
		"Remember a piece of knowledge for later sessions.",
		saveArgs{},
		func(ctx context.Context, args core.Request) (any, error) {
			var meta map[string]any
			if m, ok := args["metadata"].(map[string]any); ok {
				meta = m
			}
			e, err := store.Save(ctx, resolveUser(ctx, args, opts.State), args.String("content"), meta)
			if err != nil {
				return nil, err
			}
			return core.Success(map[string]any{"memory_id": e.ID}), nil
		})
}

func toolOptions(optFns []func(o *ToolOptions)) ToolOptions {
	opts := ToolOptions{}
	for _, fn := range optFns {
		fn(&opts)
	}
	return opts
}

func resolveUser(ctx context.Context, args core.Request, state *session.StateStore) string {
	if u := args.String(core.KeyUserID); u != "" {
		return u
	}
	if state != nil {
		if id := core.SessionIDFromContext(ctx); id != "" {
			if sess, err := state.Get(ctx, id); err == nil && sess.UserID != "" {
				return sess.UserID
			}
		}
	}
	return AnonymousUser
}

func intArg(args core.Request, key string) int {
	switch v := args[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}
