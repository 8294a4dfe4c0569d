package cel

import (
	"path/filepath"
	"strings"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/ext"

	"github.com/ailink/gateway/internal/domain/policy"
)

// NewPolicyEnvironment creates the CEL environment policy `when` predicates
// compile against. Variables mirror policy.RequestContext; custom
// functions cover glob matching, header/body lookups that the CEL standard
// library doesn't give a JSON-like dynamic map for free.
func NewPolicyEnvironment() (*cel.Env, error) {
	return cel.NewEnv(
		ext.Strings(),
		ext.Sets(),

		cel.Variable("method", cel.StringType),
		cel.Variable("path", cel.StringType),
		cel.Variable("model", cel.StringType),
		cel.Variable("headers", cel.MapType(cel.StringType, cel.StringType)),
		cel.Variable("body", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("estimated_tokens", cel.IntType),

		cel.Variable("token_id", cel.StringType),
		cel.Variable("project_id", cel.StringType),
		cel.Variable("team_id", cel.StringType),
		cel.Variable("attribution", cel.StringType),
		cel.Variable("request_time", cel.TimestampType),

		cel.Variable("completion_text", cel.StringType),
		cel.Variable("finish_reason", cel.StringType),
		cel.Variable("tool_call_count", cel.IntType),

		// glob: shell-style pattern match, used for path/model globs.
		// Usage: glob("/v1/chat/*", path)
		cel.Function("glob",
			cel.Overload("glob_string_string",
				[]*cel.Type{cel.StringType, cel.StringType},
				cel.BoolType,
				cel.BinaryBinding(func(pattern, value ref.Val) ref.Val {
					p := pattern.Value().(string)
					v := value.Value().(string)
					matched, _ := filepath.Match(p, v)
					return types.Bool(matched)
				}),
			),
		),

		// header: case-insensitive header lookup, since HTTP header names
		// are case-insensitive but the headers map key casing depends on
		// how the client sent them.
		// Usage: header(headers, "x-session-id") == "abc"
		cel.Function("header",
			cel.Overload("header_map_string",
				[]*cel.Type{cel.MapType(cel.StringType, cel.StringType), cel.StringType},
				cel.StringType,
				cel.BinaryBinding(func(mapVal, keyVal ref.Val) ref.Val {
					key := strings.ToLower(keyVal.Value().(string))
					goMap, ok := mapVal.Value().(map[string]string)
					if !ok {
						return types.String("")
					}
					for k, v := range goMap {
						if strings.ToLower(k) == key {
							return types.String(v)
						}
					}
					return types.String("")
				}),
			),
		),

		// body_at: JSON-pointer-like field access into the parsed body map,
		// e.g. body_at(body, "messages.0.role"). Segments are dot-separated
		// map keys or numeric list indices; a missing segment returns null
		// rather than erroring, so rules can safely probe optional fields.
		cel.Function("body_at",
			cel.Overload("body_at_map_string",
				[]*cel.Type{cel.MapType(cel.StringType, cel.DynType), cel.StringType},
				cel.DynType,
				cel.BinaryBinding(func(mapVal, pathVal ref.Val) ref.Val {
					goMap, ok := mapVal.Value().(map[string]interface{})
					if !ok {
						return types.NullValue
					}
					result := walkBodyPath(goMap, pathVal.Value().(string))
					if result == nil {
						return types.NullValue
					}
					return types.DefaultTypeAdapter.NativeToValue(result)
				}),
			),
		),
	)
}

// walkBodyPath resolves a dot-separated path ("messages.0.content") against
// a decoded JSON value tree of maps, slices, and scalars.
func walkBodyPath(root interface{}, path string) interface{} {
	cur := root
	for _, seg := range strings.Split(path, ".") {
		if seg == "" {
			continue
		}
		switch node := cur.(type) {
		case map[string]interface{}:
			v, ok := node[seg]
			if !ok {
				return nil
			}
			cur = v
		case []interface{}:
			idx, err := indexOf(seg)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil
			}
			cur = node[idx]
		default:
			return nil
		}
	}
	return cur
}

func indexOf(seg string) (int, error) {
	n := 0
	for _, c := range seg {
		if c < '0' || c > '9' {
			return 0, errNotNumeric
		}
		n = n*10 + int(c-'0')
	}
	return n, nil
}

var errNotNumeric = &notNumericError{}

type notNumericError struct{}

func (*notNumericError) Error() string { return "cel: path segment is not numeric" }

// BuildActivation creates a CEL activation map from a RequestContext.
func BuildActivation(reqCtx policy.RequestContext) map[string]any {
	headers := reqCtx.Headers
	if headers == nil {
		headers = map[string]string{}
	}
	body := reqCtx.Body
	if body == nil {
		body = map[string]interface{}{}
	}

	return map[string]any{
		"method":           reqCtx.Method,
		"path":             reqCtx.Path,
		"model":            reqCtx.Model,
		"headers":          headers,
		"body":             body,
		"estimated_tokens": int64(reqCtx.EstimatedTokens),

		"token_id":    reqCtx.TokenID,
		"project_id":  reqCtx.ProjectID,
		"team_id":     reqCtx.TeamID,
		"attribution": reqCtx.Attribution,
		"request_time": reqCtx.RequestTime,

		"completion_text": reqCtx.CompletionText,
		"finish_reason":   reqCtx.FinishReason,
		"tool_call_count": int64(len(reqCtx.ToolCalls)),
	}
}
