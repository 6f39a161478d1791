package tools

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/agentc2/wfrt/internal/expressions"
	"github.com/agentc2/wfrt/pkg/schema"
)

const defaultHTTPTimeout = 30 * time.Second

// BuiltinOptions configures RegisterBuiltins. Nil fields get defaults.
type BuiltinOptions struct {
	HTTPClient *resty.Client
	JQ         *expressions.JQEngine
}

// --- JSON Schemas ---

const httpRequestInputSchema = `{
  "type": "object",
  "properties": {
    "method": {"type": "string", "default": "GET"},
    "url": {"type": "string", "minLength": 1},
    "headers": {"type": "object", "additionalProperties": {"type": "string"}},
    "query": {"type": "object", "additionalProperties": {"type": "string"}},
    "body": {},
    "timeout": {"type": "string"}
  },
  "required": ["url"]
}`

const jsonQueryInputSchema = `{
  "type": "object",
  "properties": {
    "data": {},
    "query": {"type": "string", "minLength": 1}
  },
  "required": ["query"]
}`

const jsonValidateInputSchema = `{
  "type": "object",
  "properties": {
    "data": {},
    "schema": {"type": ["object", "boolean", "string"]}
  },
  "required": ["schema"]
}`

// RegisterBuiltins adds the http.request, json.* and crypto.* tools to r.
func RegisterBuiltins(r *Registry, opts BuiltinOptions) error {
	if opts.HTTPClient == nil {
		opts.HTTPClient = resty.New().SetTimeout(defaultHTTPTimeout)
	}
	if opts.JQ == nil {
		opts.JQ = expressions.NewJQEngine()
	}

	builtins := []Tool{
		{
			Name:        "http.request",
			Description: "Perform an HTTP request and return status_code, headers and body",
			InputSchema: json.RawMessage(httpRequestInputSchema),
			Invoke:      httpRequest(opts.HTTPClient),
		},
		{
			Name:        "json.query",
			Description: "Run a jq query over data",
			InputSchema: json.RawMessage(jsonQueryInputSchema),
			Invoke:      jsonQuery(opts.JQ),
		},
		{
			Name:        "json.validate",
			Description: "Validate data against a JSON Schema",
			InputSchema: json.RawMessage(jsonValidateInputSchema),
			Invoke:      jsonValidate(r.schemas),
		},
	}
	builtins = append(builtins, cryptoTools()...)
	for _, t := range builtins {
		if err := r.Register(t); err != nil {
			return err
		}
	}
	return nil
}

func httpRequest(client *resty.Client) InvokeFunc {
	return func(ctx context.Context, args map[string]any) (any, error) {
		method := strings.ToUpper(stringArg(args, "method", "GET"))
		url := stringArg(args, "url", "")

		if raw := stringArg(args, "timeout", ""); raw != "" {
			d, err := time.ParseDuration(raw)
			if err != nil {
				return nil, schema.NewErrorf(schema.ErrCodeValidation, "invalid timeout %q: %v", raw, err)
			}
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, d)
			defer cancel()
		}

		req := client.R().
			SetContext(ctx).
			SetHeaders(stringMapArg(args, "headers")).
			SetQueryParams(stringMapArg(args, "query"))
		if body, ok := args["body"]; ok && body != nil {
			req.SetBody(body)
		}

		resp, err := req.Execute(method, url)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeExecution, "%s %s: %v", method, url, err).WithCause(err)
		}

		headers := make(map[string]any, len(resp.Header()))
		for k, v := range resp.Header() {
			headers[k] = strings.Join(v, ", ")
		}
		return map[string]any{
			"status_code": resp.StatusCode(),
			"headers":     headers,
			"body":        decodeBody(resp.Body()),
		}, nil
	}
}

// decodeBody returns JSON bodies as values and anything else as text.
func decodeBody(body []byte) any {
	if len(body) == 0 {
		return nil
	}
	if json.Valid(body) {
		return expressions.Normalize(json.RawMessage(body))
	}
	return string(body)
}

func jsonQuery(jq *expressions.JQEngine) InvokeFunc {
	return func(ctx context.Context, args map[string]any) (any, error) {
		return jq.Run(ctx, stringArg(args, "query", ""), args["data"])
	}
}

func jsonValidate(schemas *schemaCache) InvokeFunc {
	return func(_ context.Context, args map[string]any) (any, error) {
		var doc []byte
		switch s := args["schema"].(type) {
		case string:
			doc = []byte(s)
		default:
			b, err := json.Marshal(s)
			if err != nil {
				return nil, schema.NewError(schema.ErrCodeValidation, "schema is not serializable").WithCause(err)
			}
			doc = b
		}
		if _, err := schemas.get(doc); err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "invalid schema: %v", err).WithCause(err)
		}

		ferr := schemas.validate(doc, args["data"])
		if ferr == nil {
			return map[string]any{"valid": true, "errors": []any{}}, nil
		}
		violations, _ := ferr.Details["violations"].([]string)
		errs := make([]any, 0, len(violations))
		for _, v := range violations {
			errs = append(errs, v)
		}
		if len(errs) == 0 {
			errs = append(errs, ferr.Message)
		}
		return map[string]any{"valid": false, "errors": errs}, nil
	}
}
