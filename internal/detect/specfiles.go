package detect

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/cindex-dev/cindex/internal/model"
)

type specKind int

const (
	specKindNone specKind = iota
	specKindOpenAPI
	specKindGraphQL
	specKindProto
)

// openAPIMethods are the HTTP operations an OpenAPI path item may carry.
// Everything else at that level (parameters, servers, $ref, summary) is not
// an operation.
var openAPIMethods = []string{"get", "put", "post", "delete", "options", "head", "patch", "trace"}

var (
	openAPIKeyRE    = regexp.MustCompile(`(?m)^\s*(?:"?(openapi|swagger)"?)\s*:`)
	graphqlBlockRE  = regexp.MustCompile(`(?ms)^(?:extend\s+)?type\s+(Query|Mutation|Subscription)\b[^{]*\{(.*?)^\}`)
	graphqlFieldRE  = regexp.MustCompile(`(?m)^\s*([A-Za-z_]\w*)\s*(?:\((?:[^()]|\([^()]*\))*\))?\s*:\s*\S`)
	protoServiceRE  = regexp.MustCompile(`(?ms)\bservice\s+(\w+)\s*\{(.*?)^\}`)
	protoRPCRE      = regexp.MustCompile(`\brpc\s+(\w+)\s*\(\s*(stream\s+)?([\w.]+)\s*\)\s*returns\s*\(\s*(stream\s+)?([\w.]+)\s*\)`)
	sdlDeprecatedRE = regexp.MustCompile(`@deprecated\b`)
)

// specFileKind classifies a file as an API specification. YAML and JSON
// files qualify only when a top-level openapi/swagger key is present, so
// ordinary config files pass through to normal chunking.
func specFileKind(path string, content []byte) specKind {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".graphql", ".gql", ".graphqls":
		return specKindGraphQL
	case ".proto":
		return specKindProto
	case ".yaml", ".yml", ".json":
		if openAPIKeyRE.Match(content) {
			return specKindOpenAPI
		}
	}
	return specKindNone
}

// IsSpecFile reports whether the file is an API specification rather than
// code. Endpoints extracted from a spec describe the contract, not an
// implementation, so callers skip chunk linking for them and let the code
// copy of the same operation supply the implementation.
func IsSpecFile(path string, content []byte) bool {
	return specFileKind(path, content) != specKindNone
}

func (d *APIDetector) parseSpecFile(kind specKind, path string, content []byte) ([]Endpoint, error) {
	switch kind {
	case specKindOpenAPI:
		return parseOpenAPI(content)
	case specKindGraphQL:
		return parseGraphQLSDL(string(content)), nil
	case specKindProto:
		return parseProto(string(content)), nil
	}
	return nil, nil
}

// openAPIOperation is the subset of an OpenAPI operation object the index
// keeps: enough to describe, tag and schema-link the endpoint.
type openAPIOperation struct {
	Summary     string    `yaml:"summary"`
	Description string    `yaml:"description"`
	Deprecated  bool      `yaml:"deprecated"`
	Tags        []string  `yaml:"tags"`
	RequestBody yaml.Node `yaml:"requestBody"`
	Responses   yaml.Node `yaml:"responses"`
}

type openAPIDocument struct {
	OpenAPI string                          `yaml:"openapi"`
	Swagger string                          `yaml:"swagger"`
	Paths   map[string]map[string]yaml.Node `yaml:"paths"`
}

// parseOpenAPI handles both OpenAPI 3 and Swagger 2 documents. YAML being a
// superset of JSON, .json specs decode through the same path.
func parseOpenAPI(content []byte) ([]Endpoint, error) {
	var doc openAPIDocument
	if err := yaml.Unmarshal(content, &doc); err != nil {
		return nil, fmt.Errorf("openapi decode: %w", err)
	}
	if doc.OpenAPI == "" && doc.Swagger == "" {
		return nil, nil
	}
	var out []Endpoint
	for p, item := range doc.Paths {
		for _, m := range openAPIMethods {
			node, ok := item[m]
			if !ok {
				continue
			}
			var op openAPIOperation
			if err := node.Decode(&op); err != nil {
				continue
			}
			ep := Endpoint{Line: node.Line}
			ep.APIType = model.APITypeRest
			ep.Path = p
			ep.Method = strings.ToUpper(m)
			ep.Description = op.Summary
			if ep.Description == "" {
				ep.Description = firstLine(op.Description)
			}
			ep.Deprecated = op.Deprecated
			ep.Tags = op.Tags
			ep.RequestSchema = nodeYAML(&op.RequestBody)
			ep.ResponseSchema = nodeYAML(&op.Responses)
			out = append(out, ep)
		}
	}
	return out, nil
}

// nodeYAML re-encodes a decoded subtree so the schema snippet survives as
// text. Oversized schemas are cut at a fixed cap; the endpoint remains
// searchable without them.
func nodeYAML(n *yaml.Node) string {
	if n == nil || n.Kind == 0 {
		return ""
	}
	raw, err := yaml.Marshal(n)
	if err != nil {
		return ""
	}
	s := strings.TrimSpace(string(raw))
	const maxSchemaBytes = 2000
	if len(s) > maxSchemaBytes {
		s = s[:maxSchemaBytes]
	}
	return s
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return s
}

// parseGraphQLSDL extracts the operations of the root types. Fields of
// Query, Mutation and Subscription are the callable surface; other types are
// schema shapes, not endpoints.
func parseGraphQLSDL(text string) []Endpoint {
	var out []Endpoint
	for _, block := range graphqlBlockRE.FindAllStringSubmatchIndex(text, -1) {
		root := text[block[2]:block[3]]
		body := text[block[4]:block[5]]
		for _, field := range graphqlFieldRE.FindAllStringSubmatchIndex(body, -1) {
			// The leading ^\s* of the field pattern swallows the newline
			// before the field, so the match start sits on the previous
			// line; the name capture is the anchor for line lookups.
			name := body[field[2]:field[3]]
			line := lineAt(text, block[4]+field[2])
			ep := Endpoint{Line: line}
			ep.APIType = model.APITypeGraphQL
			ep.Path = name
			ep.Method = strings.ToUpper(root)
			ep.Deprecated = sdlDeprecatedRE.MatchString(lineOf(body, field[2]))
			out = append(out, ep)
		}
	}
	return out
}

// lineOf returns the full text line containing offset.
func lineOf(text string, offset int) string {
	start := strings.LastIndexByte(text[:offset], '\n') + 1
	end := strings.IndexByte(text[offset:], '\n')
	if end < 0 {
		return text[start:]
	}
	return text[start : offset+end]
}

// parseProto extracts rpc declarations grouped by service. The endpoint
// path is Service/Method, matching the gRPC wire path.
func parseProto(text string) []Endpoint {
	var out []Endpoint
	for _, svc := range protoServiceRE.FindAllStringSubmatchIndex(text, -1) {
		service := text[svc[2]:svc[3]]
		body := text[svc[4]:svc[5]]
		for _, rpc := range protoRPCRE.FindAllStringSubmatchIndex(body, -1) {
			method := body[rpc[2]:rpc[3]]
			req := body[rpc[6]:rpc[7]]
			resp := body[rpc[10]:rpc[11]]
			if rpc[4] >= 0 {
				req = "stream " + req
			}
			if rpc[8] >= 0 {
				resp = "stream " + resp
			}
			ep := Endpoint{Line: lineAt(text, svc[4]+rpc[0])}
			ep.APIType = model.APITypeGRPC
			ep.Path = service + "/" + method
			ep.Method = "RPC"
			ep.RequestSchema = req
			ep.ResponseSchema = resp
			out = append(out, ep)
		}
	}
	return out
}
