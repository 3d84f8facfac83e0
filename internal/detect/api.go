package detect

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"regexp"
	"sort"
	"strings"

	"github.com/cindex-dev/cindex/internal/model"
)

// Endpoint is one extracted API operation plus the line of its declaration.
// The line links the endpoint to the chunk that contains it.
type Endpoint struct {
	model.APIEndpoint
	Line int
}

// routePattern matches one route declaration form. method and path are
// submatch indexes; method 0 means the pattern carries no method group and
// fixedMethod applies instead.
type routePattern struct {
	re          *regexp.Regexp
	apiType     model.APIType
	method      int
	path        int
	fixedMethod string
}

func route(apiType model.APIType, method, path int, fixed, expr string) routePattern {
	return routePattern{
		re:          regexp.MustCompile(expr),
		apiType:     apiType,
		method:      method,
		path:        path,
		fixedMethod: fixed,
	}
}

// jsRoutePatterns covers Express, Fastify, NestJS and Apollo-style
// declarations. REST paths must start with "/" so that map.get("key") and
// similar lookups never register as routes.
var jsRoutePatterns = []routePattern{
	// app.get('/users', handler) and friends on any router-like receiver.
	route(model.APITypeRest, 1, 2, "",
		`\.(get|post|put|delete|patch|head|options|all)\s*\(\s*['"](/[^'"]*)['"]`),
	// fastify.route({ method: 'POST', url: '/users' }) in either field order.
	route(model.APITypeRest, 1, 2, "",
		`\.route\s*\(\s*\{[^{}]*method:\s*['"](\w+)['"][^{}]*url:\s*['"]([^'"]+)['"]`),
	route(model.APITypeRest, 2, 1, "",
		`\.route\s*\(\s*\{[^{}]*url:\s*['"]([^'"]+)['"][^{}]*method:\s*['"](\w+)['"]`),
	// NestJS method decorators; empty argument list routes to the controller
	// prefix itself.
	route(model.APITypeRest, 1, 2, "",
		`@(Get|Post|Put|Delete|Patch|Head|Options|All)\s*\(\s*(?:['"]([^'"]*)['"]\s*)?\)`),
	// type-graphql / NestJS GraphQL resolvers: decorator then method name.
	route(model.APITypeGraphQL, 1, 2, "",
		`@(Query|Mutation|Subscription)\s*\((?:[^()]|\([^()]*\))*\)\s*(?:async\s+)?([A-Za-z_]\w*)\s*\(`),
	// NestJS websocket gateways and express-ws upgrade routes.
	route(model.APITypeWebsocket, 0, 1, "MESSAGE",
		`@SubscribeMessage\s*\(\s*['"]([^'"]+)['"]`),
	route(model.APITypeWebsocket, 0, 1, "GET",
		`\.ws\s*\(\s*['"](/[^'"]*)['"]`),
	// NestJS gRPC microservice handlers: @GrpcMethod('Service', 'Method').
	route(model.APITypeGRPC, 0, 1, "RPC",
		`@GrpcMethod\s*\(\s*['"]([^'"]+)['"]`),
}

// pythonRoutePatterns covers FastAPI, Flask and Django URL declarations.
var pythonRoutePatterns = []routePattern{
	route(model.APITypeRest, 1, 2, "",
		`@\w+\.(get|post|put|delete|patch|head|options)\s*\(\s*['"]([^'"]+)['"]`),
	// Flask @app.route; the methods kwarg is resolved separately.
	route(model.APITypeRest, 0, 1, "GET",
		`@\w+\.route\s*\(\s*['"]([^'"]+)['"]`),
	route(model.APITypeWebsocket, 0, 1, "GET",
		`@\w+\.websocket\s*\(\s*['"]([^'"]+)['"]`),
	// Django urlconf entries carry no method.
	route(model.APITypeRest, 0, 1, "ANY",
		`(?m)^\s*(?:re_)?path\s*\(\s*r?['"]([^'"]+)['"]`),
	route(model.APITypeRest, 0, 1, "ANY",
		`(?m)^\s*url\s*\(\s*r['"]([^'"]+)['"]`),
}

// javaRoutePatterns covers Spring MVC annotations. The shortcut annotations
// accept a bare form (@GetMapping with no arguments) that routes to the
// class-level prefix.
var javaRoutePatterns = []routePattern{
	route(model.APITypeRest, 1, 2, "",
		`@(Get|Post|Put|Delete|Patch)Mapping\s*(?:\(\s*(?:value\s*=\s*)?["']([^"']*)["'])?`),
	route(model.APITypeRest, 0, 1, "",
		`@RequestMapping\s*\(\s*(?:value\s*=\s*)?["']([^"']*)["']`),
}

// goRoutePatterns covers Gin, Echo, Chi, Fiber and net/http registration.
var goRoutePatterns = []routePattern{
	route(model.APITypeRest, 1, 2, "",
		`\.(GET|POST|PUT|DELETE|PATCH|HEAD|OPTIONS)\s*\(\s*["'](/[^"']*)["']`),
	route(model.APITypeRest, 1, 2, "",
		`\.(Get|Post|Put|Delete|Patch|Head|Options)\s*\(\s*["'](/[^"']*)["']`),
	route(model.APITypeRest, 0, 1, "ANY",
		`HandleFunc\s*\(\s*["'](/[^"']*)["']`),
}

// rubyRoutePatterns covers the Rails routing DSL.
var rubyRoutePatterns = []routePattern{
	route(model.APITypeRest, 1, 2, "",
		`(?m)^\s*(get|post|put|delete|patch)\s+['"](/[^'"]*)['"]`),
}

var routePatternsByLanguage = map[string][]routePattern{
	"javascript": jsRoutePatterns,
	"typescript": jsRoutePatterns,
	"tsx":        jsRoutePatterns,
	"python":     pythonRoutePatterns,
	"java":       javaRoutePatterns,
	"kotlin":     javaRoutePatterns,
	"go":         goRoutePatterns,
	"ruby":       rubyRoutePatterns,
}

// controllerPrefixRE finds NestJS class prefixes. Spring class-level
// @RequestMapping prefixes are detected by proximity to a class keyword.
var (
	controllerPrefixRE   = regexp.MustCompile(`@Controller\s*\(\s*(?:['"]([^'"]*)['"])?\s*\)`)
	requestMethodRE      = regexp.MustCompile(`RequestMethod\.(\w+)`)
	flaskMethodsRE       = regexp.MustCompile(`methods\s*=\s*\[([^\]]+)\]`)
	classKeywordAfterRE  = regexp.MustCompile(`^[^{;]{0,200}\bclass\b`)
	quotedMethodTokenRE  = regexp.MustCompile(`['"](\w+)['"]`)
	deprecatedMarkerRE   = regexp.MustCompile(`@[Dd]eprecated\b|DeprecationWarning|\[Obsolete`)
	graphqlNameArgRE     = regexp.MustCompile(`name\s*:\s*['"]([^'"]+)['"]`)
	grpcMethodSecondArg = regexp.MustCompile(`@GrpcMethod\s*\(\s*['"][^'"]+['"]\s*,\s*['"]([^'"]+)['"]`)
	springClassPrefixRE = regexp.MustCompile(`@RequestMapping\s*\(\s*(?:value\s*=\s*)?["']([^"']*)["'][^)]*\)`)
)

// deprecatedWindowSize bounds the lookback for deprecation markers above a
// route declaration.
const deprecatedWindowSize = 160

// APIDetector extracts API endpoints from source files and from API
// specification files (OpenAPI/Swagger, GraphQL SDL, protobuf).
type APIDetector struct {
	logger *slog.Logger
}

func NewAPIDetector(logger *slog.Logger) *APIDetector {
	if logger == nil {
		logger = slog.Default()
	}
	return &APIDetector{logger: logger.With("component", "detect.api")}
}

// Detect scans one file and returns the endpoints it declares. Source files
// go through the per-framework route patterns; specification files are
// parsed structurally. ServiceID, RepoID and EndpointID are left for the
// caller, which knows the service topology.
func (d *APIDetector) Detect(path, language string, content []byte) []Endpoint {
	if kind := specFileKind(path, content); kind != specKindNone {
		eps, err := d.parseSpecFile(kind, path, content)
		if err != nil {
			d.logger.Debug("api.spec_parse_failed", "path", path, "error", err)
			return nil
		}
		return eps
	}
	patterns, ok := routePatternsByLanguage[language]
	if !ok {
		return nil
	}
	return d.scanSource(path, language, string(content), patterns)
}

func (d *APIDetector) scanSource(path, language, text string, patterns []routePattern) []Endpoint {
	prefixes := classPrefixes(language, text)
	var out []Endpoint
	seen := make(map[string]bool)
	for _, p := range patterns {
		for _, loc := range p.re.FindAllStringSubmatchIndex(text, -1) {
			ep, ok := d.buildEndpoint(p, text, loc, prefixes)
			if !ok {
				continue
			}
			ep.Line = lineAt(text, loc[0])
			key := string(ep.APIType) + "|" + ep.Method + "|" + ep.Path
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, ep)
		}
	}
	if len(out) > 0 {
		d.logger.Debug("api.endpoints_extracted", "path", path, "count", len(out))
	}
	return out
}

func (d *APIDetector) buildEndpoint(p routePattern, text string, loc []int, prefixes []classPrefix) (Endpoint, bool) {
	method := p.fixedMethod
	if p.method > 0 && loc[2*p.method] >= 0 {
		method = strings.ToUpper(text[loc[2*p.method]:loc[2*p.method+1]])
	}
	rawPath := ""
	if p.path > 0 && loc[2*p.path] >= 0 {
		rawPath = text[loc[2*p.path]:loc[2*p.path+1]]
	}
	matched := text[loc[0]:loc[1]]

	ep := Endpoint{}
	ep.APIType = p.apiType

	switch p.apiType {
	case model.APITypeRest:
		if method == "" {
			// Spring @RequestMapping defaults to every method unless the
			// annotation names one.
			method = "ANY"
			if m := requestMethodRE.FindStringSubmatch(afterMatch(text, loc[1])); m != nil {
				method = strings.ToUpper(m[1])
			}
		}
		// Class-level Spring @RequestMapping declares a prefix, not an
		// operation.
		if strings.HasPrefix(matched, "@RequestMapping") &&
			classKeywordAfterRE.MatchString(afterMatch(text, loc[1])) {
			return Endpoint{}, false
		}
		ep.Path = restPath(prefixFor(prefixes, loc[0]), rawPath)
		ep.Method = method
		// Flask routes list their methods in a kwarg after the path.
		if strings.Contains(matched, ".route") && !strings.Contains(matched, "{") {
			if m := flaskMethodsRE.FindStringSubmatch(afterMatch(text, loc[1])); m != nil {
				if toks := quotedMethodTokenRE.FindAllStringSubmatch(m[1], -1); len(toks) > 0 {
					ep.Method = strings.ToUpper(toks[0][1])
					for _, t := range toks[1:] {
						ep.Tags = append(ep.Tags, "also:"+strings.ToUpper(t[1]))
					}
				}
			}
		}
	case model.APITypeGraphQL:
		field := rawPath
		// @Query(() => Type, { name: 'customName' }) overrides the method
		// name.
		if m := graphqlNameArgRE.FindStringSubmatch(matched); m != nil {
			field = m[1]
		}
		if field == "" {
			return Endpoint{}, false
		}
		ep.Path = field
		ep.Method = method
	case model.APITypeGRPC:
		service := rawPath
		// The second @GrpcMethod argument sits past the match end.
		if m := grpcMethodSecondArg.FindStringSubmatch(matched + afterMatch(text, loc[1])); m != nil {
			service = service + "/" + m[1]
		}
		ep.Path = service
		ep.Method = "RPC"
	case model.APITypeWebsocket:
		if rawPath == "" {
			return Endpoint{}, false
		}
		ep.Path = rawPath
		ep.Method = method
	}
	if ep.Path == "" {
		return Endpoint{}, false
	}
	ep.Deprecated = deprecatedNear(text, loc[0])
	return ep, true
}

// classPrefix is a controller-level route prefix and the offset where it was
// declared. Routes declared after it inherit the prefix.
type classPrefix struct {
	offset int
	prefix string
}

func classPrefixes(language, text string) []classPrefix {
	var out []classPrefix
	switch language {
	case "javascript", "typescript", "tsx":
		for _, loc := range controllerPrefixRE.FindAllStringSubmatchIndex(text, -1) {
			p := ""
			if loc[2] >= 0 {
				p = text[loc[2]:loc[3]]
			}
			out = append(out, classPrefix{offset: loc[0], prefix: p})
		}
	case "java", "kotlin":
		for _, loc := range springClassPrefixRE.FindAllStringSubmatchIndex(text, -1) {
			if !classKeywordAfterRE.MatchString(afterMatch(text, loc[1])) {
				continue
			}
			out = append(out, classPrefix{offset: loc[0], prefix: text[loc[2]:loc[3]]})
		}
	}
	return out
}

// prefixFor returns the nearest class prefix declared before offset.
func prefixFor(prefixes []classPrefix, offset int) string {
	prefix := ""
	for _, cp := range prefixes {
		if cp.offset < offset {
			prefix = cp.prefix
		}
	}
	return prefix
}

// restPath joins a controller prefix and a route path into one normalized
// path with a single leading slash.
func restPath(prefix, path string) string {
	prefix = strings.Trim(prefix, "/")
	path = strings.TrimPrefix(path, "/")
	joined := prefix
	if path != "" {
		if joined != "" {
			joined += "/"
		}
		joined += path
	}
	return "/" + joined
}

// afterMatch returns a bounded window following a match, enough to inspect
// trailing kwargs and annotations without rescanning the file.
func afterMatch(text string, end int) string {
	stop := end + 300
	if stop > len(text) {
		stop = len(text)
	}
	return text[end:stop]
}

// deprecatedNear reports whether a deprecation marker appears in the lines
// immediately above the declaration.
func deprecatedNear(text string, offset int) bool {
	start := offset - deprecatedWindowSize
	if start < 0 {
		start = 0
	}
	return deprecatedMarkerRE.MatchString(text[start:offset])
}

func lineAt(text string, offset int) int {
	return strings.Count(text[:offset], "\n") + 1
}

// EndpointID derives the stable endpoint identifier from the fields that
// make an endpoint unique within a service.
func EndpointID(serviceID string, apiType model.APIType, path, method string) string {
	h := sha256.Sum256([]byte(serviceID + "\x00" + string(apiType) + "\x00" + path + "\x00" + method))
	return "ep_" + hex.EncodeToString(h[:])[:16]
}

// LinkImplementations points each endpoint at the smallest chunk covering
// its declaration line. Endpoints without a covering chunk keep a nil link,
// which retrieval later reports as a missing implementation.
func LinkImplementations(endpoints []Endpoint, filePath string, chunks []model.Chunk) {
	if len(chunks) == 0 {
		return
	}
	ordered := make([]model.Chunk, 0, len(chunks))
	for _, c := range chunks {
		if c.Type == model.ChunkTypeFileSummary {
			continue
		}
		ordered = append(ordered, c)
	}
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].EndLine-ordered[i].StartLine < ordered[j].EndLine-ordered[j].StartLine
	})
	for i := range endpoints {
		if endpoints[i].Line == 0 {
			continue
		}
		for _, c := range ordered {
			if endpoints[i].Line < c.StartLine || endpoints[i].Line > c.EndLine {
				continue
			}
			impl := &model.Implementation{
				ChunkID:   c.ChunkID,
				FilePath:  filePath,
				StartLine: c.StartLine,
				EndLine:   c.EndLine,
			}
			if names := c.Metadata.FunctionNames; len(names) == 1 {
				impl.Function = names[0]
			}
			endpoints[i].Implementation = impl
			break
		}
	}
}
