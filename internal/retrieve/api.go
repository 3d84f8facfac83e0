package retrieve

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/cindex-dev/cindex/internal/cache"
	"github.com/cindex-dev/cindex/internal/model"
	"github.com/cindex-dev/cindex/internal/store"
)

// apiEnrichment is the stage-6 output: endpoints relevant to the query,
// outbound calls detected in retrieved chunks, and contract links tying
// retrieved chunks to the endpoints they implement.
type apiEnrichment struct {
	Endpoints []model.APIEndpoint
	Calls     []OutboundCall
	Links     []ContractLink
	Warnings  []Warning
}

// jsStr captures a single-, double- or backtick-quoted string literal, so
// URLs built with template-literal interpolation still register.
const jsStr = "['\"`]([^'\"`]+)['\"`]"

// callPattern matches one outbound API call form in chunk content. method
// and url are submatch indexes; method 0 means the pattern carries no method
// group and fixedMethod applies. initMethod patterns read an overriding
// method from a trailing options object.
type callPattern struct {
	re          *regexp.Regexp
	callType    string
	apiType     model.APIType
	method      int
	url         int
	fixedMethod string
	initMethod  bool
}

func outbound(callType string, apiType model.APIType, method, url int, fixed, expr string) callPattern {
	return callPattern{
		re:          regexp.MustCompile(expr),
		callType:    callType,
		apiType:     apiType,
		method:      method,
		url:         url,
		fixedMethod: fixed,
	}
}

func outboundInit(callType string, url int, expr string) callPattern {
	p := outbound(callType, model.APITypeRest, 0, url, "GET", expr)
	p.initMethod = true
	return p
}

// callPatterns covers the common HTTP, gRPC and GraphQL client call shapes
// across the indexed languages. Patterns capture a method where the call
// names one and fall back to GET otherwise.
var callPatterns = []callPattern{
	// fetch('/api/users', { method: 'POST' }).
	outboundInit("fetch", 1, `\bfetch\s*\(\s*`+jsStr),
	// axios.post('/api/users') and the axios({ url, method }) config form.
	outbound("axios", model.APITypeRest, 1, 2, "",
		`\baxios\.(get|post|put|delete|patch|head|options)\s*\(\s*`+jsStr),
	outboundInit("axios", 1, `\baxios\s*\(\s*\{[^{}]*url:\s*`+jsStr),
	// got('/api/users') defaults to GET; got.post(...) names the method.
	outbound("got", model.APITypeRest, 1, 2, "",
		`\bgot\.(get|post|put|delete|patch|head)\s*\(\s*`+jsStr),
	outboundInit("got", 1, `\bgot\s*\(\s*`+jsStr),
	outbound("superagent", model.APITypeRest, 1, 2, "",
		`\bsuperagent\.(get|post|put|delete|patch|head)\s*\(\s*`+jsStr),
	// Node http/https; lowercase distinguishes these from Go's http.Get.
	outbound("node_http", model.APITypeRest, 0, 1, "GET",
		`\bhttps?\.get\s*\(\s*`+jsStr),
	outboundInit("node_http", 1, `\bhttps?\.request\s*\(\s*`+jsStr),
	// Python requests and httpx module-level calls; f-strings included.
	outbound("requests", model.APITypeRest, 1, 2, "",
		`\brequests\.(get|post|put|delete|patch|head|options)\s*\(\s*f?['"]([^'"]+)['"]`),
	outbound("httpx", model.APITypeRest, 1, 2, "",
		`\bhttpx\.(get|post|put|delete|patch|head|options)\s*\(\s*f?['"]([^'"]+)['"]`),
	// Session and client receivers cover requests.Session, httpx.Client,
	// aiohttp.ClientSession and reqwest::Client method calls.
	outbound("http_client", model.APITypeRest, 1, 2, "",
		`\b(?:session|client)\.(get|post|put|delete|patch|head|options)\s*\(\s*f?['"]([^'"]+)['"]`),
	// Go net/http helpers and explicit request construction.
	outbound("go_http", model.APITypeRest, 1, 2, "",
		`\bhttp\.(Get|Head)\s*\(\s*"([^"]+)"`),
	outbound("go_http", model.APITypeRest, 0, 1, "POST",
		`\bhttp\.(?:Post|PostForm)\s*\(\s*"([^"]+)"`),
	outbound("go_http", model.APITypeRest, 1, 2, "",
		`\bhttp\.NewRequest(?:WithContext)?\s*\([^)]*?http\.Method(\w+)\s*,\s*"([^"]+)"`),
	outbound("go_http", model.APITypeRest, 1, 2, "",
		`\bhttp\.NewRequest(?:WithContext)?\s*\([^)]*?"(GET|POST|PUT|DELETE|PATCH|HEAD|OPTIONS)"\s*,\s*"([^"]+)"`),
	outbound("reqwest", model.APITypeRest, 0, 1, "GET",
		`\breqwest::get\s*\(\s*"([^"]+)"`),
	// gRPC client instantiation: generated Go constructors, JS classes and
	// Python stubs. The capture is the service name.
	outbound("grpc_client", model.APITypeGRPC, 0, 1, "RPC",
		`\bNew([A-Z]\w*)Client\s*\(`),
	outbound("grpc_client", model.APITypeGRPC, 0, 1, "RPC",
		`\bnew\s+(?:\w+\.)?([A-Z]\w*)Client\s*\(`),
	outbound("grpc_client", model.APITypeGRPC, 0, 1, "RPC",
		`\b(?:\w+\.)?([A-Z]\w*)Stub\s*\(`),
	// GraphQL operation tags; the second capture is the first selected field,
	// which is the name the resolver side indexes under.
	outbound("graphql", model.APITypeGraphQL, 1, 2, "",
		"(?:\\bgql|\\bgraphql)\\s*`\\s*(query|mutation|subscription)\\b[^{]*\\{\\s*(\\w+)"),
	outbound("graphql", model.APITypeGraphQL, 0, 1, "QUERY",
		"(?:\\bgql|\\bgraphql)\\s*`\\s*\\{\\s*(\\w+)"),
}

// initMethodRE reads the method from a fetch/axios/got options object. The
// scan covers the match itself plus a bounded lookahead, so the method is
// found whether it appears before or after the URL key.
var initMethodRE = regexp.MustCompile(`method\s*:\s*['"](\w+)['"]`)

// initWindowSize bounds the lookahead for an options-object method.
const initWindowSize = 200

// enrichAPI runs stage 6. The endpoint set comes from a vector search over
// the services touched by the retrieved files, falling back to a plain
// listing when the query has no embedding. Chunk contents are then scanned
// for outbound calls and matched against the known endpoints.
func (e *Engine) enrichAPI(ctx context.Context, q *Query, sc *resolvedScope, files []FileResult, chunks []ChunkResult, opts Options) (*apiEnrichment, error) {
	if len(sc.repoIDs) == 0 {
		return &apiEnrichment{}, nil
	}

	serviceIDs := touchedServices(sc, files)
	eps, err := e.scopedEndpoints(ctx, q, sc, serviceIDs, opts)
	if err != nil {
		return nil, err
	}

	retrieved := make(map[string]bool, len(chunks))
	for i := range chunks {
		retrieved[chunks[i].Chunk.ChunkID] = true
	}

	if opts.RequireImplementationMatch {
		// The slice may be cache-owned; filter into a fresh one.
		kept := make([]model.APIEndpoint, 0, len(eps))
		for _, ep := range eps {
			if ep.Implementation != nil && retrieved[ep.Implementation.ChunkID] {
				kept = append(kept, ep)
			}
		}
		eps = kept
	}

	enr := &apiEnrichment{Endpoints: eps}
	for i := range eps {
		ep := &eps[i]
		if ep.Deprecated {
			enr.Warnings = append(enr.Warnings, Warning{
				Code:    WarnDeprecatedEndpoint,
				Message: fmt.Sprintf("endpoint %s %s is deprecated", ep.Method, ep.Path),
			})
		}
		switch {
		case ep.Implementation == nil:
			enr.Warnings = append(enr.Warnings, Warning{
				Code:    WarnMissingImplementation,
				Message: fmt.Sprintf("endpoint %s %s has no implementation link", ep.Method, ep.Path),
			})
		case retrieved[ep.Implementation.ChunkID]:
			enr.Links = append(enr.Links, ContractLink{
				EndpointID: ep.EndpointID,
				ChunkID:    ep.Implementation.ChunkID,
				Confidence: 1.0,
			})
		}
	}

	rows := make([]model.Chunk, len(chunks))
	for i := range chunks {
		rows[i] = chunks[i].Chunk
	}
	services := serviceByFile(files)
	enr.Calls = scanChunkCalls(rows, func(c *model.Chunk) string {
		return services[fileKey(c.RepoID, c.FilePath)]
	}, eps)
	for _, c := range enr.Calls {
		if c.EndpointFound {
			continue
		}
		enr.Warnings = append(enr.Warnings, Warning{
			Code:    WarnUnresolvedCall,
			Message: fmt.Sprintf("no known endpoint for %s %s called from %s", c.Method, c.EndpointPath, c.SourceFile),
		})
	}
	return enr, nil
}

// touchedServices collects the services of the retrieved files plus any
// explicit service scope. An empty result widens the endpoint lookup to
// every service of the scope repositories.
func touchedServices(sc *resolvedScope, files []FileResult) []string {
	set := make(map[string]struct{})
	for _, f := range files {
		if f.File.ServiceID != "" {
			set[f.File.ServiceID] = struct{}{}
		}
	}
	for _, id := range sc.serviceIDs {
		set[id] = struct{}{}
	}
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// scopedEndpoints fetches the endpoint set for the touched services. Vector
// searches go through the endpoint cache; the cached value is the raw search
// result, with per-request filters applied afterward.
func (e *Engine) scopedEndpoints(ctx context.Context, q *Query, sc *resolvedScope, serviceIDs []string, opts Options) ([]model.APIEndpoint, error) {
	if len(q.Embedding) == 0 {
		return e.store.Endpoints(ctx, store.EndpointFilter{
			RepoIDs:           sc.repoIDs,
			ServiceIDs:        serviceIDs,
			APIType:           opts.APIType,
			IncludeDeprecated: opts.IncludeDeprecated,
			Limit:             e.cfg.Search.MaxEndpoints,
		})
	}

	key := e.endpoints.Key(serviceIDs, q.Embedding, cache.EndpointFilter{
		APIType:           string(opts.APIType),
		IncludeDeprecated: opts.IncludeDeprecated,
	})
	if eps, ok := e.endpoints.Get(key); ok {
		return eps, nil
	}

	hits, err := e.store.SearchEndpoints(ctx, store.EndpointSearchQuery{
		Vector:            q.Embedding,
		RepoIDs:           sc.repoIDs,
		ServiceIDs:        serviceIDs,
		APIType:           opts.APIType,
		IncludeDeprecated: opts.IncludeDeprecated,
		Threshold:         e.cfg.Search.APISimilarityThreshold,
		Limit:             e.cfg.Search.MaxEndpoints,
	})
	if err != nil {
		return nil, err
	}
	eps := make([]model.APIEndpoint, 0, len(hits))
	for _, h := range hits {
		eps = append(eps, h.Endpoint)
	}
	e.endpoints.Add(key, eps)
	return eps, nil
}

// serviceByFile maps (repo, path) to the owning service for attributing
// outbound calls, since chunk rows do not carry service linkage.
func serviceByFile(files []FileResult) map[string]string {
	m := make(map[string]string, len(files))
	for _, f := range files {
		if f.File.ServiceID != "" {
			m[fileKey(f.File.RepoID, f.File.Path)] = f.File.ServiceID
		}
	}
	return m
}

// scanChunkCalls runs the call patterns over chunk contents and matches
// detected calls against the known endpoints by method and path. serviceOf
// attributes each chunk to its owning service.
func scanChunkCalls(chunks []model.Chunk, serviceOf func(*model.Chunk) string, eps []model.APIEndpoint) []OutboundCall {
	var calls []OutboundCall
	seen := make(map[string]bool)
	for i := range chunks {
		c := &chunks[i]
		if c.Type == model.ChunkTypeFileSummary {
			continue
		}
		for _, p := range callPatterns {
			for _, loc := range p.re.FindAllStringSubmatchIndex(c.Content, -1) {
				call, ok := buildCall(p, c.Content, loc)
				if !ok {
					continue
				}
				key := c.ChunkID + "|" + call.CallType + "|" + call.Method + "|" + call.EndpointPath
				if seen[key] {
					continue
				}
				seen[key] = true
				call.SourceChunkID = c.ChunkID
				call.SourceFile = c.FilePath
				call.SourceServiceID = serviceOf(c)
				if ep := matchEndpoint(&call, p.apiType, eps); ep != nil {
					call.EndpointFound = true
					call.TargetServiceID = ep.ServiceID
					call.MatchedEndpoint = ep
				}
				calls = append(calls, call)
			}
		}
	}
	return calls
}

// buildCall extracts method and path from one pattern match. REST calls must
// normalize to an absolute path so that key-value lookups like
// client.get("user") never register as API calls.
func buildCall(p callPattern, text string, loc []int) (OutboundCall, bool) {
	method := p.fixedMethod
	if p.method > 0 && loc[2*p.method] >= 0 {
		method = strings.ToUpper(text[loc[2*p.method]:loc[2*p.method+1]])
	}
	raw := ""
	if p.url > 0 && loc[2*p.url] >= 0 {
		raw = text[loc[2*p.url]:loc[2*p.url+1]]
	}
	if raw == "" {
		return OutboundCall{}, false
	}
	if p.initMethod {
		if m := initMethodRE.FindStringSubmatch(initSegment(text, loc[0], loc[1])); m != nil {
			method = strings.ToUpper(m[1])
		}
	}

	path := raw
	if p.apiType == model.APITypeRest {
		path = normalizeCallPath(raw)
		if !strings.HasPrefix(path, "/") {
			return OutboundCall{}, false
		}
	}
	return OutboundCall{
		EndpointPath: path,
		Method:       method,
		CallType:     p.callType,
	}, true
}

// initSegment returns the match text plus a bounded lookahead, enough to
// inspect an options object on either side of the URL argument.
func initSegment(text string, start, end int) string {
	stop := end + initWindowSize
	if stop > len(text) {
		stop = len(text)
	}
	return text[start:stop]
}

// normalizeCallPath reduces a call URL to its path: scheme and host drop,
// query string and fragment drop. Relative API paths pass through.
func normalizeCallPath(raw string) string {
	s := raw
	if _, rest, ok := strings.Cut(s, "://"); ok {
		if i := strings.IndexByte(rest, '/'); i >= 0 {
			s = rest[i:]
		} else {
			s = "/"
		}
	}
	if i := strings.IndexAny(s, "?#"); i >= 0 {
		s = s[:i]
	}
	return s
}

// matchEndpoint finds the first known endpoint the call resolves to.
func matchEndpoint(call *OutboundCall, apiType model.APIType, eps []model.APIEndpoint) *model.APIEndpoint {
	for i := range eps {
		ep := &eps[i]
		if ep.APIType != apiType {
			continue
		}
		switch apiType {
		case model.APITypeGRPC:
			// Instantiation names the service; any method of it matches.
			if ep.Path == call.EndpointPath || strings.HasPrefix(ep.Path, call.EndpointPath+"/") {
				return ep
			}
		case model.APITypeGraphQL:
			if ep.Path == call.EndpointPath && methodsMatch(call.Method, ep.Method) {
				return ep
			}
		default:
			if methodsMatch(call.Method, ep.Method) && pathsMatch(call.EndpointPath, ep.Path) {
				return ep
			}
		}
	}
	return nil
}

func methodsMatch(callMethod, endpointMethod string) bool {
	return callMethod == endpointMethod || endpointMethod == "ANY"
}

// pathsMatch compares call and endpoint paths segment by segment. Parameter
// segments on either side match any single concrete segment, so a call to
// /users/123 lines up with a route declared as /users/:id or /users/{id}.
func pathsMatch(callPath, endpointPath string) bool {
	cs := splitPath(callPath)
	es := splitPath(endpointPath)
	if len(cs) != len(es) {
		return false
	}
	for i := range cs {
		if cs[i] == es[i] || isParamSegment(cs[i]) || isParamSegment(es[i]) {
			continue
		}
		return false
	}
	return true
}

func splitPath(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

// isParamSegment recognizes route parameters (:id, {id}, <int:pk>, *) and
// interpolated call segments (${id}, f-string {id}, printf verbs).
func isParamSegment(s string) bool {
	if s == "" {
		return false
	}
	if s == "*" {
		return true
	}
	switch s[0] {
	case ':', '{', '<', '$':
		return true
	}
	return strings.Contains(s, "${") || strings.Contains(s, "{") || strings.Contains(s, "%")
}
