// Package openapi generates the OpenAPI 3.0 document of the status surface by
// reflecting on the response types.
package openapi

import (
	"encoding"
	"encoding/json"
	"net/http"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/getkin/kin-openapi/openapi3"
)

// =============================================================================
// Generator
// =============================================================================

// Generator produces OpenAPI 3.0 specifications from registered paths and
// read-only JSON:API resources.
type Generator struct {
	title       string
	version     string
	description string
	servers     []string
	paths       []PathInfo
	resources   []ResourceInfo
	mu          sync.RWMutex
	cachedSpec  *openapi3.T
}

// PathInfo describes a plain GET endpoint.
type PathInfo struct {
	Path      string
	Summary   string
	Tag       string
	Model     interface{} // response body; nil for non-JSON bodies
	YAML      bool        // also served as application/yaml
	PlainText bool        // body is text/plain
}

// ResourceInfo describes a read-only JSON:API resource served under /api/v1.
type ResourceInfo struct {
	Name    string      // Resource type name (e.g., "events")
	Model   interface{} // The model struct for schema extraction
	Filters []string    // Supported filter query parameters
}

// Option configures the generator.
type Option func(*Generator)

// WithTitle sets the API title.
func WithTitle(title string) Option {
	return func(g *Generator) {
		g.title = title
	}
}

// WithVersion sets the API version.
func WithVersion(version string) Option {
	return func(g *Generator) {
		g.version = version
	}
}

// WithDescription sets the API description.
func WithDescription(description string) Option {
	return func(g *Generator) {
		g.description = description
	}
}

// WithServer adds a server URL.
func WithServer(url string) Option {
	return func(g *Generator) {
		g.servers = append(g.servers, url)
	}
}

// NewGenerator creates a new OpenAPI generator.
func NewGenerator(opts ...Option) *Generator {
	g := &Generator{
		title:   "Watchdog API",
		version: "dev",
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// RegisterPath adds a plain endpoint.
func (g *Generator) RegisterPath(info PathInfo) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.paths = append(g.paths, info)
	g.cachedSpec = nil
}

// RegisterResource adds a resource to the generator for spec generation.
func (g *Generator) RegisterResource(info ResourceInfo) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.resources = append(g.resources, info)
	g.cachedSpec = nil
}

// Generate produces the complete OpenAPI 3.0 specification.
func (g *Generator) Generate() *openapi3.T {
	g.mu.RLock()
	if g.cachedSpec != nil {
		spec := g.cachedSpec
		g.mu.RUnlock()
		return spec
	}
	g.mu.RUnlock()

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.cachedSpec != nil {
		return g.cachedSpec
	}

	spec := &openapi3.T{
		OpenAPI: "3.0.3",
		Info: &openapi3.Info{
			Title:       g.title,
			Version:     g.version,
			Description: g.description,
		},
		Servers: make(openapi3.Servers, 0, len(g.servers)),
		Paths:   &openapi3.Paths{},
		Components: &openapi3.Components{
			Schemas: make(openapi3.Schemas),
		},
	}
	for _, url := range g.servers {
		spec.Servers = append(spec.Servers, &openapi3.Server{URL: url})
	}

	g.addCommonSchemas(spec)
	for _, p := range g.paths {
		g.addPathToSpec(spec, p)
	}
	for _, res := range g.resources {
		g.addResourceToSpec(spec, res)
	}

	g.cachedSpec = spec
	return spec
}

// Handler returns an HTTP handler that serves the OpenAPI specification.
func (g *Generator) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		spec := g.Generate()

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Access-Control-Allow-Origin", "*")

		if err := json.NewEncoder(w).Encode(spec); err != nil {
			http.Error(w, "Failed to encode OpenAPI spec", http.StatusInternalServerError)
		}
	}
}

// =============================================================================
// Schema Generation
// =============================================================================

func (g *Generator) addCommonSchemas(spec *openapi3.T) {
	spec.Components.Schemas["Error"] = &openapi3.SchemaRef{
		Value: &openapi3.Schema{
			Type: &openapi3.Types{"object"},
			Properties: openapi3.Schemas{
				"errors": &openapi3.SchemaRef{
					Value: &openapi3.Schema{
						Type: &openapi3.Types{"array"},
						Items: &openapi3.SchemaRef{
							Value: &openapi3.Schema{
								Type: &openapi3.Types{"object"},
								Properties: openapi3.Schemas{
									"status": stringSchema(),
									"title":  stringSchema(),
									"detail": stringSchema(),
								},
							},
						},
					},
				},
			},
		},
	}

	spec.Components.Schemas["ListMeta"] = &openapi3.SchemaRef{
		Value: &openapi3.Schema{
			Type: &openapi3.Types{"object"},
			Properties: openapi3.Schemas{
				"total":    integerSchema(),
				"returned": integerSchema(),
				"buffered": integerSchema(),
			},
		},
	}
}

func (g *Generator) addPathToSpec(spec *openapi3.T, p PathInfo) {
	resp := openapi3.NewResponse().WithDescription("OK")
	switch {
	case p.PlainText:
		resp.WithContent(openapi3.NewContentWithSchema(openapi3.NewStringSchema(), []string{"text/plain"}))
	case p.Model != nil:
		name := reflect.TypeOf(p.Model).Name()
		spec.Components.Schemas[name] = g.extractSchema(p.Model)
		ref := &openapi3.SchemaRef{Ref: "#/components/schemas/" + name}
		mediaTypes := []string{"application/json"}
		if p.YAML {
			mediaTypes = append(mediaTypes, "application/yaml")
		}
		resp.WithContent(openapi3.NewContentWithSchemaRef(ref, mediaTypes))
	}

	responses := openapi3.NewResponses()
	responses.Set("200", &openapi3.ResponseRef{Value: resp})

	op := &openapi3.Operation{
		OperationID: operationID(p.Path),
		Summary:     p.Summary,
		Responses:   responses,
	}
	if p.Tag != "" {
		op.Tags = []string{p.Tag}
	}
	if p.YAML {
		op.Parameters = openapi3.Parameters{
			&openapi3.ParameterRef{
				Value: &openapi3.Parameter{
					Name: "format",
					In:   "query",
					Schema: &openapi3.SchemaRef{
						Value: &openapi3.Schema{Type: &openapi3.Types{"string"}, Enum: []interface{}{"json", "yaml"}},
					},
				},
			},
		}
	}
	spec.Paths.Set(p.Path, &openapi3.PathItem{Get: op})
}

// addResourceToSpec adds the list and item paths of a read-only resource.
func (g *Generator) addResourceToSpec(spec *openapi3.T, res ResourceInfo) {
	basePath := "/api/v1/" + res.Name
	schemaName := capitalize(singularize(res.Name))

	spec.Components.Schemas[schemaName+"Attributes"] = g.extractSchema(res.Model)
	spec.Components.Schemas[schemaName] = &openapi3.SchemaRef{
		Value: &openapi3.Schema{
			Type: &openapi3.Types{"object"},
			Properties: openapi3.Schemas{
				"type": &openapi3.SchemaRef{
					Value: &openapi3.Schema{
						Type: &openapi3.Types{"string"},
						Enum: []interface{}{res.Name},
					},
				},
				"id": stringSchema(),
				"attributes": &openapi3.SchemaRef{
					Ref: "#/components/schemas/" + schemaName + "Attributes",
				},
			},
			Required: []string{"type", "id"},
		},
	}
	spec.Components.Schemas[schemaName+"Response"] = &openapi3.SchemaRef{
		Value: &openapi3.Schema{
			Type: &openapi3.Types{"object"},
			Properties: openapi3.Schemas{
				"data": &openapi3.SchemaRef{Ref: "#/components/schemas/" + schemaName},
			},
		},
	}
	spec.Components.Schemas[schemaName+"ListResponse"] = &openapi3.SchemaRef{
		Value: &openapi3.Schema{
			Type: &openapi3.Types{"object"},
			Properties: openapi3.Schemas{
				"data": &openapi3.SchemaRef{
					Value: &openapi3.Schema{
						Type:  &openapi3.Types{"array"},
						Items: &openapi3.SchemaRef{Ref: "#/components/schemas/" + schemaName},
					},
				},
				"meta": &openapi3.SchemaRef{Ref: "#/components/schemas/ListMeta"},
			},
		},
	}

	spec.Paths.Set(basePath, &openapi3.PathItem{Get: g.createListOperation(res, schemaName)})
	spec.Paths.Set(basePath+"/{id}", &openapi3.PathItem{
		Parameters: openapi3.Parameters{
			&openapi3.ParameterRef{
				Value: &openapi3.Parameter{
					Name:     "id",
					In:       "path",
					Required: true,
					Schema:   stringSchema(),
				},
			},
		},
		Get: g.createGetOperation(res, schemaName),
	})
}

var textMarshalerType = reflect.TypeOf((*encoding.TextMarshaler)(nil)).Elem()

// extractSchema extracts an OpenAPI schema from a Go struct.
func (g *Generator) extractSchema(model interface{}) *openapi3.SchemaRef {
	t := reflect.TypeOf(model)
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return g.structSchema(t)
}

func (g *Generator) structSchema(t reflect.Type) *openapi3.SchemaRef {
	schema := &openapi3.Schema{
		Type:       &openapi3.Types{"object"},
		Properties: make(openapi3.Schemas),
	}

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}

		jsonTag := field.Tag.Get("json")
		if jsonTag == "-" {
			continue
		}
		name := field.Name
		if jsonTag != "" {
			if parts := strings.Split(jsonTag, ","); parts[0] != "" {
				name = parts[0]
			}
		}

		if propSchema := g.goTypeToSchema(field.Type); propSchema != nil {
			schema.Properties[name] = propSchema
		}
	}

	return &openapi3.SchemaRef{Value: schema}
}

// goTypeToSchema converts a Go type to an OpenAPI schema.
func (g *Generator) goTypeToSchema(t reflect.Type) *openapi3.SchemaRef {
	if t == reflect.TypeOf(time.Time{}) {
		return &openapi3.SchemaRef{
			Value: &openapi3.Schema{Type: &openapi3.Types{"string"}, Format: "date-time"},
		}
	}
	if t.Kind() != reflect.Ptr && t.Implements(textMarshalerType) {
		return stringSchema()
	}

	switch t.Kind() {
	case reflect.String:
		return stringSchema()

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32:
		return &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"integer"}, Format: "int32"}}

	case reflect.Int64:
		if t == reflect.TypeOf(time.Duration(0)) {
			return &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"integer"}, Format: "int64", Description: "nanoseconds"}}
		}
		return &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"integer"}, Format: "int64"}}

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return integerSchema()

	case reflect.Float32:
		return &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"number"}, Format: "float"}}

	case reflect.Float64:
		return &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"number"}, Format: "double"}}

	case reflect.Bool:
		return &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"boolean"}}}

	case reflect.Slice, reflect.Array:
		return &openapi3.SchemaRef{
			Value: &openapi3.Schema{
				Type:  &openapi3.Types{"array"},
				Items: g.goTypeToSchema(t.Elem()),
			},
		}

	case reflect.Map:
		return &openapi3.SchemaRef{
			Value: &openapi3.Schema{
				Type:                 &openapi3.Types{"object"},
				AdditionalProperties: openapi3.AdditionalProperties{Schema: g.goTypeToSchema(t.Elem())},
			},
		}

	case reflect.Ptr:
		schema := g.goTypeToSchema(t.Elem())
		if schema != nil && schema.Value != nil {
			schema.Value.Nullable = true
		}
		return schema

	case reflect.Struct:
		return g.structSchema(t)

	default:
		// interface{} and anything else: free-form object
		return &openapi3.SchemaRef{Value: &openapi3.Schema{}}
	}
}

// =============================================================================
// Operation Generation
// =============================================================================

func (g *Generator) createListOperation(res ResourceInfo, schemaName string) *openapi3.Operation {
	params := openapi3.Parameters{
		&openapi3.ParameterRef{
			Value: &openapi3.Parameter{
				Name:   "page[size]",
				In:     "query",
				Schema: integerSchema(),
			},
		},
	}
	for _, f := range res.Filters {
		params = append(params, &openapi3.ParameterRef{
			Value: &openapi3.Parameter{Name: f, In: "query", Schema: stringSchema()},
		})
	}

	responses := openapi3.NewResponses()
	responses.Set("200", jsonAPIResponse(schemaName+"ListResponse"))
	responses.Set("400", jsonAPIResponse("Error"))

	return &openapi3.Operation{
		OperationID: "list" + capitalize(res.Name),
		Summary:     "List " + res.Name,
		Tags:        []string{capitalize(res.Name)},
		Parameters:  params,
		Responses:   responses,
	}
}

func (g *Generator) createGetOperation(res ResourceInfo, schemaName string) *openapi3.Operation {
	responses := openapi3.NewResponses()
	responses.Set("200", jsonAPIResponse(schemaName+"Response"))
	responses.Set("404", jsonAPIResponse("Error"))

	return &openapi3.Operation{
		OperationID: "get" + schemaName,
		Summary:     "Get a " + singularize(res.Name),
		Tags:        []string{capitalize(res.Name)},
		Responses:   responses,
	}
}

// =============================================================================
// Helpers
// =============================================================================

func jsonAPIResponse(schema string) *openapi3.ResponseRef {
	ref := &openapi3.SchemaRef{Ref: "#/components/schemas/" + schema}
	return &openapi3.ResponseRef{
		Value: openapi3.NewResponse().
			WithDescription(schema).
			WithContent(openapi3.NewContentWithSchemaRef(ref, []string{"application/vnd.api+json"})),
	}
}

func stringSchema() *openapi3.SchemaRef {
	return &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"string"}}}
}

func integerSchema() *openapi3.SchemaRef {
	return &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"integer"}}}
}

// operationID turns "/api/v1/status" into "getApiV1Status".
func operationID(path string) string {
	var b strings.Builder
	b.WriteString("get")
	for _, part := range strings.FieldsFunc(path, func(r rune) bool { return r == '/' || r == '.' || r == '-' }) {
		b.WriteString(capitalize(part))
	}
	return b.String()
}

// capitalize returns the string with the first letter capitalized.
func capitalize(s string) string {
	if s == "" {
		return ""
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// singularize performs basic singularization (removes trailing 's').
func singularize(s string) string {
	if strings.HasSuffix(s, "ies") {
		return s[:len(s)-3] + "y"
	}
	if strings.HasSuffix(s, "s") {
		return s[:len(s)-1]
	}
	return s
}
