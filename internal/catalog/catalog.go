// Package catalog builds the normalized endpoint descriptor list that
// drives template construction. Descriptors come from the remote API's
// /api/docs self-description, or offline from an OpenAPI 3 specification
// file. Once built the catalog is immutable.
package catalog

import (
	"context"
	"fmt"
	"sort"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/foundrymidi/bridge/model"
)

// Catalog is an immutable list of endpoint descriptors, ordered by path
// then method.
type Catalog struct {
	endpoints []model.EndpointDescriptor
}

// New builds a catalog from descriptors, normalizing order.
func New(endpoints []model.EndpointDescriptor) *Catalog {
	sorted := make([]model.EndpointDescriptor, len(endpoints))
	copy(sorted, endpoints)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Path != sorted[j].Path {
			return sorted[i].Path < sorted[j].Path
		}
		return sorted[i].Method < sorted[j].Method
	})
	return &Catalog{endpoints: sorted}
}

// Endpoints returns the descriptors. Callers must not mutate the slice.
func (c *Catalog) Endpoints() []model.EndpointDescriptor {
	return c.endpoints
}

// Find returns the descriptor for a method and path pattern.
func (c *Catalog) Find(method, path string) (model.EndpointDescriptor, bool) {
	for _, ep := range c.endpoints {
		if ep.Method == method && ep.Path == path {
			return ep, true
		}
	}
	return model.EndpointDescriptor{}, false
}

// Len returns the number of descriptors.
func (c *Catalog) Len() int {
	return len(c.endpoints)
}

// FromOpenAPI loads and validates an OpenAPI 3 spec file and converts its
// operations into endpoint descriptors. Path templates use the ":name"
// placeholder form the request builder consumes, so "{id}" becomes ":id".
func FromOpenAPI(ctx context.Context, specPath string) (*Catalog, error) {
	loader := openapi3.NewLoader()
	loader.IsExternalRefsAllowed = false

	doc, err := loader.LoadFromFile(specPath)
	if err != nil {
		return nil, fmt.Errorf("catalog: loading %s: %w", specPath, err)
	}
	if err := doc.Validate(ctx); err != nil {
		return nil, fmt.Errorf("catalog: validating %s: %w", specPath, err)
	}

	var endpoints []model.EndpointDescriptor
	for path, pathItem := range doc.Paths.Map() {
		for method, op := range pathItem.Operations() {
			desc := model.EndpointDescriptor{
				Method:      method,
				Path:        convertPathTemplate(path),
				Description: op.Summary,
			}
			if desc.Description == "" {
				desc.Description = op.Description
			}

			// Merge path-level and operation-level parameters.
			params := make([]*openapi3.Parameter, 0)
			for _, ref := range pathItem.Parameters {
				if ref.Value != nil {
					params = append(params, ref.Value)
				}
			}
			for _, ref := range op.Parameters {
				if ref.Value != nil {
					params = append(params, ref.Value)
				}
			}
			for _, p := range params {
				pd := model.ParameterDescriptor{
					Name:     p.Name,
					Type:     schemaType(p.Schema),
					Location: p.In, // "path" and "query" match descriptor locations
				}
				if p.Required || p.In == openapi3.ParameterInPath {
					desc.RequiredParameters = append(desc.RequiredParameters, pd)
				} else {
					desc.OptionalParameters = append(desc.OptionalParameters, pd)
				}
			}

			appendBodyParameters(&desc, op.RequestBody)
			endpoints = append(endpoints, desc)
		}
	}

	return New(endpoints), nil
}

// appendBodyParameters flattens the JSON request body schema's top-level
// properties into body-located parameter descriptors.
func appendBodyParameters(desc *model.EndpointDescriptor, bodyRef *openapi3.RequestBodyRef) {
	if bodyRef == nil || bodyRef.Value == nil {
		return
	}
	ct := bodyRef.Value.Content.Get("application/json")
	if ct == nil || ct.Schema == nil || ct.Schema.Value == nil {
		return
	}
	schema := ct.Schema.Value

	required := make(map[string]bool, len(schema.Required))
	for _, name := range schema.Required {
		required[name] = true
	}

	names := make([]string, 0, len(schema.Properties))
	for name := range schema.Properties {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		pd := model.ParameterDescriptor{
			Name:     name,
			Type:     schemaType(schema.Properties[name]),
			Location: "body",
		}
		if required[name] {
			desc.RequiredParameters = append(desc.RequiredParameters, pd)
		} else {
			desc.OptionalParameters = append(desc.OptionalParameters, pd)
		}
	}
}

// convertPathTemplate rewrites "{name}" placeholders to the ":name" form.
func convertPathTemplate(path string) string {
	out := make([]byte, 0, len(path))
	for i := 0; i < len(path); i++ {
		switch path[i] {
		case '{':
			out = append(out, ':')
		case '}':
		default:
			out = append(out, path[i])
		}
	}
	return string(out)
}

func schemaType(ref *openapi3.SchemaRef) string {
	if ref == nil || ref.Value == nil || ref.Value.Type == nil {
		return "string"
	}
	types := *ref.Value.Type
	if len(types) == 0 {
		return "string"
	}
	return types[0]
}
