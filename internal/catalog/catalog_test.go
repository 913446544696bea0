package catalog

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/foundrymidi/bridge/model"
)

// testSpec is a minimal valid OpenAPI 3.0 spec for testing.
const testSpec = `openapi: "3.0.3"
info:
  title: Game API
  version: "1.0"
paths:
  /lights/on:
    post:
      summary: Turn the lights on
      parameters:
        - name: fade
          in: query
          schema:
            type: boolean
      requestBody:
        content:
          application/json:
            schema:
              type: object
              required:
                - level
              properties:
                level:
                  type: integer
                comment:
                  type: string
      responses:
        "200":
          description: OK
  /actors/{id}/items/{itemId}:
    put:
      description: Give an item to an actor
      parameters:
        - name: id
          in: path
          required: true
          schema:
            type: string
        - name: itemId
          in: path
          required: true
          schema:
            type: string
      responses:
        "200":
          description: OK
`

func writeSpecFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "spec.yaml")
	if err := os.WriteFile(path, []byte(testSpec), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestFromOpenAPI(t *testing.T) {
	cat, err := FromOpenAPI(context.Background(), writeSpecFile(t))
	if err != nil {
		t.Fatalf("FromOpenAPI: %v", err)
	}
	if cat.Len() != 2 {
		t.Fatalf("Len = %d, want 2", cat.Len())
	}

	put, ok := cat.Find("PUT", "/actors/:id/items/:itemId")
	if !ok {
		t.Fatalf("PUT /actors/:id/items/:itemId not found; endpoints: %+v", cat.Endpoints())
	}
	if put.Description != "Give an item to an actor" {
		t.Errorf("description = %q", put.Description)
	}
	if len(put.RequiredParameters) != 2 {
		t.Fatalf("required = %+v, want id and itemId", put.RequiredParameters)
	}
	for _, p := range put.RequiredParameters {
		if p.Location != "path" || p.Type != "string" {
			t.Errorf("parameter %+v, want path string", p)
		}
	}

	post, ok := cat.Find("POST", "/lights/on")
	if !ok {
		t.Fatal("POST /lights/on not found")
	}
	if post.Description != "Turn the lights on" {
		t.Errorf("description = %q, want summary text", post.Description)
	}

	requiredNames := paramNames(post.RequiredParameters)
	if len(requiredNames) != 1 || requiredNames[0] != "level" {
		t.Errorf("required = %v, want [level]", requiredNames)
	}
	optionalNames := paramNames(post.OptionalParameters)
	if len(optionalNames) != 2 {
		t.Fatalf("optional = %v, want fade and comment", optionalNames)
	}

	byName := map[string]model.ParameterDescriptor{}
	for _, p := range append(post.RequiredParameters, post.OptionalParameters...) {
		byName[p.Name] = p
	}
	if byName["level"].Location != "body" || byName["level"].Type != "integer" {
		t.Errorf("level = %+v", byName["level"])
	}
	if byName["fade"].Location != "query" || byName["fade"].Type != "boolean" {
		t.Errorf("fade = %+v", byName["fade"])
	}
	if byName["comment"].Location != "body" {
		t.Errorf("comment = %+v", byName["comment"])
	}
}

func TestFromOpenAPIMissingFile(t *testing.T) {
	if _, err := FromOpenAPI(context.Background(), filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestCatalogEndpointsAreSorted(t *testing.T) {
	cat := New([]model.EndpointDescriptor{
		{Method: "POST", Path: "/b"},
		{Method: "GET", Path: "/a"},
		{Method: "DELETE", Path: "/a"},
	})
	eps := cat.Endpoints()
	if eps[0].Path != "/a" || eps[0].Method != "DELETE" {
		t.Errorf("first = %+v", eps[0])
	}
	if eps[2].Path != "/b" {
		t.Errorf("last = %+v", eps[2])
	}
}

func paramNames(params []model.ParameterDescriptor) []string {
	names := make([]string, 0, len(params))
	for _, p := range params {
		names = append(names, p.Name)
	}
	return names
}
