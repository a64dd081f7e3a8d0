// Command check_openapi verifies that the OpenAPI document tracks the
// served HTTP surface: every registered route must be documented with
// its methods, no stale paths may linger, and error responses must use
// the flat {"error": string} shape.
package main

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// servedRoutes mirrors the mux registrations in internal/server.
var servedRoutes = map[string][]string{
	"/v1/server/status":              {"get"},
	"/v1/user/id/{user_id}":          {"delete", "get", "put"},
	"/v1/user/metadata/{user_id}":    {"get"},
	"/v1/user/all/count":             {"get"},
	"/v1/user/all/id/{page}":         {"get"},
	"/v1/user/dialog/{user_id}":      {"delete"},
	"/v1/user/dialog/json/{user_id}": {"get", "put"},
	"/v1/user/dialog/str/{user_id}":  {"get"},
	"/v1/waifu":                      {"post"},
	"/path":                          {"post"},
}

type openAPIDoc struct {
	Paths      map[string]map[string]any `yaml:"paths"`
	Components struct {
		Schemas map[string]schema `yaml:"schemas"`
	} `yaml:"components"`
}

type schema struct {
	Type       string            `yaml:"type"`
	Required   []string          `yaml:"required"`
	Properties map[string]schema `yaml:"properties"`
}

func main() {
	path := "api/openapi.yaml"
	switch len(os.Args) {
	case 1:
	case 2:
		path = os.Args[1]
	default:
		fmt.Fprintf(os.Stderr, "usage: %s [openapi.yaml]\n", os.Args[0])
		os.Exit(2)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		exitErr(fmt.Errorf("read %s: %w", path, err))
	}
	var doc openAPIDoc
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		exitErr(fmt.Errorf("parse %s: %w", path, err))
	}

	if err := checkPaths(doc); err != nil {
		exitErr(err)
	}
	if err := checkErrorSchema(doc); err != nil {
		exitErr(err)
	}
	fmt.Println("OpenAPI surface check passed.")
}

func checkPaths(doc openAPIDoc) error {
	if len(doc.Paths) == 0 {
		return fmt.Errorf("document has no paths")
	}
	for route, methods := range servedRoutes {
		item, ok := doc.Paths[route]
		if !ok {
			return fmt.Errorf("served route %s is not documented", route)
		}
		for _, method := range methods {
			if _, ok := item[method]; !ok {
				return fmt.Errorf("route %s is missing method %s", route, strings.ToUpper(method))
			}
		}
		for key := range item {
			if !isOperation(key) {
				continue
			}
			if !contains(methods, key) {
				return fmt.Errorf("route %s documents %s which the server does not handle", route, strings.ToUpper(key))
			}
		}
	}
	var stale []string
	for route := range doc.Paths {
		if _, ok := servedRoutes[route]; !ok {
			stale = append(stale, route)
		}
	}
	if len(stale) > 0 {
		sort.Strings(stale)
		return fmt.Errorf("documented paths are not served: %s", strings.Join(stale, ", "))
	}
	return nil
}

func checkErrorSchema(doc openAPIDoc) error {
	s, ok := doc.Components.Schemas["Error"]
	if !ok {
		return fmt.Errorf("schema Error missing")
	}
	if s.Type != "object" {
		return fmt.Errorf("Error schema must be object")
	}
	if !contains(s.Required, "error") {
		return fmt.Errorf("Error.required must include \"error\"")
	}
	prop, ok := s.Properties["error"]
	if !ok || prop.Type != "string" {
		return fmt.Errorf("Error.error must be string")
	}
	return nil
}

func isOperation(key string) bool {
	switch key {
	case "get", "put", "post", "delete", "patch", "head", "options", "trace":
		return true
	default:
		return false
	}
}

func contains(items []string, want string) bool {
	for _, item := range items {
		if item == want {
			return true
		}
	}
	return false
}

func exitErr(err error) {
	fmt.Fprintln(os.Stderr, err.Error())
	os.Exit(1)
}
