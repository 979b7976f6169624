package schema

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"

	language "github.com/hanpama/fedgate/internal/language"
)

// ErrNoSubgraphs indicates a supergraph without a join__Graph enum.
var ErrNoSubgraphs = errors.New("schema: supergraph declares no subgraphs")

// Load parses a composed supergraph SDL and extracts its join metadata.
// name is used in error positions only.
func Load(name, sdl string) (*Schema, error) {
	if !strings.Contains(sdl, "enum "+joinGraphEnum) {
		return nil, ErrNoSubgraphs
	}
	src := sdl
	if !strings.Contains(src, joinTypeDeclaration) {
		src = src + "\n" + joinPrelude
	}
	doc, err := language.LoadSchema(name, src)
	if err != nil {
		return nil, fmt.Errorf("load supergraph %s: %w", name, err)
	}

	s := &Schema{
		ast:     doc,
		byEnum:  map[string]int{},
		byName:  map[string]int{},
		types:   map[string]*typeInfo{},
		version: strconv.FormatUint(xxhash.Sum64String(sdl), 16),
	}

	graphs := doc.Types[joinGraphEnum]
	if graphs == nil || len(graphs.EnumValues) == 0 {
		return nil, ErrNoSubgraphs
	}
	for _, ev := range graphs.EnumValues {
		d := ev.Directives.ForName(joinGraphDirective)
		if d == nil {
			return nil, fmt.Errorf("schema: %s.%s lacks @%s", joinGraphEnum, ev.Name, joinGraphDirective)
		}
		sg := Subgraph{Name: stringArg(d, "name"), URL: stringArg(d, "url")}
		if sg.Name == "" {
			sg.Name = strings.ToLower(ev.Name)
		}
		s.byEnum[ev.Name] = len(s.subgraphs)
		s.byName[sg.Name] = len(s.subgraphs)
		s.subgraphs = append(s.subgraphs, sg)
	}

	for name, def := range doc.Types {
		if def.BuiltIn || IsFederationName(name) {
			continue
		}
		ti, err := s.buildTypeInfo(def)
		if err != nil {
			return nil, err
		}
		if ti != nil {
			s.types[name] = ti
		}
	}
	return s, nil
}

func (s *Schema) buildTypeInfo(def *language.Definition) (*typeInfo, error) {
	ti := &typeInfo{keys: map[string][]string{}, fields: map[string]*fieldInfo{}}
	for _, d := range def.Directives.ForNames(joinTypeDirective) {
		graph, err := s.graphArg(d)
		if err != nil {
			return nil, fmt.Errorf("schema: type %s: %w", def.Name, err)
		}
		if !containsString(ti.graphs, graph) {
			ti.graphs = append(ti.graphs, graph)
		}
		key := stringArg(d, "key")
		if key != "" && boolArg(d, "resolvable", true) {
			ti.keys[graph] = append(ti.keys[graph], key)
		}
	}
	for _, fd := range def.Fields {
		var fi *fieldInfo
		for _, d := range fd.Directives.ForNames(joinFieldDirective) {
			if d.Arguments.ForName("graph") == nil {
				continue
			}
			graph, err := s.graphArg(d)
			if err != nil {
				return nil, fmt.Errorf("schema: field %s.%s: %w", def.Name, fd.Name, err)
			}
			if fi == nil {
				fi = &fieldInfo{requires: map[string]string{}}
			}
			if boolArg(d, "external", false) {
				continue
			}
			if !containsString(fi.graphs, graph) {
				fi.graphs = append(fi.graphs, graph)
			}
			if req := stringArg(d, "requires"); req != "" {
				fi.requires[graph] = req
			}
		}
		if fi != nil {
			ti.fields[fd.Name] = fi
		}
	}
	if len(ti.graphs) == 0 && len(ti.fields) == 0 {
		return nil, nil
	}
	return ti, nil
}

func (s *Schema) graphArg(d *language.Directive) (string, error) {
	arg := d.Arguments.ForName("graph")
	if arg == nil || arg.Value == nil {
		return "", fmt.Errorf("@%s without graph", d.Name)
	}
	i, ok := s.byEnum[arg.Value.Raw]
	if !ok {
		return "", fmt.Errorf("@%s references unknown graph %s", d.Name, arg.Value.Raw)
	}
	return s.subgraphs[i].Name, nil
}

func stringArg(d *language.Directive, name string) string {
	arg := d.Arguments.ForName(name)
	if arg == nil || arg.Value == nil {
		return ""
	}
	return arg.Value.Raw
}

func boolArg(d *language.Directive, name string, def bool) bool {
	arg := d.Arguments.ForName(name)
	if arg == nil || arg.Value == nil {
		return def
	}
	return arg.Value.Raw == "true"
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
