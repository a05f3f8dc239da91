package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"

	"content-regions/models"
)

// regionFile is the on-disk layout of the region declarations
type regionFile struct {
	Templates map[string][]regionEntry `yaml:"templates"`
}

// regionEntry accepts either the mapping form
//
//   - code: header
//     name: Page header
//     kinds: {text: 1}
//
// or the three element form [code, name, {kind: limit}].
type regionEntry struct {
	Code  string          `yaml:"code"`
	Name  string          `yaml:"name"`
	Kinds map[string]*int `yaml:"kinds"`
}

func (e *regionEntry) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var tuple []interface{}
	if err := unmarshal(&tuple); err == nil {
		return e.fromTuple(tuple)
	}

	type plain regionEntry
	var p plain
	if err := unmarshal(&p); err != nil {
		return err
	}
	*e = regionEntry(p)
	return nil
}

func (e *regionEntry) fromTuple(tuple []interface{}) error {
	if len(tuple) != 3 {
		return fmt.Errorf("region descriptor must have 3 elements, got %d", len(tuple))
	}
	code, ok := tuple[0].(string)
	if !ok {
		return fmt.Errorf("region code must be a string, got %T", tuple[0])
	}
	e.Code = code

	switch name := tuple[1].(type) {
	case nil:
	case string:
		e.Name = name
	default:
		return fmt.Errorf("region %q: display name must be a string, got %T", code, tuple[1])
	}

	e.Kinds = make(map[string]*int)
	switch kinds := tuple[2].(type) {
	case nil:
	case map[interface{}]interface{}:
		for k, v := range kinds {
			kind := fmt.Sprint(k)
			switch limit := v.(type) {
			case nil:
				e.Kinds[kind] = nil
			case int:
				n := limit
				e.Kinds[kind] = &n
			default:
				return fmt.Errorf("region %q: limit for %q must be an integer or null, got %T", code, kind, v)
			}
		}
	default:
		return fmt.Errorf("region %q: kinds must be a mapping, got %T", code, tuple[2])
	}
	return nil
}

// ParseRegionDeclarations decodes YAML region declarations. Region codes are
// checked for duplicates and negative limits here; naming rules are enforced
// by the region resolver when it is constructed.
func ParseRegionDeclarations(data []byte) (*models.RegionDeclarations, error) {
	var file regionFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse region declarations: %w", err)
	}

	templates := make(map[string][]models.RegionDescriptor, len(file.Templates))
	for template, entries := range file.Templates {
		seen := make(map[string]bool, len(entries))
		regions := make([]models.RegionDescriptor, 0, len(entries))
		for _, entry := range entries {
			if entry.Code == "" {
				return nil, &ConfigError{Field: template, Message: "region code is required"}
			}
			if seen[entry.Code] {
				return nil, &ConfigError{Field: template, Message: "duplicate region " + entry.Code}
			}
			seen[entry.Code] = true

			kinds := make(map[models.Kind]models.Limit, len(entry.Kinds))
			for kind, limit := range entry.Kinds {
				if limit != nil && *limit < 0 {
					return nil, &ConfigError{
						Field:   template + "." + entry.Code,
						Message: fmt.Sprintf("negative limit %d for kind %s", *limit, kind),
					}
				}
				kinds[models.Kind(kind)] = limit
			}
			regions = append(regions, models.RegionDescriptor{
				Code:  entry.Code,
				Name:  entry.Name,
				Kinds: kinds,
			})
		}
		templates[template] = regions
	}

	return models.NewRegionDeclarations(templates), nil
}

// LoadRegionDeclarations reads and parses the region declaration file
func LoadRegionDeclarations(path string) (*models.RegionDeclarations, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read region declarations %s: %w", path, err)
	}
	return ParseRegionDeclarations(data)
}
