package models

// Limit caps how many chunks of a kind a region may hold. nil means unlimited,
// zero hides the kind.
type Limit *int

// NewLimit returns a limit of n
func NewLimit(n int) Limit {
	return &n
}

// Unlimited is the nil limit
var Unlimited Limit

// RegionDescriptor declares one region of a template
type RegionDescriptor struct {
	Code  string         `json:"code" yaml:"code"`
	Name  string         `json:"name,omitempty" yaml:"name,omitempty"`
	Kinds map[Kind]Limit `json:"kinds" yaml:"kinds"`
}

// RegionDeclarations maps a template identifier to its ordered regions.
// Built once at startup and never mutated afterwards.
type RegionDeclarations struct {
	templates map[string][]RegionDescriptor
}

// NewRegionDeclarations copies the given mapping into an immutable value
func NewRegionDeclarations(templates map[string][]RegionDescriptor) *RegionDeclarations {
	copied := make(map[string][]RegionDescriptor, len(templates))
	for name, regions := range templates {
		rs := make([]RegionDescriptor, len(regions))
		for i, r := range regions {
			kinds := make(map[Kind]Limit, len(r.Kinds))
			for k, l := range r.Kinds {
				if l != nil {
					kinds[k] = NewLimit(*l)
				} else {
					kinds[k] = nil
				}
			}
			rs[i] = RegionDescriptor{Code: r.Code, Name: r.Name, Kinds: kinds}
		}
		copied[name] = rs
	}
	return &RegionDeclarations{templates: copied}
}

// Regions returns the declared regions of a template and whether it exists
func (d *RegionDeclarations) Regions(template string) ([]RegionDescriptor, bool) {
	if d == nil {
		return nil, false
	}
	regions, ok := d.templates[template]
	if !ok {
		return nil, false
	}
	out := make([]RegionDescriptor, len(regions))
	copy(out, regions)
	return out, true
}

// Templates returns every declared template identifier
func (d *RegionDeclarations) Templates() []string {
	if d == nil {
		return nil
	}
	names := make([]string, 0, len(d.templates))
	for name := range d.templates {
		names = append(names, name)
	}
	return names
}
