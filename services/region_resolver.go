package services

import (
	"fmt"
	"regexp"
	"sort"

	"content-regions/errors"
	"content-regions/models"
)

var humanizePattern = regexp.MustCompile(`[^\p{L}\p{N}]+`)

// RegionResolver answers questions about declared regions. It never changes
// the declarations it was built with.
type RegionResolver struct {
	decls  *models.RegionDeclarations
	strict bool
	logger Logger
}

// NewRegionResolver checks every declared region code and returns a resolver.
// In strict mode lookups of undeclared templates and regions fail instead of
// degrading.
func NewRegionResolver(decls *models.RegionDeclarations, strict bool, logger Logger) (*RegionResolver, error) {
	if decls == nil {
		decls = models.NewRegionDeclarations(nil)
	}
	if logger == nil {
		logger = NewNopLogger()
	}

	templates := decls.Templates()
	sort.Strings(templates)
	for _, template := range templates {
		regions, _ := decls.Regions(template)
		for _, region := range regions {
			if err := ValidateRegionName(region.Code); err != nil {
				return nil, errors.NewValidationError(
					errors.ErrCodeRegionNameInvalid,
					fmt.Sprintf("template %s declares an invalid region", template),
					err,
				)
			}
		}
	}

	return &RegionResolver{
		decls:  decls,
		strict: strict,
		logger: logger.With(String("component", "region_resolver")),
	}, nil
}

// Strict reports whether the resolver fails fast
func (r *RegionResolver) Strict() bool {
	return r.strict
}

// Templates returns the declared template identifiers, sorted
func (r *RegionResolver) Templates() []string {
	templates := r.decls.Templates()
	sort.Strings(templates)
	return templates
}

// RegionsForTemplate returns the regions of a template in declared order.
// An undeclared template yields no regions, or an error in strict mode.
func (r *RegionResolver) RegionsForTemplate(template string) ([]models.RegionDescriptor, error) {
	regions, ok := r.decls.Regions(template)
	if ok {
		return regions, nil
	}
	if r.strict {
		return nil, errors.NewNotFoundError(
			errors.ErrCodeTemplateNotConfigured,
			fmt.Sprintf("no regions declared for template %q", template),
			nil,
		)
	}
	r.logger.Warn("no regions declared for template", String("template", template))
	return []models.RegionDescriptor{}, nil
}

func (r *RegionResolver) descriptor(template, code string) (models.RegionDescriptor, bool) {
	regions, _ := r.decls.Regions(template)
	for _, region := range regions {
		if region.Code == code {
			return region, true
		}
	}
	return models.RegionDescriptor{}, false
}

// IsDeclared reports whether the template declares the region
func (r *RegionResolver) IsDeclared(template, code string) bool {
	_, ok := r.descriptor(template, code)
	return ok
}

// PrettyName returns the configured display name of a region, or the code
// with every run of non word characters and underscores turned into a space
func (r *RegionResolver) PrettyName(template, code string) string {
	if region, ok := r.descriptor(template, code); ok && region.Name != "" {
		return region.Name
	}
	return Humanize(code)
}

// Humanize turns a region code into a display string
func Humanize(code string) string {
	return humanizePattern.ReplaceAllString(code, " ")
}

// EnabledKindsFor returns the kinds editors may place in a region. Kinds
// limited to 0 are hidden and left out; nil limits mean unlimited.
func (r *RegionResolver) EnabledKindsFor(template, code string) map[models.Kind]models.Limit {
	enabled := make(map[models.Kind]models.Limit)
	region, ok := r.descriptor(template, code)
	if !ok {
		return enabled
	}
	for kind, limit := range region.Kinds {
		if limit != nil && *limit == 0 {
			continue
		}
		enabled[kind] = limit
	}
	return enabled
}

// ResolveRegion picks the destination region of a move. A blank, malformed or
// undeclared request falls back to the current region so that bad client
// input never blocks a reorder; strict mode rejects undeclared regions.
// Without a template there is nothing to check declarations against.
func (r *RegionResolver) ResolveRegion(template, requested, current string) (string, error) {
	if requested == "" || requested == current {
		return current, nil
	}

	if err := ValidateRegionName(requested); err != nil {
		r.logger.Warn("invalid destination region, keeping current region",
			String("requested", requested),
			String("current", current),
			String("reason", err.Error()))
		return current, nil
	}

	if template == "" {
		return requested, nil
	}

	if _, ok := r.decls.Regions(template); !ok && r.strict {
		return "", errors.NewNotFoundError(
			errors.ErrCodeTemplateNotConfigured,
			fmt.Sprintf("no regions declared for template %q", template),
			nil,
		)
	}

	if r.IsDeclared(template, requested) {
		return requested, nil
	}

	if r.strict {
		return "", errors.NewValidationError(
			errors.ErrCodeRegionNotConfigured,
			fmt.Sprintf("region %q is not declared for template %q", requested, template),
			nil,
		)
	}

	r.logger.Warn("destination region not declared, keeping current region",
		String("template", template),
		String("requested", requested),
		String("current", current))
	return current, nil
}

// CheckLimit reports whether one more chunk of kind fits in the region given
// the current count of that kind. Without a template every kind is allowed.
func (r *RegionResolver) CheckLimit(template, code string, kind models.Kind, count int) error {
	if template == "" {
		return nil
	}

	if _, ok := r.decls.Regions(template); !ok {
		if r.strict {
			return errors.NewNotFoundError(
				errors.ErrCodeTemplateNotConfigured,
				fmt.Sprintf("no regions declared for template %q", template),
				nil,
			)
		}
		r.logger.Warn("no regions declared for template, skipping limit check",
			String("template", template),
			String("region", code))
		return nil
	}

	region, ok := r.descriptor(template, code)
	if !ok {
		return errors.NewValidationError(
			errors.ErrCodeRegionNotConfigured,
			fmt.Sprintf("region %q is not declared for template %q", code, template),
			nil,
		)
	}

	limit, ok := region.Kinds[kind]
	if !ok || (limit != nil && *limit == 0) {
		return errors.NewValidationError(
			errors.ErrCodeKindNotAllowed,
			fmt.Sprintf("kind %q is not enabled in region %q", kind, code),
			nil,
		)
	}

	if limit != nil && count >= *limit {
		return errors.NewConflictError(
			errors.ErrCodeLimitReached,
			fmt.Sprintf("region %q already holds %d of %d allowed %s chunks", code, count, *limit, kind),
			nil,
		)
	}
	return nil
}
