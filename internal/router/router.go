package router

import (
	"github.com/rotisserie/eris"

	"github.com/sells-group/waste-pipeline/internal/extract"
	"github.com/sells-group/waste-pipeline/internal/model"
)

// Router orders extraction backends for a document.
type Router struct {
	backends []extract.Backend
}

// New creates a Router. Registration order is the fallback order.
func New(backends ...extract.Backend) *Router {
	return &Router{backends: backends}
}

// Backend returns the registered backend with the given name.
func (r *Router) Backend(name string) (extract.Backend, bool) {
	for _, b := range r.backends {
		if b.Name() == name {
			return b, true
		}
	}
	return nil, false
}

// Select returns the backends to try in order: the override (or the
// assessment's suggestion) first, then the remaining backends that support the
// file type. An unknown or unsupported override is an error.
func (r *Router) Select(qa model.QualityAssessment, override string) ([]extract.Backend, error) {
	primary := qa.SuggestedModel
	if override != "" {
		b, ok := r.Backend(override)
		if !ok {
			return nil, eris.Errorf("router: unknown backend %q", override)
		}
		if !b.Supports(qa.FileType) {
			return nil, eris.Errorf("router: backend %q cannot read %s files", override, qa.FileType)
		}
		primary = override
	}

	var out []extract.Backend
	if b, ok := r.Backend(primary); ok && b.Supports(qa.FileType) {
		out = append(out, b)
	}
	for _, b := range r.backends {
		if b.Name() != primary && b.Supports(qa.FileType) {
			out = append(out, b)
		}
	}
	if len(out) == 0 {
		return nil, eris.Errorf("router: no backend supports %q files", qa.FileType)
	}
	return out, nil
}
