package verifier

import (
	"fmt"

	"github.com/Bidon15/mpoolctl/internal/deployerr"
	"github.com/Bidon15/mpoolctl/internal/plan"
	"github.com/Bidon15/mpoolctl/internal/store"
)

// resolver looks up plan references in persisted state. Bound keys are read
// from the flat view of the loaded record and other outputs come from
// completion markers. The store has already checked both views agree.
type resolver struct {
	plan      *plan.Plan
	snap      Snapshot
	bootstrap *plan.Context
}

func (r *resolver) resolve(a plan.Arg) (plan.Value, error) {
	if !a.IsRef() {
		return a.Lit, nil
	}
	if r.bootstrap != nil {
		if v, ok := r.bootstrap.Get(a.Ref); ok {
			return v, nil
		}
	}

	out, ok := r.plan.Producer(a.Ref)
	if !ok {
		return plan.Value{}, fmt.Errorf("%w: %s", deployerr.ErrReferenceUnresolved, a.Ref)
	}

	if flatKey, ok := r.plan.FlatKey(a.Ref); ok {
		text, ok := r.snap.Get(flatKey)
		if !ok {
			return plan.Value{}, fmt.Errorf("%w: %s is not set", deployerr.ErrReferenceUnresolved, flatKey)
		}
		v, err := plan.ParseText(out.Kind, text)
		if err != nil {
			return plan.Value{}, fmt.Errorf("%w: %s: %v", deployerr.ErrConfigCorrupt, flatKey, err)
		}
		return v, nil
	}

	for _, step := range r.plan.Steps {
		for _, o := range step.Outputs() {
			if o.Key != a.Ref {
				continue
			}
			marker, ok := r.snap.Marker(step.Info().Key)
			if !ok || marker.Status != store.StatusComplete {
				return plan.Value{}, fmt.Errorf("%w: step %s has not completed", deployerr.ErrReferenceUnresolved, step.Info().Key)
			}
			raw, ok := marker.Outputs[a.Ref]
			if !ok {
				return plan.Value{}, fmt.Errorf("%w: marker %s has no output %s", deployerr.ErrConfigCorrupt, step.Info().Key, a.Ref)
			}
			return plan.DecodeValue(o.Kind, raw)
		}
	}
	return plan.Value{}, fmt.Errorf("%w: %s", deployerr.ErrReferenceUnresolved, a.Ref)
}
