package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/dockyard-paas/dockyard/pkg/domain"
	xe "github.com/dockyard-paas/dockyard/pkg/errors"
	"github.com/dockyard-paas/dockyard/pkg/utils/retry"
)

// Scale reconciles the app's containers with the requested structure.
//
// Only the process types named in structure are touched. Surplus containers
// are torn down newest first, keeping the longest-running instances; new
// containers get nums above every num ever used for their type.
//
// All creations and all destructions run as two batches of independent
// concurrent jobs; Scale returns once both batches settle.
//
// # Returns
//
// - bool : whether any container was created or destroyed.
//
// - error : validation errors before any remote effect, or the joined
// failures of the batch jobs.
func (o *Orchestrator) Scale(ctx context.Context, app domain.App, structure map[string]int) (bool, error) {
	rel, err := o.store.Releases().Latest(ctx, app.Id)
	if err != nil {
		return false, xe.WrapWithNote(fmt.Sprintf("app %s was never deployed", app.Id), err)
	}

	// the reserved "cmd" type is always schedulable, with or without a
	// declared process table.
	for ctype, count := range structure {
		if ctype != domain.ProcessTypeCmd {
			if _, ok := rel.Build.Procfile[ctype]; !ok {
				return false, domain.NewErrUnknownProcessType(ctype)
			}
		}
		if count < 0 {
			return false, fmt.Errorf("%w: requested %d %s containers", domain.ErrValidation, count, ctype)
		}
	}

	lifecycle, err := o.lifecycle(ctx, app)
	if err != nil {
		return false, err
	}

	toCreate := []domain.Container{}
	toDestroy := []domain.Container{}
	changed := map[string]int{}

	// deterministic order for logs and tests
	types := make([]string, 0, len(structure))
	for ctype := range structure {
		types = append(types, ctype)
	}
	sort.Strings(types)

	for _, ctype := range types {
		desired := structure[ctype]
		current, err := o.store.Containers().ListByType(ctx, app.Id, ctype)
		if err != nil {
			return false, xe.Wrap(err)
		}
		diff := desired - len(current)
		if diff == 0 {
			continue
		}
		changed[ctype] = desired

		if diff < 0 {
			// newest first: current is ordered by creation time ascending
			toDestroy = append(toDestroy, current[len(current)+diff:]...)
			continue
		}

		num, err := o.store.Containers().MaxNum(ctx, app.Id, ctype)
		if err != nil {
			return false, xe.Wrap(err)
		}
		for i := 1; i <= diff; i++ {
			c, err := o.store.Containers().New(ctx, domain.Container{
				AppId:          app.Id,
				ReleaseVersion: rel.Version,
				Type:           ctype,
				Num:            num + i,
				State:          domain.Initialized,
			})
			if err != nil {
				return false, xe.Wrap(err)
			}
			toCreate = append(toCreate, c)
		}
	}

	// record the desired structure for the touched types
	merged := map[string]int{}
	for ctype, count := range app.Structure {
		merged[ctype] = count
	}
	for ctype, count := range structure {
		merged[ctype] = count
	}
	if err := o.store.Apps().SetStructure(ctx, app.Id, merged); err != nil {
		return false, xe.Wrap(err)
	}

	if len(toCreate) == 0 && len(toDestroy) == 0 {
		return false, nil
	}

	// two batches over disjoint container identities; they may overlap
	promises := make([]retry.Promise[domain.Container], 0, len(toCreate)+len(toDestroy))
	for _, c := range toCreate {
		c := c
		promises = append(promises, retry.Go(ctx, retry.StaticBackoff(0), func() (domain.Container, error) {
			created, err := lifecycle.Create(ctx, c, rel)
			if err != nil {
				return created, err
			}
			return lifecycle.Start(ctx, created)
		}))
	}
	for _, c := range toDestroy {
		c := c
		promises = append(promises, retry.Go(ctx, retry.StaticBackoff(0), func() (domain.Container, error) {
			return lifecycle.Destroy(ctx, c)
		}))
	}
	if err := o.barrier(ctx, promises); err != nil {
		return true, err
	}

	summary := make([]string, 0, len(changed))
	for _, ctype := range types {
		if count, ok := changed[ctype]; ok {
			summary = append(summary, fmt.Sprintf("%s=%d", ctype, count))
		}
	}
	o.logger.Infof("scaled %s: %s", app.Id, strings.Join(summary, " "))
	return true, nil
}

// barrier joins a batch of container jobs, bounded by BarrierTimeout.
func (o *Orchestrator) barrier(ctx context.Context, promises []retry.Promise[domain.Container]) error {
	if len(promises) == 0 {
		return nil
	}
	bctx, cancel := context.WithTimeout(ctx, o.BarrierTimeout)
	defer cancel()

	errs := []error{}
	for _, p := range promises {
		select {
		case result := <-p:
			if result.Err != nil {
				errs = append(errs, result.Err)
			}
		case <-bctx.Done():
			errs = append(errs, fmt.Errorf("batch barrier: %w", bctx.Err()))
		}
	}
	return errors.Join(errs...)
}
