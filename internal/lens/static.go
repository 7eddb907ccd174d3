package lens

import (
	"context"

	"github.com/sprite-ai/lensrev/internal/analysis"
	"github.com/sprite-ai/lensrev/internal/model"
)

// Static is a lens made of deterministic analysis passes. It needs no AI
// provider.
type Static struct {
	id     string
	passes []string
}

// NewStatic creates a lens running the named analysis passes.
func NewStatic(id string, passes ...string) *Static {
	return &Static{id: id, passes: passes}
}

func (s *Static) ID() string { return s.id }

func (s *Static) Run(ctx context.Context, in Input) (*model.LensResult, error) {
	res, err := analysis.Run(ctx, in.Diff, in.Root, s.passes...)
	if err != nil {
		return nil, err
	}
	return &model.LensResult{LensID: s.id, Summary: res.Summary(), Issues: res.Issues()}, nil
}
