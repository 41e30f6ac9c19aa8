package pipeline

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/waste-pipeline/internal/extract"
	"github.com/sells-group/waste-pipeline/internal/model"
	"github.com/sells-group/waste-pipeline/pkg/anthropic"
)

type mockBackend struct {
	mock.Mock
	name string
}

func (m *mockBackend) Name() string                  { return m.name }
func (m *mockBackend) Supports(model.FileType) bool { return true }

func (m *mockBackend) Extract(ctx context.Context, doc *model.Document, qa model.QualityAssessment, s extract.Settings) (*model.ExtractionResult, error) {
	args := m.Called(ctx, doc, qa, s)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.ExtractionResult), args.Error(1)
}

type fixedAssessor struct {
	qa model.QualityAssessment
}

func (a fixedAssessor) Assess(context.Context, *model.Document) model.QualityAssessment {
	return a.qa
}

type mockAnthropic struct {
	mock.Mock
}

func (m *mockAnthropic) CreateMessage(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*anthropic.MessageResponse), args.Error(1)
}
