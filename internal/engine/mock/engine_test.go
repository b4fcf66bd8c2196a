package mock_test

import (
	"context"
	"testing"
	"time"

	"github.com/kiranshivaraju/tutoreval/internal/engine/mock"
	"github.com/kiranshivaraju/tutoreval/pkg/models"
	"github.com/stretchr/testify/assert"
)

func TestNewEngine(t *testing.T) {
	e := mock.NewEngine("Plants make food from light.")
	res := e.Evaluate(context.Background(), models.Case{ID: "c1"}, "", nil, time.Second, 42)
	assert.Equal(t, "Plants make food from light.", res.RawOutput.TutorResponse())
	assert.Equal(t, "mock/test", e.ModelVersion())
}

func TestEngine_ZeroValue(t *testing.T) {
	e := &mock.Engine{Version: "v0"}
	res := e.Evaluate(context.Background(), models.Case{}, "", nil, 0, 0)
	assert.Equal(t, "v0", res.ModelVersion)
	_, ok := res.RawOutput[models.RawTutorResponse]
	assert.True(t, ok)
}

func TestNewPanickingEngine(t *testing.T) {
	e := mock.NewPanickingEngine()
	assert.Panics(t, func() {
		e.Evaluate(context.Background(), models.Case{}, "", nil, time.Second, 42)
	})
}
