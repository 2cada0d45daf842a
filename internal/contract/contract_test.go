package contract

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/contractml/internal/inference"
	"github.com/sells-group/contractml/internal/model"
)

type mockBackend struct {
	mock.Mock
}

func (m *mockBackend) Predict(ctx context.Context, inputs []float32) (*model.Prediction, error) {
	args := m.Called(ctx, inputs)
	p, _ := args.Get(0).(*model.Prediction)
	return p, args.Error(1)
}

func (m *mockBackend) Kind() string { return inference.KindONNX }

type mockLoader struct {
	mock.Mock
}

func (m *mockLoader) Load(ctx context.Context, ref model.ModelRef) (inference.Backend, error) {
	args := m.Called(ctx, ref)
	b, _ := args.Get(0).(inference.Backend)
	return b, args.Error(1)
}

func f64(v float64) *float64 { return &v }

func defaultValue(v model.Value) *model.Value { return &v }

// telemetry mirrors the sample telemetry/v2 schema.
func telemetry() *model.SchemaConfig {
	return &model.SchemaConfig{
		Domain:  "telemetry",
		Version: "v2",
		Fields: []model.FieldSpec{
			{
				Name: "temp_c", Type: model.TypeFloat, Min: f64(-40), Max: f64(60),
				Repair:     &model.Directive{Kind: "clamp"},
				Validation: &model.Directive{Kind: "range"},
				Drift:      &model.Directive{Kind: "mean_shift", Params: map[string]any{"expected_mean": 22.0, "threshold": 5.0}},
			},
			{
				Name: "humidity", Type: model.TypeFloat, Min: f64(0), Max: f64(100),
				Default: defaultValue(model.Float(50)),
				Repair:  &model.Directive{Kind: "clamp"},
			},
		},
	}
}

func TestExecute_RepairBeforeValidate(t *testing.T) {
	t.Parallel()
	c, err := Build(context.Background(), telemetry(), nil)
	require.NoError(t, err)

	res, err := c.Execute(context.Background(), model.Payload{"temp_c": -50.0, "humidity": 110.0})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"temp_c": -40.0, "humidity": 100.0}, res.Data)
	assert.Nil(t, res.Predictions)
	assert.Equal(t, "telemetry", res.Metadata[model.MetaDomain])
	assert.Equal(t, "v2", res.Metadata[model.MetaVersion])
}

func TestExecute_DefaultSubstitution(t *testing.T) {
	t.Parallel()
	c, err := Build(context.Background(), telemetry(), nil)
	require.NoError(t, err)

	res, err := c.Execute(context.Background(), model.Payload{"temp_c": 25.0})
	require.NoError(t, err)
	assert.Equal(t, 50.0, res.Data["humidity"])
}

func TestExecute_Drift(t *testing.T) {
	t.Parallel()
	c, err := Build(context.Background(), telemetry(), nil)
	require.NoError(t, err)

	res, err := c.Execute(context.Background(), model.Payload{"temp_c": 30.0})
	require.NoError(t, err)
	assert.True(t, res.DriftDetected())
	assert.Equal(t, true, res.Metadata["temp_c_drift"])

	res, err = c.Execute(context.Background(), model.Payload{"temp_c": 25.0})
	require.NoError(t, err)
	assert.False(t, res.DriftDetected())
	assert.Equal(t, false, res.Metadata["temp_c_drift"])
	_, hasHumidityDrift := res.Metadata["humidity_drift"]
	assert.False(t, hasHumidityDrift)
}

func TestExecute_RejectsUnknownFields(t *testing.T) {
	t.Parallel()
	c, err := Build(context.Background(), telemetry(), nil)
	require.NoError(t, err)

	_, err = c.Execute(context.Background(), model.Payload{"temp_c": 1.0, "zeta": 1, "alpha": 2})
	var ve *model.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "telemetry", ve.Domain)
	assert.Contains(t, ve.Reason, "extra fields not permitted: alpha, zeta")
}

func TestExecute_IntOutOfRangeRejected(t *testing.T) {
	t.Parallel()
	sc := &model.SchemaConfig{
		Domain:  "counters",
		Version: "v1",
		Fields: []model.FieldSpec{
			{Name: "count", Type: model.TypeInt, Min: f64(0), Repair: &model.Directive{Kind: "clamp"}},
		},
	}
	c, err := Build(context.Background(), sc, nil)
	require.NoError(t, err)

	res, err := c.Execute(context.Background(), model.Payload{"count": json.Number("9007199254740993")})
	require.NoError(t, err)
	assert.Equal(t, int64(9007199254740993), res.Data["count"])

	_, err = c.Execute(context.Background(), model.Payload{"count": json.Number("1e19")})
	var ve *model.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "count", ve.Field)
	assert.Contains(t, ve.Reason, "out of range")
}

func TestExecute_TypeMismatch(t *testing.T) {
	t.Parallel()
	c, err := Build(context.Background(), telemetry(), nil)
	require.NoError(t, err)

	_, err = c.Execute(context.Background(), model.Payload{"temp_c": "hot"})
	var ve *model.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "temp_c", ve.Field)
}

func TestExecute_StrictModeFailsOutOfRange(t *testing.T) {
	t.Parallel()
	c, err := Build(context.Background(), telemetry(), nil, WithStrict(true))
	require.NoError(t, err)
	assert.True(t, c.Strict())

	_, err = c.Execute(context.Background(), model.Payload{"temp_c": -50.0})
	var ve *model.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "temp_c", ve.Field)
	assert.Equal(t, "v2", ve.Version)
	assert.Contains(t, ve.Reason, "below minimum")

	// schema-level strict has the same effect
	s := telemetry()
	s.Mode = model.ModeStrict
	c, err = Build(context.Background(), s, nil)
	require.NoError(t, err)
	_, err = c.Execute(context.Background(), model.Payload{"temp_c": 25.0, "humidity": 101.0})
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "humidity", ve.Field)
}

func TestExecute_RequiredField(t *testing.T) {
	t.Parallel()
	s := &model.SchemaConfig{Domain: "d", Version: "v1", Fields: []model.FieldSpec{
		{Name: "id", Type: model.TypeString, Required: true},
		{Name: "note", Type: model.TypeString},
	}}
	c, err := Build(context.Background(), s, nil)
	require.NoError(t, err)

	_, err = c.Execute(context.Background(), model.Payload{})
	var ve *model.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "id", ve.Field)

	res, err := c.Execute(context.Background(), model.Payload{"id": "a"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"id": "a"}, res.Data)
}

func TestBuild_Errors(t *testing.T) {
	t.Parallel()

	_, err := Build(context.Background(), nil, nil)
	require.Error(t, err)

	dup := &model.SchemaConfig{Domain: "d", Version: "v1", Fields: []model.FieldSpec{
		{Name: "a", Type: model.TypeFloat}, {Name: "a", Type: model.TypeFloat},
	}}
	_, err = Build(context.Background(), dup, nil)
	assert.Equal(t, model.KindSchema, model.ErrorKind(err))

	badRepair := &model.SchemaConfig{Domain: "d", Version: "v1", Fields: []model.FieldSpec{
		{Name: "a", Type: model.TypeFloat, Repair: &model.Directive{Kind: "teleport"}},
	}}
	_, err = Build(context.Background(), badRepair, nil)
	assert.Equal(t, model.KindRepair, model.ErrorKind(err))

	badDrift := &model.SchemaConfig{Domain: "d", Version: "v1", Fields: []model.FieldSpec{
		{Name: "a", Type: model.TypeFloat, Drift: &model.Directive{Kind: "psychic"}},
	}}
	_, err = Build(context.Background(), badDrift, nil)
	var se *model.SchemaError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "d", se.Domain)
	assert.Equal(t, "v1", se.Version)

	withModel := telemetry()
	withModel.Model = &model.ModelRef{Path: "m.onnx"}
	_, err = Build(context.Background(), withModel, nil)
	assert.True(t, model.IsModel(err))
}

func TestExecute_Inference(t *testing.T) {
	t.Parallel()
	s := telemetry()
	s.Model = &model.ModelRef{Path: "telemetry/v2/model.onnx"}

	backend := &mockBackend{}
	backend.On("Predict", mock.Anything, []float32{30, 50}).
		Return(&model.Prediction{Predictions: []any{0.7}, Shape: []int{1}, Kind: "onnx"}, nil).Once()

	loader := &mockLoader{}
	loader.On("Load", mock.Anything, model.ModelRef{Path: "telemetry/v2/model.onnx"}).Return(backend, nil).Once()

	c, err := Build(context.Background(), s, loader)
	require.NoError(t, err)
	assert.True(t, c.HasModel())
	assert.Equal(t, []string{"temp_c", "humidity"}, c.FieldNames())

	res, err := c.Execute(context.Background(), model.Payload{"temp_c": 30.0})
	require.NoError(t, err)
	require.NotNil(t, res.Predictions)
	assert.Equal(t, []int{1}, res.Predictions.Shape)
	assert.True(t, res.DriftDetected())

	backend.AssertExpectations(t)
	loader.AssertExpectations(t)
}

func TestExecute_InferenceFailureAborts(t *testing.T) {
	t.Parallel()
	s := telemetry()
	s.Model = &model.ModelRef{Path: "m.onnx"}

	backend := &mockBackend{}
	backend.On("Predict", mock.Anything, mock.Anything).Return(nil, errors.New("session closed"))
	loader := &mockLoader{}
	loader.On("Load", mock.Anything, mock.Anything).Return(backend, nil)

	c, err := Build(context.Background(), s, loader)
	require.NoError(t, err)

	res, err := c.Execute(context.Background(), model.Payload{"temp_c": 20.0})
	assert.Nil(t, res)
	me, ok := model.AsModelError(err)
	require.True(t, ok)
	assert.Equal(t, model.OpPredict, me.Op)
}

func TestExecute_InferenceNeedsEveryField(t *testing.T) {
	t.Parallel()
	s := &model.SchemaConfig{Domain: "d", Version: "v1", Model: &model.ModelRef{Path: "m.onnx"}, Fields: []model.FieldSpec{
		{Name: "x", Type: model.TypeFloat},
		{Name: "label", Type: model.TypeString},
	}}
	backend := &mockBackend{}
	loader := &mockLoader{}
	loader.On("Load", mock.Anything, mock.Anything).Return(backend, nil)

	c, err := Build(context.Background(), s, loader)
	require.NoError(t, err)

	_, err = c.Execute(context.Background(), model.Payload{"label": "a"})
	var ve *model.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "x", ve.Field)

	_, err = c.Execute(context.Background(), model.Payload{"x": 1.0, "label": "a"})
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "label", ve.Field)
	backend.AssertNotCalled(t, "Predict", mock.Anything, mock.Anything)
}

func TestLoadFailurePropagates(t *testing.T) {
	t.Parallel()
	s := telemetry()
	s.Model = &model.ModelRef{Path: "missing.onnx"}
	loader := &mockLoader{}
	loader.On("Load", mock.Anything, mock.Anything).
		Return(nil, &model.ModelError{Path: "missing.onnx", Op: model.OpLoad, Err: errors.New("model file not found")})

	_, err := Build(context.Background(), s, loader)
	me, ok := model.AsModelError(err)
	require.True(t, ok)
	assert.Equal(t, model.OpLoad, me.Op)
}

func TestExecute_Concurrent(t *testing.T) {
	t.Parallel()
	c, err := Build(context.Background(), telemetry(), nil)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := c.Execute(context.Background(), model.Payload{"temp_c": float64(i * 3)})
			assert.NoError(t, err)
			assert.Equal(t, 50.0, res.Data["humidity"])
		}(i)
	}
	wg.Wait()
}
