package forecast

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"KSHPull/internal/domain/models"
)

func TestRegularize(t *testing.T) {
	s := models.GroupSeries{Key: models.CategoryPath{"g"}, Observations: []models.Observation{
		{Period: models.YearPeriod(2000), Value: models.Missing},
		{Period: models.YearPeriod(2001), Value: models.Number(1)},
		{Period: models.YearPeriod(2003), Value: models.Number(3)},
		{Period: models.YearPeriod(2004), Value: models.Missing},
		{Period: models.YearPeriod(2005), Value: models.Number(5)},
	}}

	_, err := regularize(s, FillNone)
	var irr *models.IrregularSeriesError
	require.True(t, errors.As(err, &irr))
	assert.Equal(t, []models.Period{models.YearPeriod(2002), models.YearPeriod(2004)}, irr.Gaps)

	zero, err := regularize(s, FillZero)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 0, 3, 0, 5}, values(zero))
	assert.Equal(t, models.YearPeriod(2001), zero.Observations[0].Period)

	ff, err := regularize(s, FillForward)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 1, 3, 3, 5}, values(ff))
}

func TestRegularizeEmpty(t *testing.T) {
	s := models.GroupSeries{Observations: []models.Observation{{Period: models.YearPeriod(2000), Value: models.Missing}}}
	_, err := regularize(s, FillZero)
	assert.ErrorIs(t, err, models.ErrInsufficientData)
}

func TestDiffPolyAndPsi(t *testing.T) {
	assert.Equal(t, []float64{1, -1, 0, 0, -1, 1}, diffPoly(1, 1, 4))
	assert.Equal(t, []float64{1, -2, 1}, diffPoly(2, 0, 0))

	// random walk: every psi weight is one
	psi := psiWeights([]float64{1, -1}, []float64{1}, 4)
	assert.Equal(t, []float64{1, 1, 1, 1}, psi)

	w := applyPoly([]float64{1, -1}, []float64{1, 3, 6})
	assert.Equal(t, []float64{2, 3}, w)
}

func TestFitStateTransitions(t *testing.T) {
	r := newGroupRun("job", "g", models.GroupSeries{}, "m")
	require.Error(t, r.advance(models.StateForecasted))
	require.NoError(t, r.advance(models.StateFitted))
	require.NoError(t, r.advance(models.StateForecasted))
	assert.Error(t, r.advance(models.StateFailed), "forecasted is terminal")
	assert.True(t, models.StateFailed.Terminal())
}
