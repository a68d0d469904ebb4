package models

import (
	"errors"
	"fmt"
	"strings"
)

// MalformedTableError reports a table missing a structural guard
// (cutoff marker, row count) the dataset requires.
type MalformedTableError struct {
	Source string
	Reason string
}

func (e *MalformedTableError) Error() string {
	return fmt.Sprintf("malformed table %s: %s", e.Source, e.Reason)
}

// SchemaError reports a row whose column count differs from the header.
type SchemaError struct {
	Row  int
	Want int
	Got  int
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("schema error: row %d has %d columns, header has %d", e.Row, e.Got, e.Want)
}

// DuplicateObservationError reports two records for the same category and period.
type DuplicateObservationError struct {
	Category CategoryPath
	Period   Period
}

func (e *DuplicateObservationError) Error() string {
	return fmt.Sprintf("duplicate observation for %s at %s", e.Category, e.Period)
}

// EmptyGroupError reports an aggregation that produced no groups.
type EmptyGroupError struct {
	Selector string
}

func (e *EmptyGroupError) Error() string {
	return fmt.Sprintf("aggregation %s produced no groups", e.Selector)
}

// IrregularSeriesError reports gaps in a series with no fill policy.
type IrregularSeriesError struct {
	Group string
	Gaps  []Period
}

func (e *IrregularSeriesError) Error() string {
	gaps := make([]string, 0, len(e.Gaps))
	for _, p := range e.Gaps {
		gaps = append(gaps, p.String())
	}
	return fmt.Sprintf("irregular series %s: gaps at %s", e.Group, strings.Join(gaps, ", "))
}

var (
	ErrInsufficientData = errors.New("insufficient data")
	ErrNotConverged     = errors.New("model did not converge")
	ErrFitTimeout       = errors.New("fit timed out")
	ErrUnknownModel     = errors.New("unknown model")
	ErrUnknownDataset   = errors.New("unknown dataset")
	ErrUnknownJob       = errors.New("unknown job")
	ErrReportNotFound   = errors.New("report not found")
	ErrJobRunning       = errors.New("job already running")
	ErrRunnerBusy       = errors.New("forecast runner busy")
)

// IsDataError reports whether err stems from the input table or its
// configuration rather than from infrastructure.
func IsDataError(err error) bool {
	var (
		mt *MalformedTableError
		se *SchemaError
		de *DuplicateObservationError
		ee *EmptyGroupError
	)
	return errors.As(err, &mt) || errors.As(err, &se) || errors.As(err, &de) || errors.As(err, &ee)
}
