package dataset

import (
	"errors"
	"fmt"

	"github.com/janelia-flyem/visus/array"
	"github.com/janelia-flyem/visus/idx"
	"github.com/janelia-flyem/visus/storage"
	"github.com/janelia-flyem/visus/visus"
)

var (
	ErrFieldNotValid        = errors.New("field not valid")
	ErrWrongPosition        = errors.New("position is wrong")
	ErrWrongTime            = errors.New("wrong time")
	ErrWrongEndResolution   = errors.New("wrong end resolution")
	ErrNoInitialResolution  = errors.New("cannot find an initial resolution")
	ErrNoWriteBuffer        = errors.New("write buffer not set")
	ErrCannotSetResolution  = errors.New("cannot set end resolution")
	ErrQueryNotRunning      = errors.New("query not running")
	ErrNoAccess             = errors.New("no access to read or write blocks")
	ErrWrongNumberOfSamples = errors.New("wrong number of samples")
)

// QueryFilter is the filter state of a box query.
type QueryFilter struct {
	Enabled bool

	// Domain is the box the filter was applied over, usually the dataset box.
	Domain visus.Box

	filter Filter
	query  *BoxQuery
}

// BoxQuery reads or writes the samples of a box, possibly in several passes
// of increasing resolution.  After each execution Buffer holds the samples
// of LogicSamples, a row-major grid at CurResolution.
type BoxQuery struct {
	Field   idx.Field
	Time    float64
	Mode    storage.Mode
	Aborted *visus.Aborted

	Box             visus.Box
	StartResolution int
	EndResolutions  []int
	MergeMode       MergeMode
	Filter          QueryFilter

	Status storage.Status
	Err    error

	CurResolution int
	EndResolution int
	cursor        int

	LogicSamples idx.LogicSamples
	Buffer       *array.Array
}

// CreateBoxQuery returns a query over box.  Reads of a filtered field
// enable the filter.
func (d *Dataset) CreateBoxQuery(box visus.Box, field idx.Field, time float64, mode storage.Mode, aborted *visus.Aborted) *BoxQuery {
	q := &BoxQuery{
		Field:         field,
		Time:          time,
		Mode:          mode,
		Aborted:       aborted,
		Box:           box.Clone(),
		CurResolution: -1,
		EndResolution: -1,
	}
	q.Filter.Enabled = mode == storage.ModeRead && field.Filter != ""
	q.Filter.Domain = d.File.Box
	return q
}

func (q *BoxQuery) Running() bool {
	return q.Status == storage.StatusRunning
}

func (q *BoxQuery) Ok() bool {
	return q.Status == storage.StatusOk
}

func (q *BoxQuery) Failed() bool {
	return q.Status == storage.StatusFailed
}

func (q *BoxQuery) setRunning() {
	q.Status = storage.StatusRunning
	q.Err = nil
}

func (q *BoxQuery) setOk() {
	q.Status = storage.StatusOk
	q.Err = nil
}

func (q *BoxQuery) setFailed(err error) error {
	q.Status = storage.StatusFailed
	q.Err = err
	return err
}

// NumSamples returns the dims of the buffer at the current end resolution.
func (q *BoxQuery) NumSamples() visus.Point {
	return q.LogicSamples.NSamples
}

// allocBuffer sets a row-major buffer filled with the field default value.
func (q *BoxQuery) allocBuffer() {
	q.Buffer = array.New(q.LogicSamples.NSamples, q.Field.DType)
	if q.Field.DefaultValue != 0 {
		q.Buffer.Fill(q.Field.DefaultValue)
	}
}

func (q *BoxQuery) String() string {
	return fmt.Sprintf("box query %s field %q time %g mode %s resolution %d/%d %s",
		q.Box, q.Field.Name, q.Time, q.Mode, q.CurResolution, q.EndResolution, q.Status)
}

// checkFieldAndTime validates what box and point queries share.
func (d *Dataset) checkFieldAndTime(field idx.Field, time float64) error {
	if !field.Valid() {
		return ErrFieldNotValid
	}
	stored, err := d.File.Field(field.Name)
	if err != nil || stored.DType != field.DType {
		return ErrFieldNotValid
	}
	if !d.File.Timesteps.Contains(time) {
		return ErrWrongTime
	}
	return nil
}

// BeginBoxQuery validates the query and sets its first end resolution.  It
// does nothing unless the query was just created.
func (d *Dataset) BeginBoxQuery(q *BoxQuery) error {
	if q.Status != storage.StatusCreated {
		return q.Err
	}
	if q.Aborted.IsAborted() {
		return q.setFailed(visus.ErrAborted)
	}
	if err := d.checkFieldAndTime(q.Field, q.Time); err != nil {
		return q.setFailed(err)
	}
	if len(q.EndResolutions) == 0 {
		q.EndResolutions = []int{d.maxh}
	}
	for _, end := range q.EndResolutions {
		if end < 0 || end > d.maxh {
			return q.setFailed(ErrWrongEndResolution)
		}
	}
	if q.StartResolution > 0 && (len(q.EndResolutions) != 1 || q.EndResolutions[0] != q.StartResolution) {
		return q.setFailed(ErrWrongEndResolution)
	}
	if q.Box.NumDims() != d.PointDim() || !q.Box.Intersection(d.File.Box).IsFullDim() {
		return q.setFailed(ErrWrongPosition)
	}
	if q.Filter.Enabled {
		filter, err := NewFilter(q.Field)
		if err != nil {
			visus.Warningf("Disabling filter of field %q: %v\n", q.Field.Name, err)
			q.Filter.Enabled = false
		} else {
			q.Filter.filter = filter
		}
	}
	q.CurResolution = q.StartResolution - 1
	for q.cursor = 0; q.cursor < len(q.EndResolutions); q.cursor++ {
		if d.setBoxQueryEndResolution(q, q.EndResolutions[q.cursor]) {
			q.setRunning()
			return nil
		}
	}
	return q.setFailed(ErrNoInitialResolution)
}

// setBoxQueryEndResolution computes the grid of samples of levels
// [StartResolution, end] inside the query box.
func (d *Dataset) setBoxQueryEndResolution(q *BoxQuery, end int) bool {
	if end < 0 || end > d.maxh || end < q.CurResolution || end < q.StartResolution {
		return false
	}
	start := q.StartResolution
	box := q.Box
	if q.Filter.Enabled {
		box = d.adjustFilterBox(q, box, end)
	}

	delta := d.hzorder.LevelDelta(end)
	if start == 0 && end > 0 {
		delta[d.File.Bitmask.Bit(end)] >>= 1
	}

	var p1, p2 visus.Point
	for H := start; H <= end; H++ {
		lls := d.LevelBox(H)
		b := lls.AlignBox(box)
		if !b.IsFullDim() {
			continue
		}
		last := b.P2.Sub(lls.Delta)
		if p1 == nil {
			p1, p2 = b.P1.Clone(), last
			continue
		}
		p1 = p1.Min(b.P1)
		p2 = p2.Max(last)
	}
	if p1 == nil {
		return false
	}
	ls := idx.NewLogicSamples(visus.NewBox(p1, p2.Add(delta)), delta)
	if !ls.Valid() {
		return false
	}
	q.LogicSamples = ls
	q.EndResolution = end
	q.Buffer = nil
	return true
}

// NextBoxQuery moves a query to its next end resolution, keeping the samples
// already fetched.  A query at its last end resolution becomes Ok.
func (d *Dataset) NextBoxQuery(q *BoxQuery) error {
	if !q.Running() {
		return q.Err
	}
	if q.CurResolution != q.EndResolution {
		return q.setFailed(ErrQueryNotRunning)
	}
	if q.cursor >= len(q.EndResolutions)-1 {
		q.setOk()
		return nil
	}
	cur := q.CurResolution
	ls, buffer := q.LogicSamples, q.Buffer
	filterQuery := q.Filter.query

	next := q.EndResolutions[q.cursor+1]
	if !d.setBoxQueryEndResolution(q, next) {
		return q.setFailed(ErrCannotSetResolution)
	}
	q.cursor++

	if ls.Valid() && buffer != nil && q.LogicSamples.Valid() {
		q.allocBuffer()
		if !mergeSamples(q.LogicSamples, q.Buffer, ls, buffer, q.MergeMode, q.Aborted) && q.Aborted.IsAborted() {
			return q.setFailed(visus.ErrAborted)
		}
	}
	q.Filter.query = filterQuery
	q.CurResolution = cur
	return nil
}
