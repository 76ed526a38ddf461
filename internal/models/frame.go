package models

import "fmt"

// Frame is a single detector image stored row-major.
// Rows run along the dispersed energy direction, columns along the
// horizontal position in the sample.
type Frame struct {
	// Data holds Rows*Cols intensities, Data[r*Cols+c]
	Data []float64

	// Rows is the number of detector rows (energy samples)
	Rows int

	// Cols is the number of detector columns (lateral positions)
	Cols int
}

// NewFrame allocates a zeroed frame.
func NewFrame(rows, cols int) *Frame {
	return &Frame{
		Data: make([]float64, rows*cols),
		Rows: rows,
		Cols: cols,
	}
}

// FrameFromData wraps data without copying it. The slice length must
// equal rows*cols.
func FrameFromData(data []float64, rows, cols int) (*Frame, error) {
	if rows <= 0 || cols <= 0 {
		return nil, fmt.Errorf("invalid frame shape %dx%d", rows, cols)
	}
	if len(data) != rows*cols {
		return nil, fmt.Errorf("frame data has %d values, want %d for %dx%d", len(data), rows*cols, rows, cols)
	}
	return &Frame{Data: data, Rows: rows, Cols: cols}, nil
}

// ConstantFrame returns a frame filled with v.
func ConstantFrame(rows, cols int, v float64) *Frame {
	f := NewFrame(rows, cols)
	for i := range f.Data {
		f.Data[i] = v
	}
	return f
}

// At returns the value at row r, column c.
func (f *Frame) At(r, c int) float64 {
	return f.Data[r*f.Cols+c]
}

// Set stores v at row r, column c.
func (f *Frame) Set(r, c int, v float64) {
	f.Data[r*f.Cols+c] = v
}

// Column copies column c into dst (allocating when dst is too short)
// and returns it.
func (f *Frame) Column(c int, dst []float64) []float64 {
	if cap(dst) < f.Rows {
		dst = make([]float64, f.Rows)
	}
	dst = dst[:f.Rows]
	for r := 0; r < f.Rows; r++ {
		dst[r] = f.Data[r*f.Cols+c]
	}
	return dst
}

// SetColumn writes src into column c.
func (f *Frame) SetColumn(c int, src []float64) {
	for r := 0; r < f.Rows && r < len(src); r++ {
		f.Data[r*f.Cols+c] = src[r]
	}
}

// Clone returns a deep copy.
func (f *Frame) Clone() *Frame {
	out := &Frame{Rows: f.Rows, Cols: f.Cols, Data: make([]float64, len(f.Data))}
	copy(out.Data, f.Data)
	return out
}

// SameShape reports whether f and o have identical dimensions.
func (f *Frame) SameShape(o *Frame) bool {
	return f != nil && o != nil && f.Rows == o.Rows && f.Cols == o.Cols
}

// Shape formats the dimensions for error messages.
func (f *Frame) Shape() string {
	if f == nil {
		return "nil"
	}
	return fmt.Sprintf("%dx%d", f.Rows, f.Cols)
}

// FlipRows returns a copy with the row order reversed.
func (f *Frame) FlipRows() *Frame {
	out := NewFrame(f.Rows, f.Cols)
	for r := 0; r < f.Rows; r++ {
		copy(out.Data[(f.Rows-1-r)*f.Cols:(f.Rows-r)*f.Cols], f.Data[r*f.Cols:(r+1)*f.Cols])
	}
	return out
}

// RowBand returns a copy holding rows [first, last).
func (f *Frame) RowBand(first, last int) (*Frame, error) {
	if first < 0 || last > f.Rows || first >= last {
		return nil, fmt.Errorf("row band [%d, %d) outside %d rows", first, last, f.Rows)
	}
	out := NewFrame(last-first, f.Cols)
	copy(out.Data, f.Data[first*f.Cols:last*f.Cols])
	return out, nil
}

// Stack is an ordered set of projection frames from one acquisition,
// one frame per projection angle. All frames share one shape.
type Stack struct {
	Frames []*Frame
}

// NewStack validates that all frames share a shape.
func NewStack(frames []*Frame) (*Stack, error) {
	if len(frames) == 0 {
		return nil, fmt.Errorf("projection stack is empty")
	}
	for i, f := range frames {
		if f == nil {
			return nil, fmt.Errorf("projection %d is nil", i)
		}
		if !f.SameShape(frames[0]) {
			return nil, fmt.Errorf("projection %d has shape %s, want %s", i, f.Shape(), frames[0].Shape())
		}
	}
	return &Stack{Frames: frames}, nil
}

// Len returns the number of projections.
func (s *Stack) Len() int { return len(s.Frames) }

// Rows returns the shared row count.
func (s *Stack) Rows() int { return s.Frames[0].Rows }

// Cols returns the shared column count.
func (s *Stack) Cols() int { return s.Frames[0].Cols }
