// Package dataset reads numeric CSV files into gonum matrices and tensors.
package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/lucasmaystre/fprior/utils"
	"gonum.org/v1/gonum/mat"
	"gorgonia.org/tensor"
)

var (
	ErrEmpty      = errors.New("dataset: no rows")
	ErrRaggedRows = errors.New("dataset: rows have different lengths")
	ErrTooFewCols = errors.New("dataset: need at least one input column and one target column")
)

// ReadCSV parses comma-separated numbers. A first row that does not parse
// as numbers is treated as a header and skipped.
func ReadCSV(r io.Reader) (*mat.Dense, error) {
	reader := csv.NewReader(r)
	reader.Comment = '#'
	reader.TrimLeadingSpace = true
	records, err := reader.ReadAll()
	if err != nil {
		var perr *csv.ParseError
		if errors.As(err, &perr) && errors.Is(perr.Err, csv.ErrFieldCount) {
			return nil, fmt.Errorf("%w: %v", ErrRaggedRows, err)
		}
		return nil, fmt.Errorf("dataset: %w", err)
	}
	if len(records) > 0 {
		if _, err := parseRow(records[0]); err != nil {
			records = records[1:]
		}
	}
	if len(records) == 0 {
		return nil, ErrEmpty
	}
	cols := len(records[0])
	data := make([]float64, 0, len(records)*cols)
	for i, rec := range records {
		row, err := parseRow(rec)
		if err != nil {
			return nil, fmt.Errorf("dataset: row %d: %w", i+1, err)
		}
		data = append(data, row...)
	}
	return mat.NewDense(len(records), cols, data), nil
}

func parseRow(rec []string) ([]float64, error) {
	row := make([]float64, len(rec))
	for j, field := range rec {
		v, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
		if err != nil {
			return nil, err
		}
		row[j] = v
	}
	return row, nil
}

// LoadMatrix reads a CSV file into a matrix.
func LoadMatrix(path string) (*mat.Dense, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadCSV(f)
}

// LoadTrainingSet reads inputs and targets from a CSV file whose last
// column holds the targets.
func LoadTrainingSet(path string) (*mat.Dense, *mat.VecDense, error) {
	m, err := LoadMatrix(path)
	if err != nil {
		return nil, nil, err
	}
	return Split(m)
}

// Split separates the last column of m as targets.
func Split(m mat.Matrix) (*mat.Dense, *mat.VecDense, error) {
	r, c := m.Dims()
	if c < 2 {
		return nil, nil, ErrTooFewCols
	}
	x := mat.NewDense(r, c-1, nil)
	x.Copy(m)
	y := mat.NewVecDense(r, mat.Col(nil, c-1, m))
	return x, y, nil
}

// LoadTensor reads a CSV file into a float64 tensor of shape [rows, cols].
func LoadTensor(path string) (*tensor.Dense, error) {
	m, err := LoadMatrix(path)
	if err != nil {
		return nil, err
	}
	return TensorOf(m), nil
}

// TensorOf copies a matrix into a [rows, cols] tensor.
func TensorOf(m mat.Matrix) *tensor.Dense {
	r, c := m.Dims()
	data := make([]float64, 0, r*c)
	for i := 0; i < r; i++ {
		data = append(data, mat.Row(nil, i, m)...)
	}
	return utils.Dense(data, r, c)
}
