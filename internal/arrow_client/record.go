package arrow_client

import (
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/23skdu/longbow-encoder/internal/tensor"
)

// Column layout of an encoder output record: one row per (sequence, position).
const (
	ColSequence = "sequence"
	ColPosition = "position"
	ColToken    = "token"
	ColVector   = "vector"
)

var ErrSchema = errors.New("unexpected record schema")

// Schema describes encoder output with feature width dim.
func Schema(dim int) *arrow.Schema {
	md := arrow.NewMetadata([]string{"dim"}, []string{strconv.Itoa(dim)})
	return arrow.NewSchema([]arrow.Field{
		{Name: ColSequence, Type: arrow.PrimitiveTypes.Int32},
		{Name: ColPosition, Type: arrow.PrimitiveTypes.Int32},
		{Name: ColToken, Type: arrow.PrimitiveTypes.Int32},
		{Name: ColVector, Type: arrow.FixedSizeListOf(int32(dim), arrow.PrimitiveTypes.Float64)},
	}, &md)
}

// ToRecord flattens a (B, L, D) encoder output and the token batch that
// produced it into a B*L row record. The caller owns the returned record.
func ToRecord(mem memory.Allocator, ids [][]int, out *tensor.Tensor) (arrow.Record, error) {
	if len(ids) != out.Batch() {
		return nil, fmt.Errorf("token batch has %d sequences, tensor %v: %w", len(ids), out.Shape(), tensor.ErrShape)
	}
	for b, seq := range ids {
		if len(seq) != out.Seq() {
			return nil, fmt.Errorf("sequence %d has %d tokens, tensor %v: %w", b, len(seq), out.Shape(), tensor.ErrShape)
		}
	}

	bld := array.NewRecordBuilder(mem, Schema(out.Dim()))
	defer bld.Release()

	seqCol := bld.Field(0).(*array.Int32Builder)
	posCol := bld.Field(1).(*array.Int32Builder)
	tokCol := bld.Field(2).(*array.Int32Builder)
	vecCol := bld.Field(3).(*array.FixedSizeListBuilder)
	values := vecCol.ValueBuilder().(*array.Float64Builder)

	rows := out.Batch() * out.Seq()
	seqCol.Reserve(rows)
	posCol.Reserve(rows)
	tokCol.Reserve(rows)
	values.Reserve(rows * out.Dim())

	for b, seq := range ids {
		for l, id := range seq {
			seqCol.Append(int32(b))
			posCol.Append(int32(l))
			tokCol.Append(int32(id))
			vecCol.Append(true)
			values.AppendValues(out.Row(b, l), nil)
		}
	}
	return bld.NewRecord(), nil
}

// FromRecord rebuilds the token batch and (B, L, D) tensor from a record
// produced by ToRecord. Rows must be ordered by sequence then position.
func FromRecord(rec arrow.Record) ([][]int, *tensor.Tensor, error) {
	if rec.NumCols() != 4 {
		return nil, nil, fmt.Errorf("%d columns: %w", rec.NumCols(), ErrSchema)
	}
	seqCol, ok1 := rec.Column(0).(*array.Int32)
	posCol, ok2 := rec.Column(1).(*array.Int32)
	tokCol, ok3 := rec.Column(2).(*array.Int32)
	vecCol, ok4 := rec.Column(3).(*array.FixedSizeList)
	if !ok1 || !ok2 || !ok3 || !ok4 {
		return nil, nil, fmt.Errorf("column types %v: %w", rec.Schema(), ErrSchema)
	}
	values, ok := vecCol.ListValues().(*array.Float64)
	if !ok {
		return nil, nil, fmt.Errorf("vector values are %s: %w", vecCol.ListValues().DataType(), ErrSchema)
	}

	rows := int(rec.NumRows())
	if rows == 0 {
		return nil, nil, fmt.Errorf("empty record: %w", tensor.ErrShape)
	}
	dim := int(vecCol.DataType().(*arrow.FixedSizeListType).Len())
	batch := int(seqCol.Value(rows-1)) + 1
	if batch <= 0 || rows%batch != 0 {
		return nil, nil, fmt.Errorf("%d rows for %d sequences: %w", rows, batch, tensor.ErrShape)
	}
	seqLen := rows / batch

	ids := make([][]int, batch)
	out := tensor.New(batch, seqLen, dim)
	for r := 0; r < rows; r++ {
		b, l := int(seqCol.Value(r)), int(posCol.Value(r))
		if b != r/seqLen || l != r%seqLen {
			return nil, nil, fmt.Errorf("row %d holds (%d, %d), want (%d, %d): %w", r, b, l, r/seqLen, r%seqLen, tensor.ErrShape)
		}
		if ids[b] == nil {
			ids[b] = make([]int, seqLen)
		}
		ids[b][l] = int(tokCol.Value(r))

		start, _ := vecCol.ValueOffsets(r)
		row := out.Row(b, l)
		for i := range row {
			row[i] = values.Value(int(start) + i)
		}
	}
	return ids, out, nil
}

// WriteIPC writes records in the Arrow IPC stream format. All records must
// share the first record's schema.
func WriteIPC(w io.Writer, mem memory.Allocator, recs ...arrow.Record) error {
	if len(recs) == 0 {
		return fmt.Errorf("no records to write")
	}
	iw := ipc.NewWriter(w, ipc.WithSchema(recs[0].Schema()), ipc.WithAllocator(mem))
	for i, rec := range recs {
		if err := iw.Write(rec); err != nil {
			_ = iw.Close()
			return fmt.Errorf("failed to write record %d: %w", i, err)
		}
	}
	if err := iw.Close(); err != nil {
		return fmt.Errorf("failed to close IPC writer: %w", err)
	}
	return nil
}

// ReadIPC reads every record of an Arrow IPC stream. The caller must
// Release the returned records.
func ReadIPC(r io.Reader, mem memory.Allocator) ([]arrow.Record, error) {
	rdr, err := ipc.NewReader(r, ipc.WithAllocator(mem))
	if err != nil {
		return nil, fmt.Errorf("failed to open IPC stream: %w", err)
	}
	defer rdr.Release()

	var recs []arrow.Record
	for rdr.Next() {
		rec := rdr.Record()
		rec.Retain()
		recs = append(recs, rec)
	}
	if err := rdr.Err(); err != nil {
		for _, rec := range recs {
			rec.Release()
		}
		return nil, fmt.Errorf("failed to read IPC stream: %w", err)
	}
	return recs, nil
}
