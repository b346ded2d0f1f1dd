package arrow_client

import (
	"bytes"
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/23skdu/longbow-encoder/internal/metrics"
	"github.com/23skdu/longbow-encoder/internal/tensor"
)

func sampleOutput(t *testing.T) ([][]int, *tensor.Tensor) {
	t.Helper()
	out, err := tensor.FromNested([][][]float64{
		{{0.1, 0.2, 0.3}, {0.4, 0.5, 0.6}},
		{{-1, 0, 1}, {2.5, -2.5, 7}},
	})
	if err != nil {
		t.Fatalf("FromNested: %v", err)
	}
	return [][]int{{3, 1}, {4, 1}}, out
}

func TestNewFlightClient(t *testing.T) {
	client := NewFlightClient("localhost", 3000)
	if client.Addr() != "localhost:3000" {
		t.Errorf("Expected localhost:3000, got %s", client.Addr())
	}
	if got := string(client.Ticket().Ticket); got != DefaultPath {
		t.Errorf("Expected ticket %q, got %q", DefaultPath, got)
	}

	client = NewFlightClient("db", 0, "runs", "a")
	if client.Addr() != "db:3000" {
		t.Errorf("Expected default port, got %s", client.Addr())
	}
	if got := string(client.Ticket().Ticket); got != "runs/a" {
		t.Errorf("Expected ticket runs/a, got %q", got)
	}
}

func TestDoPutReturnsErrorWhenNotConnected(t *testing.T) {
	client := NewFlightClient("localhost", 3000)
	ids, out := sampleOutput(t)
	rec, err := ToRecord(memory.DefaultAllocator, ids, out)
	if err != nil {
		t.Fatalf("ToRecord: %v", err)
	}
	defer rec.Release()

	if err := client.DoPut(context.Background(), rec); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Expected ErrNotConnected, got %v", err)
	}
	if _, err := client.DoGet(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Expected ErrNotConnected, got %v", err)
	}
}

func TestRecordRoundTrip(t *testing.T) {
	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer mem.AssertSize(t, 0)

	ids, out := sampleOutput(t)
	rec, err := ToRecord(mem, ids, out)
	if err != nil {
		t.Fatalf("ToRecord: %v", err)
	}
	defer rec.Release()

	if rec.NumRows() != 4 {
		t.Errorf("Expected 4 rows, got %d", rec.NumRows())
	}
	if dim, ok := rec.Schema().Metadata().GetValue("dim"); !ok || dim != "3" {
		t.Errorf("Expected dim metadata 3, got %q", dim)
	}

	gotIDs, gotOut, err := FromRecord(rec)
	if err != nil {
		t.Fatalf("FromRecord: %v", err)
	}
	for b := range ids {
		for l := range ids[b] {
			if gotIDs[b][l] != ids[b][l] {
				t.Errorf("token (%d,%d): expected %d, got %d", b, l, ids[b][l], gotIDs[b][l])
			}
		}
	}
	if !tensor.AllClose(out, gotOut, 0) {
		t.Errorf("Expected %v, got %v", out, gotOut)
	}
}

func TestToRecordShapeMismatch(t *testing.T) {
	_, out := sampleOutput(t)

	_, err := ToRecord(memory.DefaultAllocator, [][]int{{1, 2}}, out)
	if !errors.Is(err, tensor.ErrShape) {
		t.Errorf("Expected ErrShape for batch mismatch, got %v", err)
	}
	_, err = ToRecord(memory.DefaultAllocator, [][]int{{1, 2}, {3}}, out)
	if !errors.Is(err, tensor.ErrShape) {
		t.Errorf("Expected ErrShape for length mismatch, got %v", err)
	}
}

func TestFromRecordRejectsForeignSchema(t *testing.T) {
	schema := arrow.NewSchema([]arrow.Field{{Name: "x", Type: arrow.PrimitiveTypes.Int64}}, nil)
	bld := array.NewRecordBuilder(memory.DefaultAllocator, schema)
	defer bld.Release()
	bld.Field(0).(*array.Int64Builder).AppendValues([]int64{1, 2}, nil)
	foreign := bld.NewRecord()
	defer foreign.Release()

	if _, _, err := FromRecord(foreign); !errors.Is(err, ErrSchema) {
		t.Errorf("Expected ErrSchema, got %v", err)
	}

	ids, out := sampleOutput(t)
	rec, err := ToRecord(memory.DefaultAllocator, ids, out)
	if err != nil {
		t.Fatalf("ToRecord: %v", err)
	}
	defer rec.Release()

	empty := rec.NewSlice(0, 0)
	defer empty.Release()
	if _, _, err := FromRecord(empty); !errors.Is(err, tensor.ErrShape) {
		t.Errorf("Expected ErrShape for empty record, got %v", err)
	}

	// rows 1..2 start mid-sequence
	shifted := rec.NewSlice(1, 3)
	defer shifted.Release()
	if _, _, err := FromRecord(shifted); !errors.Is(err, tensor.ErrShape) {
		t.Errorf("Expected ErrShape for misaligned rows, got %v", err)
	}
}

func TestIPCRoundTrip(t *testing.T) {
	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer mem.AssertSize(t, 0)

	ids, out := sampleOutput(t)
	rec, err := ToRecord(mem, ids, out)
	if err != nil {
		t.Fatalf("ToRecord: %v", err)
	}
	defer rec.Release()

	var buf bytes.Buffer
	if err := WriteIPC(&buf, mem, rec, rec); err != nil {
		t.Fatalf("WriteIPC: %v", err)
	}
	recs, err := ReadIPC(&buf, mem)
	if err != nil {
		t.Fatalf("ReadIPC: %v", err)
	}
	defer func() {
		for _, r := range recs {
			r.Release()
		}
	}()

	if len(recs) != 2 {
		t.Fatalf("Expected 2 records, got %d", len(recs))
	}
	_, got, err := FromRecord(recs[1])
	if err != nil {
		t.Fatalf("FromRecord: %v", err)
	}
	if !tensor.AllClose(out, got, 0) {
		t.Errorf("Expected %v, got %v", out, got)
	}

	if err := WriteIPC(&buf, mem); err == nil {
		t.Error("Expected error writing zero records")
	}
}

func TestReadIPCGarbage(t *testing.T) {
	if _, err := ReadIPC(strings.NewReader("not arrow"), memory.DefaultAllocator); err == nil {
		t.Error("Expected error for non-IPC input")
	}
}

func TestExportWithMock(t *testing.T) {
	mock := NewMockFlightClient()
	ids, out := sampleOutput(t)

	if err := Export(context.Background(), mock, "mock", ids, out); err == nil {
		t.Error("Expected error before Connect")
	}

	before := testutil.ToFloat64(metrics.ExportedRows.WithLabelValues("mock"))
	if err := mock.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := Export(context.Background(), mock, "mock", ids, out); err != nil {
		t.Fatalf("Export: %v", err)
	}
	if got := testutil.ToFloat64(metrics.ExportedRows.WithLabelValues("mock")) - before; got != 4 {
		t.Errorf("Expected 4 exported rows, got %v", got)
	}

	recs := mock.Records()
	if len(recs) != 1 {
		t.Fatalf("Expected 1 stored record, got %d", len(recs))
	}
	_, got, err := FromRecord(recs[0])
	if err != nil {
		t.Fatalf("FromRecord: %v", err)
	}
	if !tensor.AllClose(out, got, 0) {
		t.Errorf("Expected %v, got %v", out, got)
	}
	if err := mock.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
	if len(mock.Records()) != 0 {
		t.Error("Expected records released on Close")
	}
}

// memoryFlight stores put records per descriptor path and serves them back
// on DoGet.
type memoryFlight struct {
	flight.BaseFlightServer

	mu   sync.Mutex
	recs map[string][]arrow.Record
}

func (s *memoryFlight) DoPut(stream flight.FlightService_DoPutServer) error {
	rdr, err := flight.NewRecordReader(stream)
	if err != nil {
		return err
	}
	defer rdr.Release()

	key := strings.Join(rdr.LatestFlightDescriptor().GetPath(), "/")
	for rdr.Next() {
		rec := rdr.Record()
		rec.Retain()
		s.mu.Lock()
		s.recs[key] = append(s.recs[key], rec)
		s.mu.Unlock()
	}
	return rdr.Err()
}

func (s *memoryFlight) DoGet(tkt *flight.Ticket, stream flight.FlightService_DoGetServer) error {
	s.mu.Lock()
	recs := s.recs[string(tkt.GetTicket())]
	s.mu.Unlock()
	if len(recs) == 0 {
		return errors.New("no records")
	}

	w := flight.NewRecordWriter(stream, ipc.WithSchema(recs[0].Schema()))
	defer w.Close()
	for _, rec := range recs {
		if err := w.Write(rec); err != nil {
			return err
		}
	}
	return nil
}

func TestFlightRoundTrip(t *testing.T) {
	svc := &memoryFlight{recs: make(map[string][]arrow.Record)}
	srv := flight.NewServerWithMiddleware(nil)
	if err := srv.Init("localhost:0"); err != nil {
		t.Fatalf("Init: %v", err)
	}
	srv.RegisterFlightService(svc)
	go func() { _ = srv.Serve() }()
	defer srv.Shutdown()

	port := srv.Addr().(*net.TCPAddr).Port
	client := NewFlightClient("localhost", port, "runs", "t1")
	ctx := context.Background()
	if err := client.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer client.Close()

	ids, out := sampleOutput(t)
	if err := Export(ctx, client, "flight", ids, out); err != nil {
		t.Fatalf("Export: %v", err)
	}

	recs, err := client.DoGet(ctx)
	if err != nil {
		t.Fatalf("DoGet: %v", err)
	}
	defer func() {
		for _, r := range recs {
			r.Release()
		}
	}()
	if len(recs) != 1 {
		t.Fatalf("Expected 1 record, got %d", len(recs))
	}
	gotIDs, got, err := FromRecord(recs[0])
	if err != nil {
		t.Fatalf("FromRecord: %v", err)
	}
	if gotIDs[1][0] != 4 {
		t.Errorf("Expected token 4, got %d", gotIDs[1][0])
	}
	if !tensor.AllClose(out, got, 0) {
		t.Errorf("Expected %v, got %v", out, got)
	}
}
