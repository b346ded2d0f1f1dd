package arrow_client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/23skdu/longbow-encoder/internal/logger"
	"github.com/23skdu/longbow-encoder/internal/metrics"
	"github.com/23skdu/longbow-encoder/internal/tensor"
)

const (
	// Flight protocol port
	PortData = 3000

	DefaultPath = "encodings"
)

var ErrNotConnected = errors.New("client not connected, call Connect() first")

// Exporter ships encoder output records to a sink.
type Exporter interface {
	Connect(ctx context.Context) error
	DoPut(ctx context.Context, rec arrow.Record) error
	Close() error
}

// FlightClient wraps Apache Arrow Flight for encoder output transport
type FlightClient struct {
	client  flight.Client
	addr    string
	path    []string
	timeout time.Duration
}

// NewFlightClient prepares a client for host:port. Records are put under
// the descriptor path, DefaultPath when none is given.
func NewFlightClient(host string, port int, path ...string) *FlightClient {
	if port <= 0 {
		port = PortData
	}
	if len(path) == 0 {
		path = []string{DefaultPath}
	}
	return &FlightClient{
		addr:    fmt.Sprintf("%s:%d", host, port),
		path:    path,
		timeout: 30 * time.Second,
	}
}

func (fc *FlightClient) Addr() string { return fc.addr }

// Ticket is the DoGet ticket that addresses this client's path.
func (fc *FlightClient) Ticket() *flight.Ticket {
	return &flight.Ticket{Ticket: []byte(strings.Join(fc.path, "/"))}
}

// Connect establishes connection to Flight server
func (fc *FlightClient) Connect(ctx context.Context) error {
	client, err := flight.NewClientWithMiddleware(fc.addr, nil, nil,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("failed to create Flight client: %w", err)
	}
	fc.client = client
	logger.Log.With("flight").Debug("flight client ready", "addr", fc.addr, "path", fc.path)
	return nil
}

// Close disconnects from Flight server
func (fc *FlightClient) Close() error {
	if fc.client != nil {
		err := fc.client.Close()
		fc.client = nil
		return err
	}
	return nil
}

// DoPut streams one record under the client's descriptor path and waits
// for the server to acknowledge it.
func (fc *FlightClient) DoPut(ctx context.Context, rec arrow.Record) error {
	if fc.client == nil {
		return ErrNotConnected
	}
	ctx, cancel := context.WithTimeout(ctx, fc.timeout)
	defer cancel()

	stream, err := fc.client.DoPut(ctx)
	if err != nil {
		return fmt.Errorf("failed to create DoPut stream: %w", err)
	}

	w := flight.NewRecordWriter(stream, ipc.WithSchema(rec.Schema()))
	w.SetFlightDescriptor(&flight.FlightDescriptor{Type: flight.DescriptorPATH, Path: fc.path})
	if err := w.Write(rec); err != nil {
		_ = w.Close()
		return fmt.Errorf("failed to write record: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close writer: %w", err)
	}
	if err := stream.CloseSend(); err != nil {
		return fmt.Errorf("failed to close send: %w", err)
	}
	for {
		if _, err := stream.Recv(); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return fmt.Errorf("DoPut rejected: %w", err)
		}
	}

	logger.Log.With("flight").Debug("records sent", "rows", rec.NumRows(), "addr", fc.addr)
	return nil
}

// DoGet reads back every record stored under the client's path. The
// caller must Release the returned records.
func (fc *FlightClient) DoGet(ctx context.Context) ([]arrow.Record, error) {
	if fc.client == nil {
		return nil, ErrNotConnected
	}
	ctx, cancel := context.WithTimeout(ctx, fc.timeout)
	defer cancel()

	stream, err := fc.client.DoGet(ctx, fc.Ticket())
	if err != nil {
		return nil, fmt.Errorf("failed to create DoGet stream: %w", err)
	}
	rdr, err := flight.NewRecordReader(stream)
	if err != nil {
		return nil, fmt.Errorf("failed to open record stream: %w", err)
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
		return nil, fmt.Errorf("failed to read stream: %w", err)
	}
	return recs, nil
}

// Export converts one encoder result to a record and hands it to exp.
func Export(ctx context.Context, exp Exporter, sink string, ids [][]int, out *tensor.Tensor) error {
	rec, err := ToRecord(memory.DefaultAllocator, ids, out)
	if err != nil {
		return err
	}
	defer rec.Release()

	if err := exp.DoPut(ctx, rec); err != nil {
		return err
	}
	metrics.RecordExport(sink, int(rec.NumRows()))
	return nil
}
