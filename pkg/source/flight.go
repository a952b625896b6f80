package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/egeatmaca/bgp-analytics-engine/pkg/logging"
	"github.com/egeatmaca/bgp-analytics-engine/pkg/models"
	"github.com/egeatmaca/bgp-analytics-engine/pkg/utils"
)

// Ticket is the DoGet ticket understood by the collection service
type Ticket struct {
	Collectors []string `json:"collectors"`
	From       string   `json:"from"`
	Until      string   `json:"until"`
	Filter     string   `json:"filter,omitempty"`
	RecordType string   `json:"record_type"`
}

// NewTicket encodes q as a DoGet ticket
func NewTicket(q Query) (*flight.Ticket, error) {
	recordType := q.RecordType
	if recordType == "" {
		recordType = RecordTypeUpdates
	}
	body, err := json.Marshal(Ticket{
		Collectors: q.Collectors,
		From:       q.Range.Start.Format(models.RangeTimeFormat),
		Until:      q.Range.End.Format(models.RangeTimeFormat),
		Filter:     q.Filter,
		RecordType: recordType,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode ticket: %w", err)
	}
	return &flight.Ticket{Ticket: body}, nil
}

// FlightProvider reads updates from a collection service exposing them as
// Arrow record batches over Arrow Flight.
type FlightProvider struct {
	addr   string
	client flight.Client
	pool   memory.Allocator
	log    *logrus.Entry
}

// NewFlightProvider creates a Flight client for the service at addr
func NewFlightProvider(addr string, log *logrus.Entry) (*FlightProvider, error) {
	// Collection services run next to the loader and speak plaintext gRPC
	opts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	}

	client, err := flight.NewClientWithMiddleware(addr, nil, nil, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Flight client: %w", err)
	}

	return &FlightProvider{
		addr:   addr,
		client: client,
		pool:   memory.NewGoAllocator(),
		log:    logging.OrDefault(log).WithField("server", addr),
	}, nil
}

// Open starts a DoGet for q and waits for the stream schema
func (p *FlightProvider) Open(ctx context.Context, q Query) (Stream, error) {
	ticket, err := NewTicket(q)
	if err != nil {
		return nil, err
	}

	sctx, cancel := context.WithCancel(ctx)
	stream, err := p.client.DoGet(sctx, ticket)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to do get: %w", err)
	}

	reader, err := flight.NewRecordReader(stream, ipc.WithAllocator(p.pool))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create record reader: %w", err)
	}

	p.log.WithFields(logrus.Fields{
		"range":  q.Range.String(),
		"schema": utils.SchemaToString(reader.Schema()),
	}).Debug("stream opened")

	s := &flightStream{
		cancel:  cancel,
		batches: make(chan flightBatch, 1),
		done:    make(chan struct{}),
	}
	go s.decode(sctx, reader)
	return s, nil
}

// Close closes the Flight client connection
func (p *FlightProvider) Close() error {
	return p.client.Close()
}

type flightBatch struct {
	updates []*models.Update
	err     error
}

// flightStream decodes record batches in a goroutine so that Next can give up
// when its context is done even while the gRPC stream blocks
type flightStream struct {
	cancel  context.CancelFunc
	batches chan flightBatch
	done    chan struct{}
	cur     []*models.Update
	pos     int
	err     error
}

func (s *flightStream) decode(ctx context.Context, reader *flight.Reader) {
	defer close(s.done)
	defer reader.Release()

	send := func(b flightBatch) bool {
		select {
		case s.batches <- b:
			return true
		case <-ctx.Done():
			return false
		}
	}

	for reader.Next() {
		updates, err := utils.RecordToUpdates(reader.Record())
		if err != nil {
			send(flightBatch{err: fmt.Errorf("malformed record batch: %w", err)})
			return
		}
		if !send(flightBatch{updates: updates}) {
			return
		}
	}

	err := reader.Err()
	if err == nil || errors.Is(err, io.EOF) {
		err = io.EOF
	} else {
		err = fmt.Errorf("error reading from stream: %w", err)
	}
	send(flightBatch{err: err})
}

func (s *flightStream) Next(ctx context.Context) (*models.Update, error) {
	for s.pos >= len(s.cur) {
		if s.err != nil {
			return nil, s.err
		}
		select {
		case b := <-s.batches:
			s.cur, s.pos, s.err = b.updates, 0, b.err
		case <-ctx.Done():
			return nil, context.Cause(ctx)
		}
	}

	u := s.cur[s.pos]
	s.pos++
	return u, nil
}

func (s *flightStream) Close() error {
	s.cancel()
	<-s.done
	return nil
}
