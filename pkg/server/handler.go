// pkg/server/handler.go
package server

import (
	"context"
	"errors"

	"github.com/imReese/NexusMem/pkg/memtable"
	"github.com/imReese/NexusMem/pkg/metrics"
	"github.com/imReese/NexusMem/pkg/storage"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Service serves the Memtable API from a storage engine.
type Service struct {
	engine storage.Engine
}

func NewService(engine storage.Engine) *Service {
	return &Service{engine: engine}
}

var _ MemtableServer = (*Service)(nil)

func (s *Service) Update(_ context.Context, req *UpdateRequest) (*Empty, error) {
	if err := s.engine.Update(req.Key, req.Value); err != nil {
		return nil, toStatus(err)
	}
	return &Empty{}, nil
}

func (s *Service) Delete(_ context.Context, req *KeyRequest) (*Empty, error) {
	if err := s.engine.Delete(req.Key); err != nil {
		return nil, toStatus(err)
	}
	return &Empty{}, nil
}

func (s *Service) Query(_ context.Context, req *KeyRequest) (*memtable.Result, error) {
	res, err := s.engine.Query(req.Key)
	if err != nil {
		return nil, toStatus(err)
	}
	return &res, nil
}

func (s *Service) PrepareFlush(context.Context, *Empty) (*storage.FlushBatch, error) {
	batch, err := s.engine.PrepareFlush()
	if err != nil {
		return nil, toStatus(err)
	}
	return &batch, nil
}

func (s *Service) FinalizeFlush(context.Context, *Empty) (*Empty, error) {
	if err := s.engine.FinalizeFlush(); err != nil {
		return nil, toStatus(err)
	}
	return &Empty{}, nil
}

func (s *Service) Clear(context.Context, *Empty) (*Empty, error) {
	if err := s.engine.Clear(); err != nil {
		return nil, toStatus(err)
	}
	return &Empty{}, nil
}

// Stats is counted here rather than in the engine, which the flusher polls.
func (s *Service) Stats(context.Context, *Empty) (*storage.Stats, error) {
	metrics.RequestsTotal.WithLabelValues("stats").Inc()
	stats := s.engine.Stats()
	return &stats, nil
}

func toStatus(err error) error {
	switch {
	case errors.Is(err, storage.ErrClosed):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, storage.ErrEmptyKey):
		return status.Error(codes.InvalidArgument, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}
