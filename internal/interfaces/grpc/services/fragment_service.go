// Package services holds the gRPC application services of the API.
package services

import (
	"context"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"

	"github.com/turtacn/KeyIP-MMP/internal/application/mmp"
	"github.com/turtacn/KeyIP-MMP/internal/domain/fragment"
	"github.com/turtacn/KeyIP-MMP/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/KeyIP-MMP/pkg/errors"
	dto "github.com/turtacn/KeyIP-MMP/pkg/types/mmp"
)

const (
	// ServiceName is the fully qualified gRPC service name.
	ServiceName = "keyip.mmp.v1.Fragmentation"

	fragmentMethod  = "/" + ServiceName + "/Fragment"
	findPairsMethod = "/" + ServiceName + "/FindPairs"

	defaultPairsLimit = 100
)

// FragmentationServer is the server API of the fragmentation service.
type FragmentationServer interface {
	Fragment(ctx context.Context, req *dto.FragmentRequest) (*dto.FragmentResponse, error)
	FindPairs(ctx context.Context, req *dto.PairsRequest) (*dto.PairsResponse, error)
}

// PairFinder looks up stored records by core.
type PairFinder interface {
	FindPairs(ctx context.Context, core string, limit int) ([]fragment.Record, error)
}

// SinkFactory opens the per-submission sinks, keyed by submission id.
type SinkFactory func(submissionID string) (fragment.RecordSink, error)

// FragmentationService implements FragmentationServer on a ServiceSet.
type FragmentationService struct {
	services     *mmp.ServiceSet
	pairs        PairFinder
	sinks        SinkFactory
	maxMolecules int
	logger       logging.Logger
}

// NewFragmentationService creates the service.  pairs and sinks may be nil.
func NewFragmentationService(services *mmp.ServiceSet, pairs PairFinder, sinks SinkFactory, maxMolecules int, logger logging.Logger) *FragmentationService {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &FragmentationService{
		services:     services,
		pairs:        pairs,
		sinks:        sinks,
		maxMolecules: maxMolecules,
		logger:       logger.Named("fragmentation_service"),
	}
}

// Fragment fragments a batch of molecules.
func (s *FragmentationService) Fragment(ctx context.Context, req *dto.FragmentRequest) (*dto.FragmentResponse, error) {
	var extra fragment.RecordSink
	if s.sinks != nil {
		sink, err := s.sinks(submissionID(ctx))
		if err != nil {
			return nil, err
		}
		extra = sink
	}
	return s.services.Fragment(ctx, req, s.maxMolecules, extra, mmp.WithSource("grpc"))
}

// FindPairs returns the stored records sharing req.Core.
func (s *FragmentationService) FindPairs(ctx context.Context, req *dto.PairsRequest) (*dto.PairsResponse, error) {
	if s.pairs == nil {
		return nil, errors.New(errors.ErrCodeServiceUnavailable, "pair store not configured")
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	limit := req.Limit
	if limit == 0 {
		limit = defaultPairsLimit
	}
	recs, err := s.pairs.FindPairs(ctx, req.Core, limit)
	if err != nil {
		return nil, err
	}
	return &dto.PairsResponse{Core: req.Core, Records: mmp.RecordDTOs(recs)}, nil
}

// submissionID prefers the caller's x-request-id.
func submissionID(ctx context.Context) string {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if v := md.Get("x-request-id"); len(v) > 0 && v[0] != "" {
			return v[0]
		}
	}
	return uuid.NewString()
}

// ---------------------------------------------------------------------------
// Service descriptor
// ---------------------------------------------------------------------------

// FragmentationServiceDesc describes the service for grpc.Server.
var FragmentationServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*FragmentationServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Fragment", Handler: fragmentHandler},
		{MethodName: "FindPairs", Handler: findPairsHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "keyip/mmp/v1/fragmentation",
}

// RegisterFragmentationServer registers srv on s.
func RegisterFragmentationServer(s grpc.ServiceRegistrar, srv FragmentationServer) {
	s.RegisterService(&FragmentationServiceDesc, srv)
}

func fragmentHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(dto.FragmentRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(FragmentationServer).Fragment(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fragmentMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(FragmentationServer).Fragment(ctx, req.(*dto.FragmentRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func findPairsHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(dto.PairsRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(FragmentationServer).FindPairs(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: findPairsMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(FragmentationServer).FindPairs(ctx, req.(*dto.PairsRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// ---------------------------------------------------------------------------
// Client
// ---------------------------------------------------------------------------

// FragmentationClient calls the service with the JSON codec.
type FragmentationClient struct {
	cc grpc.ClientConnInterface
}

// NewFragmentationClient wraps cc.
func NewFragmentationClient(cc grpc.ClientConnInterface) *FragmentationClient {
	return &FragmentationClient{cc: cc}
}

// Fragment calls Fragmentation/Fragment.
func (c *FragmentationClient) Fragment(ctx context.Context, in *dto.FragmentRequest, opts ...grpc.CallOption) (*dto.FragmentResponse, error) {
	out := new(dto.FragmentResponse)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := c.cc.Invoke(ctx, fragmentMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// FindPairs calls Fragmentation/FindPairs.
func (c *FragmentationClient) FindPairs(ctx context.Context, in *dto.PairsRequest, opts ...grpc.CallOption) (*dto.PairsResponse, error) {
	out := new(dto.PairsResponse)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := c.cc.Invoke(ctx, findPairsMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
