// Package terrainrpc exposes an elevation provider over gRPC and consumes
// one remotely. Messages are google.protobuf.ListValue so no generated code
// is needed on either side.
package terrainrpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	// ServiceName is the fully-qualified gRPC service name.
	ServiceName = "terrain.v1.ElevationService"
	// SampleMethod is the full method name of Sample.
	SampleMethod = "/" + ServiceName + "/Sample"
)

// ElevationServer is the server API for ElevationService. Sample takes a
// list of [lon_deg, lat_deg, height] triples and returns one height per
// triple, null where there is no terrain data.
type ElevationServer interface {
	Sample(ctx context.Context, in *structpb.ListValue) (*structpb.ListValue, error)
}

// ServiceDesc describes ElevationService for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ElevationServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Sample",
			Handler:    sampleHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "terrain/v1/elevation.proto",
}

// RegisterElevationServer registers srv on s.
func RegisterElevationServer(s grpc.ServiceRegistrar, srv ElevationServer) {
	s.RegisterService(&ServiceDesc, srv)
}

func sampleHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.ListValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ElevationServer).Sample(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: SampleMethod,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ElevationServer).Sample(ctx, req.(*structpb.ListValue))
	}
	return interceptor(ctx, in, info, handler)
}
