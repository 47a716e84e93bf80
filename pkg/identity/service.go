package identity

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/conductorone/baton-session-auth/pkg/auth"
)

const (
	ServiceName       = "c1.sessionauth.v1.IdentityService"
	WhoAmIFullMethod  = "/" + ServiceName + "/WhoAmI"
	whoAmIMethodName  = "WhoAmI"
	identityProtoFile = "c1/sessionauth/v1/identity.proto"
)

// IdentityServiceServer reports who the caller authenticated as.
type IdentityServiceServer interface {
	WhoAmI(ctx context.Context, req *emptypb.Empty) (*wrapperspb.StringValue, error)
}

type IdentityServiceClient interface {
	WhoAmI(ctx context.Context, req *emptypb.Empty, opts ...grpc.CallOption) (*wrapperspb.StringValue, error)
}

type identityServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewIdentityServiceClient(cc grpc.ClientConnInterface) IdentityServiceClient {
	return &identityServiceClient{cc: cc}
}

func (c *identityServiceClient) WhoAmI(ctx context.Context, req *emptypb.Empty, opts ...grpc.CallOption) (*wrapperspb.StringValue, error) {
	out := new(wrapperspb.StringValue)
	if err := c.cc.Invoke(ctx, WhoAmIFullMethod, req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func RegisterIdentityServiceServer(s grpc.ServiceRegistrar, srv IdentityServiceServer) {
	s.RegisterService(&IdentityService_ServiceDesc, srv)
}

func whoAmIHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(IdentityServiceServer).WhoAmI(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: WhoAmIFullMethod,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(IdentityServiceServer).WhoAmI(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

//nolint:revive,stylecheck // matches generated service descriptor naming
var IdentityService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*IdentityServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: whoAmIMethodName,
			Handler:    whoAmIHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: identityProtoFile,
}

// Server answers WhoAmI from the user id the auth interceptor stored in the
// context.
type Server struct{}

func NewServer() *Server {
	return &Server{}
}

func (s *Server) WhoAmI(ctx context.Context, _ *emptypb.Empty) (*wrapperspb.StringValue, error) {
	user, ok := auth.UserFromContext(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "no authenticated user")
	}
	return wrapperspb.String(user.String()), nil
}

var _ IdentityServiceServer = (*Server)(nil)
