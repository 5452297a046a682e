package rpc

import (
	"context"

	"google.golang.org/grpc"
)

// Service is what pkg/server implements and pkg/rpc exposes over grpc: the
// four RPCs of the external interface, each a request/response pair with
// normative field names (§6). Both the single-node and Raft-backed server
// modes implement this identically; only what happens inside differs.
type Service interface {
	GetTimestamp(ctx context.Context, req *TsRequest) (*TsReply, error)
	Get(ctx context.Context, req *GetRequest) (*GetReply, error)
	Prewrite(ctx context.Context, req *PrewriteRequest) (*PrewriteReply, error)
	Commit(ctx context.Context, req *CommitRequest) (*CommitReply, error)
}

// serviceName is the grpc service path every RPC below is registered under.
const serviceName = "percokv.PercoKV"

func handleGetTimestamp(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	req := new(TsRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(Service).GetTimestamp(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: serviceName + "/GetTimestamp"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(Service).GetTimestamp(ctx, req.(*TsRequest))
	}
	return interceptor(ctx, req, info, handler)
}

func handleGet(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	req := new(GetRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(Service).Get(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: serviceName + "/Get"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(Service).Get(ctx, req.(*GetRequest))
	}
	return interceptor(ctx, req, info, handler)
}

func handlePrewrite(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	req := new(PrewriteRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(Service).Prewrite(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: serviceName + "/Prewrite"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(Service).Prewrite(ctx, req.(*PrewriteRequest))
	}
	return interceptor(ctx, req, info, handler)
}

func handleCommit(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	req := new(CommitRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(Service).Commit(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: serviceName + "/Commit"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(Service).Commit(ctx, req.(*CommitRequest))
	}
	return interceptor(ctx, req, info, handler)
}

// ServiceDesc is built by hand rather than generated by protoc (see
// DESIGN.md); its shape mirrors what protoc-gen-go-grpc would emit for a
// four-method unary service.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*Service)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetTimestamp", Handler: handleGetTimestamp},
		{MethodName: "Get", Handler: handleGet},
		{MethodName: "Prewrite", Handler: handlePrewrite},
		{MethodName: "Commit", Handler: handleCommit},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "percokv.proto",
}

// RegisterService attaches srv's RPCs to a grpc.Server under ServiceDesc.
func RegisterService(s *grpc.Server, srv Service) {
	s.RegisterService(&ServiceDesc, srv)
}

// clientConn is the subset of grpc.ClientConn that Client needs, satisfied
// by *grpc.ClientConn and easy to fake in tests.
type clientConn interface {
	Invoke(ctx context.Context, method string, args, reply interface{}, opts ...grpc.CallOption) error
}

// Client is a thin grpc stub for Service, returned by NewClient.
type Client struct {
	cc clientConn
}

// NewClient wraps an already-dialed connection. Callers typically dial with
// grpc.WithDefaultCallOptions(rpc.Codec()) so every call on it uses the gob
// codec.
func NewClient(cc clientConn) *Client {
	return &Client{cc: cc}
}

func (c *Client) GetTimestamp(ctx context.Context, req *TsRequest) (*TsReply, error) {
	reply := new(TsReply)
	if err := c.cc.Invoke(ctx, serviceName+"/GetTimestamp", req, reply); err != nil {
		return nil, err
	}
	return reply, nil
}

func (c *Client) Get(ctx context.Context, req *GetRequest) (*GetReply, error) {
	reply := new(GetReply)
	if err := c.cc.Invoke(ctx, serviceName+"/Get", req, reply); err != nil {
		return nil, err
	}
	return reply, nil
}

func (c *Client) Prewrite(ctx context.Context, req *PrewriteRequest) (*PrewriteReply, error) {
	reply := new(PrewriteReply)
	if err := c.cc.Invoke(ctx, serviceName+"/Prewrite", req, reply); err != nil {
		return nil, err
	}
	return reply, nil
}

func (c *Client) Commit(ctx context.Context, req *CommitRequest) (*CommitReply, error) {
	reply := new(CommitReply)
	if err := c.cc.Invoke(ctx, serviceName+"/Commit", req, reply); err != nil {
		return nil, err
	}
	return reply, nil
}

// Codec returns the grpc.CallOption that forces every call through the gob
// codec registered in codec.go, bypassing grpc's default protobuf codec
// lookup (which would otherwise require these structs to implement proto.Message).
func Codec() grpc.CallOption {
	return grpc.ForceCodec(gobCodec{})
}
