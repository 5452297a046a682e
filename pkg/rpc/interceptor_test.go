package rpc

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
)

func TestMetricsInterceptorPassesThroughResponse(t *testing.T) {
	interceptor := MetricsInterceptor()
	info := &grpc.UnaryServerInfo{FullMethod: serviceName + "/GetTimestamp"}

	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return &TsReply{Name: "x", TS: 7, Code: CodeOK}, nil
	}

	resp, err := interceptor(context.Background(), &TsRequest{Name: "x"}, info, handler)
	require.NoError(t, err)
	reply, ok := resp.(*TsReply)
	require.True(t, ok)
	require.Equal(t, uint64(7), reply.TS)
}

func TestStatusLabelReflectsReplyCode(t *testing.T) {
	require.Equal(t, "ok", statusLabel(&GetReply{Code: CodeOK}, nil))
	require.Equal(t, "key_not_found", statusLabel(&GetReply{Code: CodeKeyNotFound}, nil))
	require.Equal(t, "not_leader", statusLabel(&CommitReply{Code: CodeNotLeader}, nil))
	require.Equal(t, "duplicated_request", statusLabel(&PrewriteReply{Code: CodeDuplicatedRequest}, nil))
}

func TestMethodName(t *testing.T) {
	require.Equal(t, "Prewrite", methodName(serviceName+"/Prewrite"))
}
