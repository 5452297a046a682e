package rpc

import (
	"context"
	"strings"
	"time"

	"google.golang.org/grpc"

	"github.com/cuemby/percokv/pkg/metrics"
)

// MetricsInterceptor records RPCRequestsTotal and RPCRequestDuration for
// every unary call. Status is read off the reply's own Code field rather
// than the handler's returned error: pkg/server never fails an RPC at the
// transport level, it always replies with a Code describing the outcome
// (§7), so that is where a NotLeader redirect or an Aborted commit actually
// shows up.
func MetricsInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		method := methodName(info.FullMethod)
		start := time.Now()

		resp, err := handler(ctx, req)

		metrics.RPCRequestDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
		metrics.RPCRequestsTotal.WithLabelValues(method, statusLabel(resp, err)).Inc()
		return resp, err
	}
}

func methodName(fullMethod string) string {
	parts := strings.Split(fullMethod, "/")
	return parts[len(parts)-1]
}

// replyCode is satisfied by every *Reply type in messages.go.
type replyCode interface {
	code() Code
}

func (r *TsReply) code() Code       { return r.Code }
func (r *GetReply) code() Code      { return r.Code }
func (r *PrewriteReply) code() Code { return r.Code }
func (r *CommitReply) code() Code   { return r.Code }

func statusLabel(resp interface{}, err error) string {
	if err != nil {
		return "transport_error"
	}
	rc, ok := resp.(replyCode)
	if !ok {
		return "unknown"
	}
	switch rc.code() {
	case CodeOK:
		return "ok"
	case CodeKeyNotFound:
		return "key_not_found"
	case CodeNotLeader:
		return "not_leader"
	case CodeDuplicatedRequest:
		return "duplicated_request"
	case CodeTimeout:
		return "timeout"
	case CodeAborted:
		return "aborted"
	default:
		return "unknown"
	}
}
