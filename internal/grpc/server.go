// Package grpcserver serves the standard gRPC health protocol next to the
// HTTP API, so orchestrators can probe storage reachability.
package grpcserver

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
)

// NewServer creates a gRPC server exposing checker as grpc.health.v1.Health.
func NewServer(checker *HealthChecker, logger *logrus.Entry, opts ...grpc.ServerOption) *grpc.Server {
	opts = append(opts,
		grpc.UnaryInterceptor(
			chainUnaryInterceptors(
				recoveryInterceptor(logger),
				loggingInterceptor(logger),
			),
		),
	)
	srv := grpc.NewServer(opts...)
	grpc_health_v1.RegisterHealthServer(srv, checker)
	return srv
}

// Serve listens on addr until ctx is cancelled, then stops gracefully. The
// checker reports NOT_SERVING before connections are drained.
func Serve(ctx context.Context, srv *grpc.Server, checker *HealthChecker, addr string, logger *logrus.Entry) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(lis)
	}()
	logger.WithField("addr", lis.Addr().String()).Info("Starting gRPC health server")

	select {
	case <-ctx.Done():
		checker.Shutdown()
		srv.GracefulStop()
		logger.Info("gRPC health server stopped")
		return nil
	case err := <-errCh:
		return err
	}
}

func loggingInterceptor(logger *logrus.Entry) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		logger.WithFields(logrus.Fields{
			"method":   info.FullMethod,
			"code":     status.Code(err).String(),
			"duration": time.Since(start).String(),
		}).Debug("gRPC request")
		return resp, err
	}
}

func recoveryInterceptor(logger *logrus.Entry) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp interface{}, err error) {
		defer func() {
			if r := recover(); r != nil {
				logger.WithField("method", info.FullMethod).Errorf("Panic in gRPC handler: %v", r)
				err = status.Error(codes.Internal, "internal error")
			}
		}()
		return handler(ctx, req)
	}
}

// chainUnaryInterceptors creates a single interceptor from multiple interceptors
func chainUnaryInterceptors(interceptors ...grpc.UnaryServerInterceptor) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		chain := handler
		for i := len(interceptors) - 1; i >= 0; i-- {
			interceptor := interceptors[i]
			chainedInterceptor := chain
			chain = func(currentCtx context.Context, currentReq interface{}) (interface{}, error) {
				return interceptor(currentCtx, currentReq, info, chainedInterceptor)
			}
		}
		return chain(ctx, req)
	}
}
