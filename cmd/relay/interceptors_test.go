package main

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var info = &grpc.UnaryServerInfo{FullMethod: "/grpc.health.v1.Health/Check"}

func TestRecoveryInterceptor(t *testing.T) {
	intercept := RecoveryInterceptor(zap.NewNop())

	_, err := intercept(context.Background(), nil, info, func(context.Context, any) (any, error) {
		panic("boom")
	})
	require.Error(t, err)
	assert.Equal(t, codes.Internal, status.Code(err))

	resp, err := intercept(context.Background(), nil, info, func(context.Context, any) (any, error) {
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp)
}

func TestLoggingInterceptorPassesThrough(t *testing.T) {
	intercept := LoggingInterceptor(zap.NewNop())
	want := errors.New("unavailable")

	_, err := intercept(context.Background(), nil, info, func(context.Context, any) (any, error) {
		return nil, want
	})
	assert.ErrorIs(t, err, want)
}
