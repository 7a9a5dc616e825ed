//go:build protogen

package tokens

import (
	"context"
	"log/slog"
	"time"

	"github.com/md-rashed-zaman/consultrelay/libs/grpcx"
	profilev1 "github.com/md-rashed-zaman/consultrelay/protos/gen/profile/v1"
)

type grpcProvider struct {
	client   profilev1.ProfileServiceClient
	fallback Provider
}

// NewProfileProvider resolves tokens from the platform's profile service over
// gRPC, falling back to the local Redis cache when the service is not
// configured or unavailable.
func NewProfileProvider(logger *slog.Logger, addr string, fallback Provider) (Provider, error) {
	if addr == "" {
		return fallback, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := grpcx.Dial(ctx, addr, grpcx.DialOptions{Timeout: 5 * time.Second})
	if err != nil {
		logger.Warn("grpc profile provider unavailable, using redis cache", "err", err)
		return fallback, nil
	}

	logger.Info("grpc profile provider enabled", "addr", addr)
	return &grpcProvider{client: profilev1.NewProfileServiceClient(conn), fallback: fallback}, nil
}

func (p *grpcProvider) TokenFor(ctx context.Context, userID string) (string, error) {
	resp, err := p.client.GetPushToken(ctx, &profilev1.PushTokenRequest{UserId: userID})
	if err != nil {
		return p.fallback.TokenFor(ctx, userID)
	}
	return resp.GetToken(), nil
}

func (p *grpcProvider) Set(ctx context.Context, userID string, token string) error {
	_, err := p.client.SetPushToken(ctx, &profilev1.SetPushTokenRequest{UserId: userID, Token: token})
	return err
}

func (p *grpcProvider) Invalidate(ctx context.Context, userID string) error {
	_, err := p.client.InvalidatePushToken(ctx, &profilev1.InvalidatePushTokenRequest{UserId: userID})
	return err
}
