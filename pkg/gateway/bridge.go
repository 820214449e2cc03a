package gateway

import (
	"context"

	"github.com/jeffersonwarrior/aimux-sub000/pkg/providers"
	"github.com/jeffersonwarrior/aimux-sub000/pkg/routing"
)

// Bridge performs the outbound call to one provider. A non-nil error or a
// result with Success false is a failed dispatch.
type Bridge interface {
	Dispatch(ctx context.Context, e providers.Entry, req *routing.Request) (providers.DispatchResult, error)
}

// BridgeFunc adapts a function to the Bridge interface.
type BridgeFunc func(ctx context.Context, e providers.Entry, req *routing.Request) (providers.DispatchResult, error)

// Dispatch calls f.
func (f BridgeFunc) Dispatch(ctx context.Context, e providers.Entry, req *routing.Request) (providers.DispatchResult, error) {
	return f(ctx, e, req)
}

// Prettifier post-processes successful responses. It receives a copy of
// the response; when it fails the raw response is returned unchanged.
type Prettifier interface {
	Apply(ctx context.Context, providerName string, req *routing.Request, resp *routing.Response) (*routing.Response, error)
}

// PrettifierFunc adapts a function to the Prettifier interface.
type PrettifierFunc func(ctx context.Context, providerName string, req *routing.Request, resp *routing.Response) (*routing.Response, error)

// Apply calls f.
func (f PrettifierFunc) Apply(ctx context.Context, providerName string, req *routing.Request, resp *routing.Response) (*routing.Response, error) {
	return f(ctx, providerName, req, resp)
}
