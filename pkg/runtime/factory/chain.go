package factory

import (
	"context"
	"strings"
)

type frameKey struct{}

// frame is the call-chain position carried through context.
type frame struct {
	chainID  string
	parentID string
}

// WithChain pins ctx to an existing call chain. Invocations that share a chain
// share recursion accounting; a context without a chain starts a new one.
func WithChain(ctx context.Context, chainID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	chainID = strings.TrimSpace(chainID)
	if chainID == "" {
		return ctx
	}
	parent := ""
	if f, ok := ctx.Value(frameKey{}).(frame); ok {
		parent = f.parentID
	}
	return context.WithValue(ctx, frameKey{}, frame{chainID: chainID, parentID: parent})
}

// ChainID returns the chain carried by ctx, if any.
func ChainID(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	f, ok := ctx.Value(frameKey{}).(frame)
	if !ok || f.chainID == "" {
		return "", false
	}
	return f.chainID, true
}

// ParentID returns the invocation that ctx was derived from, if any.
func ParentID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	f, _ := ctx.Value(frameKey{}).(frame)
	return f.parentID
}

func withFrame(ctx context.Context, chainID, invocationID string) context.Context {
	return context.WithValue(ctx, frameKey{}, frame{chainID: chainID, parentID: invocationID})
}
