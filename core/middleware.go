// Package core provides the fundamental building blocks of the mongorito ODM.
// This file defines the middleware system, which allows cross-cutting concerns
// (logging, metrics, auditing, etc.) to be applied to storage operations.
package core

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/waigo/mongorito/internal/ctxlog"
)

// Operation represents the type of storage call being executed.
//
// It is used within middlewares to distinguish between inserts, updates,
// removals, reads and index management.
type Operation string

const (
	// OperationInsert corresponds to an insert (create) call.
	OperationInsert Operation = "insert"
	// OperationUpdate corresponds to an update-by-id call.
	OperationUpdate Operation = "update"
	// OperationRemove corresponds to a remove call.
	OperationRemove Operation = "remove"
	// OperationFind corresponds to a find call.
	OperationFind Operation = "find"
	// OperationCount corresponds to a count call.
	OperationCount Operation = "count"
	// OperationIndex corresponds to an index creation.
	OperationIndex Operation = "index"
)

// Handler is the function signature executed by the storage pipeline.
//
// It receives a context, the operation type, and the operation payload
// (an *OperationPayload). Handlers are composed by middlewares.
type Handler func(ctx context.Context, op Operation, payload any) error

// Middleware is a function that wraps a Handler with additional logic.
//
// Middlewares are chained globally and executed for every storage call.
// They follow the decorator pattern.
type Middleware func(next Handler) Handler

var (
	middlewareMutex      sync.RWMutex
	globalMiddlewareList []Middleware
)

// Use registers a new global middleware, applied to all storage calls.
//
// The first registered middleware is the outermost wrapper: it sees the
// call first and the result last.
func Use(mw Middleware) {
	middlewareMutex.Lock()
	defer middlewareMutex.Unlock()
	globalMiddlewareList = append(globalMiddlewareList, mw)
}

// runMiddlewares applies the chain of middlewares to the final handler.
func runMiddlewares(final Handler) Handler {
	middlewareMutex.RLock()
	defer middlewareMutex.RUnlock()
	h := final
	// wrap from the inside out so the first registered ends up outermost
	for i := len(globalMiddlewareList) - 1; i >= 0; i-- {
		h = globalMiddlewareList[i](h)
	}
	return h
}

// dispatchOperation executes a storage call through the global middleware
// chain. exec holds the call itself and runs at most once.
func dispatchOperation(ctx context.Context, op Operation, payload any, exec func() error) error {
	handler := runMiddlewares(func(ctx context.Context, op Operation, payload any) error {
		return exec()
	})
	return handler(ctx, op, payload)
}

// LoggingMiddleware logs every storage call with its duration through the
// logger carried by the context.
//
// Example:
//
//	core.Use(core.LoggingMiddleware(slog.LevelDebug))
func LoggingMiddleware(level slog.Level) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, op Operation, payload any) error {
			logger := ctxlog.FromContext(ctx)
			attrs := []any{"op", string(op)}
			if p, ok := payload.(*OperationPayload); ok {
				attrs = append(attrs, "collection", p.Collection)
			}

			start := time.Now()
			err := next(ctx, op, payload)
			attrs = append(attrs, "took", time.Since(start))
			if err != nil {
				logger.Error("storage call failed", append(attrs, "error", err)...)
				return err
			}
			logger.Log(ctx, level, "storage call", attrs...)
			return nil
		}
	}
}
