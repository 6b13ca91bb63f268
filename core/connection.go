// Package core provides the fundamental building blocks of the mongorito ODM.
// This file defines connections: the driver registry, the process default
// connection and the memoized collection handles.
package core

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/waigo/mongorito/internal/ctxlog"
)

var (
	driversMutex sync.RWMutex
	driverList   = make(map[string]Opener)

	defaultMutex      sync.RWMutex
	defaultConnection *Connection

	handleMutex sync.Mutex
	handleList  = make(map[handleKey]Collection)
)

type handleKey struct {
	url  string
	name string
}

// RegisterDriver makes a driver available for URLs with the given scheme.
// Drivers call it from their init function; registering a scheme twice
// panics.
func RegisterDriver(scheme string, open Opener) {
	driversMutex.Lock()
	defer driversMutex.Unlock()
	scheme = strings.ToLower(scheme)
	if open == nil {
		panic("mongorito: RegisterDriver opener is nil")
	}
	if _, dup := driverList[scheme]; dup {
		panic("mongorito: RegisterDriver called twice for scheme " + scheme)
	}
	driverList[scheme] = open
}

// Drivers returns the registered URL schemes in sorted order.
func Drivers() []string {
	driversMutex.RLock()
	defer driversMutex.RUnlock()
	schemes := make([]string, 0, len(driverList))
	for s := range driverList {
		schemes = append(schemes, s)
	}
	sort.Strings(schemes)
	return schemes
}

// Connection is an open store together with the URL it was opened from.
type Connection struct {
	url    string
	driver Driver
}

// NewConnection wraps an already open driver. It does not touch the process
// default; see SetDefault.
func NewConnection(url string, driver Driver) *Connection {
	return &Connection{url: url, driver: driver}
}

// Connect opens the first of urls whose driver opens and answers a ping.
// The first connection established in the process becomes the default used
// by models without a connection of their own.
//
// Example:
//
//	conn, err := core.Connect(ctx, "mongodb://primary/blog", "mongodb://fallback/blog")
func Connect(ctx context.Context, urls ...string) (*Connection, error) {
	if len(urls) == 0 {
		return nil, fmt.Errorf("%w: no store url", ErrInvalidArgument)
	}
	logger := ctxlog.FromContext(ctx)

	var errs []error
	for _, url := range urls {
		scheme, _, ok := strings.Cut(url, "://")
		if !ok {
			errs = append(errs, fmt.Errorf("%w: %q", ErrUnknownScheme, url))
			continue
		}
		driversMutex.RLock()
		open, ok := driverList[strings.ToLower(scheme)]
		driversMutex.RUnlock()
		if !ok {
			errs = append(errs, fmt.Errorf("%w: %q", ErrUnknownScheme, scheme))
			continue
		}

		driver, err := open(ctx, url)
		if err != nil {
			logger.Warn("store open failed", "scheme", scheme, "error", err)
			errs = append(errs, err)
			continue
		}
		if err := driver.Ping(ctx); err != nil {
			logger.Warn("store ping failed", "scheme", scheme, "error", err)
			_ = driver.Close(ctx)
			errs = append(errs, err)
			continue
		}

		conn := NewConnection(url, driver)
		defaultMutex.Lock()
		if defaultConnection == nil {
			defaultConnection = conn
		}
		defaultMutex.Unlock()
		logger.Info("store connected", "scheme", scheme)
		return conn, nil
	}
	return nil, errors.Join(errs...)
}

// Default returns the process default connection, or nil.
func Default() *Connection {
	defaultMutex.RLock()
	defer defaultMutex.RUnlock()
	return defaultConnection
}

// SetDefault replaces the process default connection. A nil conn clears it.
func SetDefault(conn *Connection) {
	defaultMutex.Lock()
	defer defaultMutex.Unlock()
	defaultConnection = conn
}

// URL returns the URL the connection was opened from.
func (c *Connection) URL() string { return c.url }

// Ping checks that the store is reachable.
func (c *Connection) Ping(ctx context.Context) error {
	return c.driver.Ping(ctx)
}

// Collection returns the handle for the named collection. Handles are
// memoized per (URL, name) for the life of the process, so resolving the
// same name twice yields the identical handle.
func (c *Connection) Collection(name string) Collection {
	key := handleKey{url: c.url, name: name}

	handleMutex.Lock()
	defer handleMutex.Unlock()
	if h, ok := handleList[key]; ok {
		return h
	}
	h := &handle{raw: c.driver.Collection(name)}
	handleList[key] = h
	return h
}

// Close releases the driver and forgets the handles resolved through the
// connection. Closing the default connection clears the default.
func (c *Connection) Close(ctx context.Context) error {
	handleMutex.Lock()
	for key := range handleList {
		if key.url == c.url {
			delete(handleList, key)
		}
	}
	handleMutex.Unlock()

	defaultMutex.Lock()
	if defaultConnection == c {
		defaultConnection = nil
	}
	defaultMutex.Unlock()

	return c.driver.Close(ctx)
}

// handle routes every collection call through the middleware pipeline.
type handle struct {
	raw Collection
}

// OperationPayload describes a storage call to middlewares.
type OperationPayload struct {
	Collection string
	ID         any
	Attributes Attributes
	Criteria   Criteria
	Modifiers  *Modifiers
	Keys       []SortField
}

func (h *handle) Name() string { return h.raw.Name() }

func (h *handle) Insert(ctx context.Context, attrs Attributes) (Attributes, error) {
	var out Attributes
	err := dispatchOperation(ctx, OperationInsert, &OperationPayload{Collection: h.Name(), Attributes: attrs}, func() error {
		var err error
		out, err = h.raw.Insert(ctx, attrs)
		return err
	})
	return out, err
}

func (h *handle) UpdateByID(ctx context.Context, id any, attrs Attributes) (Result, error) {
	var out Result
	err := dispatchOperation(ctx, OperationUpdate, &OperationPayload{Collection: h.Name(), ID: id, Attributes: attrs}, func() error {
		var err error
		out, err = h.raw.UpdateByID(ctx, id, attrs)
		return err
	})
	return out, err
}

func (h *handle) Remove(ctx context.Context, filter Criteria) (Result, error) {
	var out Result
	err := dispatchOperation(ctx, OperationRemove, &OperationPayload{Collection: h.Name(), Criteria: filter}, func() error {
		var err error
		out, err = h.raw.Remove(ctx, filter)
		return err
	})
	return out, err
}

func (h *handle) Find(ctx context.Context, criteria Criteria, modifiers Modifiers) ([]Attributes, error) {
	var out []Attributes
	err := dispatchOperation(ctx, OperationFind, &OperationPayload{Collection: h.Name(), Criteria: criteria, Modifiers: &modifiers}, func() error {
		var err error
		out, err = h.raw.Find(ctx, criteria, modifiers)
		return err
	})
	return out, err
}

func (h *handle) Count(ctx context.Context, criteria Criteria) (int64, error) {
	var out int64
	err := dispatchOperation(ctx, OperationCount, &OperationPayload{Collection: h.Name(), Criteria: criteria}, func() error {
		var err error
		out, err = h.raw.Count(ctx, criteria)
		return err
	})
	return out, err
}

func (h *handle) Index(ctx context.Context, keys []SortField, options IndexOptions) (string, error) {
	var out string
	err := dispatchOperation(ctx, OperationIndex, &OperationPayload{Collection: h.Name(), Keys: keys}, func() error {
		var err error
		out, err = h.raw.Index(ctx, keys, options)
		return err
	})
	return out, err
}

func (h *handle) Indexes(ctx context.Context) ([]IndexInfo, error) {
	return h.raw.Indexes(ctx)
}

func (h *handle) ID(value any) (any, error) {
	return h.raw.ID(value)
}
