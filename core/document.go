// Package core provides the fundamental building blocks of the mongorito ODM.
// This file defines the Document, a model instance, and its lifecycle:
// save, create, update and remove, each wrapped by its hook chains.
package core

import (
	"context"
	"fmt"
	"time"

	"github.com/waigo/mongorito/internal/ctxlog"
)

// Timestamp fields stamped by the lifecycle, in Unix seconds.
const (
	CreatedAtField = "created_at"
	UpdatedAtField = "updated_at"
)

// IDField is the identifier attribute assigned by the store on create.
const IDField = "_id"

// now is the clock used for timestamps.
var now = time.Now

// Document is one instance of a model: its attributes, the changes made to
// them, and its private hook registry.
//
// A Document is not safe for concurrent use; in particular concurrent Save
// calls on one instance race on its attributes and _id.
type Document struct {
	model      *Model
	attributes Attributes
	changed    Attributes
	previous   Attributes
	hooks      *HookRegistry
}

// Model returns the model the document belongs to.
func (d *Document) Model() *Model { return d.model }

// ID returns the _id attribute, or nil before the first create.
func (d *Document) ID() any { return d.Get(IDField) }

// IsNew reports whether the document has no _id yet.
func (d *Document) IsNew() bool { return d.ID() == nil }

// Save persists the document: it fills defaults, flattens references, runs
// the save hooks, and creates or updates depending on whether the document
// had an _id when Save was called.
func (d *Document) Save(ctx context.Context) error {
	exists := !d.IsNew()

	d.SetDefaults()
	if err := d.flattenReferences(); err != nil {
		return err
	}
	if err := d.RunHooks(ctx, PhaseBefore, ActionSave); err != nil {
		return err
	}

	var err error
	if exists {
		err = d.Update(ctx)
	} else {
		err = d.Create(ctx)
	}
	if err != nil {
		return err
	}
	return d.RunHooks(ctx, PhaseAfter, ActionSave)
}

// Create stamps created_at and updated_at, runs the create hooks around the
// insert, and records the _id assigned by the store.
func (d *Document) Create(ctx context.Context) error {
	coll, err := d.model.Collection()
	if err != nil {
		return err
	}

	ts := now().Unix()
	d.Set(CreatedAtField, ts)
	d.Set(UpdatedAtField, ts)

	if err := d.RunHooks(ctx, PhaseBefore, ActionCreate); err != nil {
		return err
	}
	inserted, err := coll.Insert(ctx, d.attributes)
	if err != nil {
		return err
	}
	id := inserted[IDField]
	if id == nil {
		return fmt.Errorf("mongorito: insert into %q returned no _id", coll.Name())
	}
	d.Set(IDField, id)
	if err := d.RunHooks(ctx, PhaseAfter, ActionCreate); err != nil {
		return err
	}

	ctxlog.FromContext(ctx).Debug("document created", "collection", coll.Name(), "id", id)
	Emit(EventInsert, d.payload(coll))
	return nil
}

// Update stamps updated_at and runs the update hooks around the replacement
// of the stored document by the current attributes.
func (d *Document) Update(ctx context.Context) error {
	coll, err := d.model.Collection()
	if err != nil {
		return err
	}
	if d.IsNew() {
		return fmt.Errorf("%w: update of a document without _id", ErrInvalidArgument)
	}

	d.Set(UpdatedAtField, now().Unix())

	if err := d.RunHooks(ctx, PhaseBefore, ActionUpdate); err != nil {
		return err
	}
	if _, err := coll.UpdateByID(ctx, d.ID(), d.attributes); err != nil {
		return err
	}
	if err := d.RunHooks(ctx, PhaseAfter, ActionUpdate); err != nil {
		return err
	}

	ctxlog.FromContext(ctx).Debug("document updated", "collection", coll.Name(), "id", d.ID())
	Emit(EventUpdate, d.payload(coll))
	return nil
}

// Remove runs the remove hooks around the deletion of the stored document.
func (d *Document) Remove(ctx context.Context) error {
	coll, err := d.model.Collection()
	if err != nil {
		return err
	}
	if d.IsNew() {
		return fmt.Errorf("%w: remove of a document without _id", ErrInvalidArgument)
	}

	if err := d.RunHooks(ctx, PhaseBefore, ActionRemove); err != nil {
		return err
	}
	if _, err := coll.Remove(ctx, Criteria{IDField: d.ID()}); err != nil {
		return err
	}
	if err := d.RunHooks(ctx, PhaseAfter, ActionRemove); err != nil {
		return err
	}

	ctxlog.FromContext(ctx).Debug("document removed", "collection", coll.Name(), "id", d.ID())
	Emit(EventRemove, d.payload(coll))
	return nil
}

func (d *Document) payload(coll Collection) DocumentPayload {
	return DocumentPayload{Collection: coll.Name(), ID: d.ID(), Attributes: d.attributes.Clone()}
}
