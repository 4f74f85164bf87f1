package pyinstall

import (
	"context"
	"testing"
)

func TestFake_AddListRemove(t *testing.T) {
	ctx := context.Background()
	f := NewFake()

	if err := f.Add(ctx, "ultralytics>=8", "main"); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if err := f.Add(ctx, "opencv-python", "main"); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if err := f.Add(ctx, "pytest", "dev"); err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	all, err := f.List(ctx, "")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("List() = %+v, want 3 packages", all)
	}

	main, err := f.List(ctx, "main")
	if err != nil {
		t.Fatalf("List(main) error = %v", err)
	}
	if len(main) != 2 {
		t.Errorf("List(main) = %+v, want 2", main)
	}

	if err := f.Remove(ctx, "opencv-python", "main"); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	main, err = f.List(ctx, "main")
	if err != nil {
		t.Fatalf("List(main) error = %v", err)
	}
	if len(main) != 1 || main[0].Specifier != "ultralytics>=8" {
		t.Errorf("List(main) after remove = %+v", main)
	}
}

func TestFake_HasUncommittedChangesTracksAddAndLock(t *testing.T) {
	ctx := context.Background()
	f := NewFake()

	dirty, err := f.HasUncommittedChanges(ctx)
	if err != nil {
		t.Fatalf("HasUncommittedChanges() error = %v", err)
	}
	if dirty {
		t.Errorf("HasUncommittedChanges() = true on a fresh installer")
	}

	if err := f.Add(ctx, "numpy", "main"); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	dirty, err = f.HasUncommittedChanges(ctx)
	if err != nil {
		t.Fatalf("HasUncommittedChanges() error = %v", err)
	}
	if !dirty {
		t.Errorf("HasUncommittedChanges() = false after Add()")
	}

	if err := f.Lock(ctx); err != nil {
		t.Fatalf("Lock() error = %v", err)
	}
	dirty, err = f.HasUncommittedChanges(ctx)
	if err != nil {
		t.Fatalf("HasUncommittedChanges() error = %v", err)
	}
	if dirty {
		t.Errorf("HasUncommittedChanges() = true after Lock()")
	}
}

func TestFake_SyncProjectRejectsEmptyPath(t *testing.T) {
	f := NewFake()
	if err := f.SyncProject(context.Background(), "", false); err == nil {
		t.Fatalf("SyncProject() error = nil, want validation error for empty path")
	}
}
