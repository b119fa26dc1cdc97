package proofstore

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/mmeshcher/delivery-system/internal/model"
)

func TestSaveAndOpen(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	content := []byte("fake jpeg bytes")
	name, err := store.Save(10, model.ProofKindImage, bytes.NewReader(content))
	if err != nil {
		t.Fatalf("save: %v", err)
	}

	if !strings.HasPrefix(name, "order-10-image-") {
		t.Fatalf("unexpected file name: %s", name)
	}

	rc, err := store.Open(name)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer rc.Close()

	got, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Fatalf("content = %q, want %q", got, content)
	}
}

func TestOpen_NotFound(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	_, err = store.Open("order-1-image-missing")
	if !errors.Is(err, ErrProofNotFound) {
		t.Fatalf("expected ErrProofNotFound, got %v", err)
	}
}

func TestOpen_RejectsPathTraversal(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	_, err = store.Open("../outside")
	if !errors.Is(err, ErrProofNotFound) {
		t.Fatalf("expected ErrProofNotFound, got %v", err)
	}
}

func TestRemove(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	name, err := store.Save(5, model.ProofKindSignature, strings.NewReader("signature"))
	if err != nil {
		t.Fatalf("save: %v", err)
	}

	if err := store.Remove(name); err != nil {
		t.Fatalf("remove: %v", err)
	}

	if _, err := store.Open(name); !errors.Is(err, ErrProofNotFound) {
		t.Fatalf("expected ErrProofNotFound after remove, got %v", err)
	}

	// Повторное удаление не должно быть ошибкой.
	if err := store.Remove(name); err != nil {
		t.Fatalf("second remove: %v", err)
	}
}
