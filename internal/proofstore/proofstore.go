// Package proofstore сохраняет файлы подтверждения доставки на диске.
package proofstore

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/mmeshcher/delivery-system/internal/model"
)

// ErrProofNotFound возвращается, если файл подтверждения отсутствует.
var ErrProofNotFound = errors.New("proof not found")

// Store хранит бинарные подтверждения доставки в указанной директории.
// Имена файлов генерируются случайно, в БД сохраняется относительный путь.
type Store struct {
	dir string
}

// NewStore создаёт хранилище подтверждений в указанной директории.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create proof dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Save записывает содержимое подтверждения в новый файл и возвращает его относительный путь.
func (s *Store) Save(orderID int64, kind model.ProofKind, src io.Reader) (string, error) {
	name := fmt.Sprintf("order-%d-%s-%s", orderID, kind, uuid.NewString())
	path := filepath.Join(s.dir, name)

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create proof file: %w", err)
	}

	if _, err := io.Copy(f, src); err != nil {
		f.Close()
		os.Remove(path)
		return "", fmt.Errorf("write proof file: %w", err)
	}

	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("close proof file: %w", err)
	}

	return name, nil
}

// Open открывает сохранённое подтверждение для чтения.
func (s *Store) Open(name string) (io.ReadCloser, error) {
	// Путь из БД не должен выходить за пределы директории хранилища.
	if strings.Contains(name, "..") || strings.ContainsRune(name, os.PathSeparator) {
		return nil, ErrProofNotFound
	}

	f, err := os.Open(filepath.Join(s.dir, name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrProofNotFound
		}
		return nil, fmt.Errorf("open proof file: %w", err)
	}
	return f, nil
}

// Remove удаляет файл подтверждения. Отсутствие файла не считается ошибкой.
func (s *Store) Remove(name string) error {
	if strings.Contains(name, "..") || strings.ContainsRune(name, os.PathSeparator) {
		return nil
	}

	err := os.Remove(filepath.Join(s.dir, name))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove proof file: %w", err)
	}
	return nil
}
