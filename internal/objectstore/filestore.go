// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package objectstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// FileStore is a filesystem-backed Store rooted at a base directory, with
// one subdirectory per bucket. It exists for local development and tests,
// where a production object-store client is not available.
type FileStore struct {
	root string
}

// NewFileStore roots the store at dir, creating it if necessary.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &FileStore{root: dir}, nil
}

func (f *FileStore) path(bucket, key string) string {
	return filepath.Join(f.root, bucket, filepath.FromSlash(key))
}

func (f *FileStore) Put(ctx context.Context, bucket, key string, body []byte) error {
	p := f.path(bucket, key)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("objectstore: mkdir: %w", err)
	}
	if err := os.WriteFile(p, body, 0o644); err != nil {
		return fmt.Errorf("objectstore: write: %w", err)
	}
	return nil
}

func (f *FileStore) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	return os.ReadFile(f.path(bucket, key))
}
