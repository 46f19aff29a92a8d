package postgres

import "spotlx/internal/storage"

func init() {
	// registers the backend factory
	storage.Register("postgres", New)
}
