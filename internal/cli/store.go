package cli

import (
	"os"

	"github.com/korero-labs/agstore/internal/store"
	"github.com/korero-labs/agstore/internal/validate"
)

// openStore opens the configured database with the standard validator and
// normalizer wired in. When create is false a missing database file is a
// command error rather than an implicit empty store.
func openStore(opts *RootOptions, create bool) (*store.Store, error) {
	if opts.Database == "" {
		return nil, WrapExitError(ExitCommandError, "no database configured", nil)
	}
	if !create {
		if _, err := os.Stat(opts.Database); err != nil {
			return nil, WrapExitError(ExitCommandError, "database not found", err)
		}
	}

	storeOpts := []store.Option{
		store.WithValidator(validate.New()),
		store.WithNormalizer(validate.NewNormalizer()),
	}
	if opts.FilesRoot != "" {
		storeOpts = append(storeOpts, store.WithFilesRoot(opts.FilesRoot))
	}
	s, err := store.Open(opts.Database, storeOpts...)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	return s, nil
}

// access builds the caller identity for store operations.
func (o *RootOptions) access() store.AccessContext {
	return store.AccessContext{User: o.User}
}
