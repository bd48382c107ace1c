package vectorstore

import (
	"errors"
	"fmt"
	"strings"

	"github.com/surrealdb/surrealdb.go"
)

// Sentinel errors for store operations. Use errors.Is() to check for
// these in calling code.
var (
	// ErrSchemaIncompatible indicates the existing collection schema
	// cannot accept the declared field set and no rebuild was
	// requested. Fatal: the run must stop before any record is
	// written.
	ErrSchemaIncompatible = errors.New("collection schema incompatible")

	// ErrCollectionMissing indicates an operation on a collection that
	// has not been created.
	ErrCollectionMissing = errors.New("collection does not exist")

	// ErrTransactionConflict indicates concurrent writes touched the
	// same records. Callers should retry or skip.
	ErrTransactionConflict = errors.New("transaction conflict")
)

// wrapQueryError maps known SurrealDB query errors onto sentinels.
func wrapQueryError(err error) error {
	if err == nil {
		return nil
	}

	var queryErr *surrealdb.QueryError
	if errors.As(err, &queryErr) {
		msg := queryErr.Message
		if strings.Contains(msg, "Transaction conflict") {
			return fmt.Errorf("%w: %s", ErrTransactionConflict, msg)
		}
		if strings.Contains(msg, "does not exist") {
			return fmt.Errorf("%w: %s", ErrCollectionMissing, msg)
		}
	}
	return err
}
