package catalog

import "errors"

// Sentinel catalog errors. Callers match with errors.Is.
var (
	// ErrDuplicateSerial indicates a DataSet with the serial already exists
	// and overwrite was not requested.
	ErrDuplicateSerial = errors.New("dataset serial already exists")

	// ErrDatasetNotFound indicates no DataSet with the requested serial.
	ErrDatasetNotFound = errors.New("dataset not found")

	// ErrNestedScope indicates a session scope opened inside another scope.
	ErrNestedScope = errors.New("nested session scope is not supported")

	// ErrInconsistentCatalog indicates catalog rows that violate the schema
	// invariants at read time. Fatal for the request that observed it.
	ErrInconsistentCatalog = errors.New("inconsistent catalog state")

	// ErrSchemaViolation indicates metadata that fails structural validation
	// before insert.
	ErrSchemaViolation = errors.New("metadata violates schema")
)
