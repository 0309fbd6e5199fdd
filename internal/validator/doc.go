// Package validator defines the core types, capability interfaces, and error
// taxonomy shared by the credential pool, the dispatch engine, fetchers,
// classifiers, and result sinks.
package validator
